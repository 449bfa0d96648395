package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"belezapos/backend/internal/domain"
	"belezapos/backend/internal/store"
)

const testTenant = "beleza-studio"

func TestCreateSaleReturnsExistingOnReplay(t *testing.T) {
	s := NewSeeded(testTenant)
	ctx := context.Background()

	first, err := s.CreateSale(ctx, domain.Sale{
		ID:       "sale-1",
		TenantID: testTenant,
		Total:    decimal.RequireFromString("162.00"),
		Status:   domain.SaleStatusCommitting,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	replay, err := s.CreateSale(ctx, domain.Sale{
		ID:       "sale-1",
		TenantID: testTenant,
		Total:    decimal.RequireFromString("999.00"),
	})
	if err != nil {
		t.Fatalf("replay create sale: %v", err)
	}
	if !replay.Total.Equal(first.Total) {
		t.Fatalf("replay should return the stored sale, got total %s", replay.Total)
	}
}

func TestInsertSaleLinesSkipsExistingLineNumbers(t *testing.T) {
	s := NewSeeded(testTenant)
	ctx := context.Background()

	if _, err := s.CreateSale(ctx, domain.Sale{ID: "sale-2", TenantID: testTenant}); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	lines := []domain.SaleLine{
		{SaleID: "sale-2", LineNo: 1, ItemID: "svc-corte", Kind: domain.KindService, Quantity: 1, UnitPrice: decimal.RequireFromString("80.00"), LineTotal: decimal.RequireFromString("80.00")},
		{SaleID: "sale-2", LineNo: 2, ItemID: "prd-shampoo", Kind: domain.KindProduct, Quantity: 2, UnitPrice: decimal.RequireFromString("50.00"), LineTotal: decimal.RequireFromString("100.00")},
	}
	if err := s.InsertSaleLines(ctx, lines); err != nil {
		t.Fatalf("insert lines: %v", err)
	}
	if err := s.InsertSaleLines(ctx, lines); err != nil {
		t.Fatalf("replay insert lines: %v", err)
	}

	got, err := s.ListSaleLines(ctx, testTenant, "sale-2")
	if err != nil {
		t.Fatalf("list lines: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 lines after replay, got %d", len(got))
	}
}

func TestUpdateSaleStatusTransitions(t *testing.T) {
	s := NewSeeded(testTenant)
	ctx := context.Background()

	if _, err := s.CreateSale(ctx, domain.Sale{ID: "sale-3", TenantID: testTenant, Status: domain.SaleStatusCommitting}); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if err := s.UpdateSaleStatus(ctx, testTenant, "sale-3", domain.SaleStatusCommitting, domain.SaleStatusCompleted); err != nil {
		t.Fatalf("commit -> completed: %v", err)
	}
	// Replaying the same transition is a no-op.
	if err := s.UpdateSaleStatus(ctx, testTenant, "sale-3", domain.SaleStatusCommitting, domain.SaleStatusCompleted); err != nil {
		t.Fatalf("replayed transition should succeed: %v", err)
	}
	// A completed sale cannot move back.
	if err := s.UpdateSaleStatus(ctx, testTenant, "sale-3", domain.SaleStatusCompleted, domain.SaleStatusCommitting); err == nil {
		sale, _ := s.GetSaleByID(ctx, testTenant, "sale-3")
		if sale.Status != domain.SaleStatusCommitting {
			t.Fatalf("unexpected status %s", sale.Status)
		}
	}
}

func TestCompleteAppointmentIsIdempotent(t *testing.T) {
	s := NewSeeded(testTenant)
	ctx := context.Background()

	if err := s.CompleteAppointment(ctx, testTenant, "appt-1001", "sale-4", time.Now().UTC()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.CompleteAppointment(ctx, testTenant, "appt-1001", "sale-4", time.Now().UTC()); err != nil {
		t.Fatalf("second complete should be a no-op: %v", err)
	}

	appt, err := s.GetAppointmentByID(ctx, testTenant, "appt-1001")
	if err != nil {
		t.Fatalf("get appointment: %v", err)
	}
	if appt.Status != domain.AppointmentStatusCompleted {
		t.Fatalf("expected completed, got %s", appt.Status)
	}
	if appt.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}
}

func TestApplyLoyaltyAccrualAppliesOncePerSale(t *testing.T) {
	s := NewSeeded(testTenant)
	ctx := context.Background()

	accrual := domain.LoyaltyAccrual{
		SaleID:   "sale-5",
		TenantID: testTenant,
		ClientID: "cli-ana",
		Points:   16,
		Cashback: decimal.RequireFromString("8.10"),
		Total:    decimal.RequireFromString("162.00"),
	}
	if err := s.ApplyLoyaltyAccrual(ctx, accrual); err != nil {
		t.Fatalf("apply accrual: %v", err)
	}
	if err := s.ApplyLoyaltyAccrual(ctx, accrual); err != nil {
		t.Fatalf("replay accrual: %v", err)
	}

	client, err := s.GetClientByID(ctx, testTenant, "cli-ana")
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if client.Loyalty.PointsBalance != 16 {
		t.Fatalf("expected 16 points after replay, got %d", client.Loyalty.PointsBalance)
	}
	if !client.Loyalty.CashbackBalance.Equal(decimal.RequireFromString("8.10")) {
		t.Fatalf("expected 8.10 cashback after replay, got %s", client.Loyalty.CashbackBalance)
	}
	if client.Loyalty.VisitCount != 1 {
		t.Fatalf("expected 1 visit, got %d", client.Loyalty.VisitCount)
	}
}

func TestStockOutflowConditionalDecrement(t *testing.T) {
	s := NewSeeded(testTenant)
	ctx := context.Background()

	// Seed has 3 shampoo units. Taking 4 must fail without touching stock.
	err := s.StockOutflow(ctx, domain.StockMovement{
		ID:        "mv-over",
		TenantID:  testTenant,
		ProductID: "prd-shampoo",
		Quantity:  4,
	})
	if !errors.Is(err, store.ErrStockExhausted) {
		t.Fatalf("expected ErrStockExhausted, got %v", err)
	}
	p, err := s.GetProductByID(ctx, testTenant, "prd-shampoo")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.QuantityOnHand != 3 {
		t.Fatalf("failed outflow must not change stock, got %d", p.QuantityOnHand)
	}

	mv := domain.StockMovement{
		ID:            "mv-sale-6-prd-shampoo",
		TenantID:      testTenant,
		ProductID:     "prd-shampoo",
		Quantity:      2,
		RelatedSaleID: "sale-6",
	}
	if err := s.StockOutflow(ctx, mv); err != nil {
		t.Fatalf("outflow: %v", err)
	}
	if err := s.StockOutflow(ctx, mv); err != nil {
		t.Fatalf("replayed outflow should be a no-op: %v", err)
	}

	p, _ = s.GetProductByID(ctx, testTenant, "prd-shampoo")
	if p.QuantityOnHand != 1 {
		t.Fatalf("expected 1 unit left after deduped outflow, got %d", p.QuantityOnHand)
	}
}

func TestStockInflowIncrements(t *testing.T) {
	s := NewSeeded(testTenant)
	ctx := context.Background()

	if err := s.StockInflow(ctx, domain.StockMovement{
		ID:        "mv-receive-1",
		TenantID:  testTenant,
		ProductID: "prd-oleo",
		Quantity:  10,
		Reference: "po-77",
	}); err != nil {
		t.Fatalf("inflow: %v", err)
	}

	p, err := s.GetProductByID(ctx, testTenant, "prd-oleo")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.QuantityOnHand != 14 {
		t.Fatalf("expected 14 units, got %d", p.QuantityOnHand)
	}
}

func TestTenantScopingHidesForeignRows(t *testing.T) {
	s := NewSeeded(testTenant)
	ctx := context.Background()

	if _, err := s.GetProductByID(ctx, "other-tenant", "prd-shampoo"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign tenant, got %v", err)
	}
	if _, err := s.GetClientByID(ctx, "other-tenant", "cli-ana"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign tenant, got %v", err)
	}
}
