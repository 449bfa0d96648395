package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"belezapos/backend/internal/catalog"
	"belezapos/backend/internal/domain"
	"belezapos/backend/internal/ledger"
	"belezapos/backend/internal/store"
	"belezapos/backend/internal/store/memory"
)

const testTenant = "beleza-studio"

func newTestEngine(repo store.Repository) *Engine {
	reader := catalog.NewReader(repo, nil, time.Second)
	return NewEngine(repo, reader, ledger.New(repo))
}

// buildSampleCart opens a session holding the seeded appointment (Corte
// Feminino, 80.00, client cli-ana) plus two shampoo units (100.00) with a
// 10% discount: subtotal 180.00, discount 18.00, total 162.00.
func buildSampleCart(t *testing.T, e *Engine) domain.SessionView {
	t.Helper()
	ctx := context.Background()

	view, err := e.CreateSession(ctx, testTenant, "terminal-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := e.AddItem(ctx, testTenant, view.ID, domain.AddItemRequest{Kind: domain.KindAppointmentService, ItemID: "appt-1001"}); err != nil {
		t.Fatalf("add appointment: %v", err)
	}
	view, err = e.AddItem(ctx, testTenant, view.ID, domain.AddItemRequest{Kind: domain.KindProduct, ItemID: "prd-shampoo", Quantity: 2})
	if err != nil {
		t.Fatalf("add product: %v", err)
	}
	view, err = e.SetDiscount(ctx, testTenant, view.ID, domain.DiscountPercentage, "10")
	if err != nil {
		t.Fatalf("set discount: %v", err)
	}
	return view
}

func TestFinalizeFullFlow(t *testing.T) {
	repo := memory.NewSeeded(testTenant)
	e := newTestEngine(repo)
	ctx := context.Background()

	view := buildSampleCart(t, e)

	if !view.Subtotal.Equal(decimal.RequireFromString("180.00")) {
		t.Fatalf("subtotal = %s", view.Subtotal)
	}
	if !view.DiscountAmount.Equal(decimal.RequireFromString("18.00")) {
		t.Fatalf("discount = %s", view.DiscountAmount)
	}
	if !view.Total.Equal(decimal.RequireFromString("162.00")) {
		t.Fatalf("total = %s", view.Total)
	}
	if view.ClientID != "cli-ana" {
		t.Fatalf("appointment line should pin the client, got %q", view.ClientID)
	}

	resp, err := e.Finalize(ctx, testTenant, view.ID, domain.FinalizeRequest{PaymentMethod: "pix", DisplayedTotal: "162.00"})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if resp.Sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("sale status = %s", resp.Sale.Status)
	}
	if resp.Sale.PointsAccrued != 16 {
		t.Fatalf("points = %d", resp.Sale.PointsAccrued)
	}
	if !resp.Sale.CashbackAccrued.Equal(decimal.RequireFromString("8.10")) {
		t.Fatalf("cashback = %s", resp.Sale.CashbackAccrued)
	}
	if len(resp.Lines) != 2 {
		t.Fatalf("expected 2 sale lines, got %d", len(resp.Lines))
	}

	product, err := repo.GetProductByID(ctx, testTenant, "prd-shampoo")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.QuantityOnHand != 1 {
		t.Fatalf("stock after sale = %d", product.QuantityOnHand)
	}

	appt, err := repo.GetAppointmentByID(ctx, testTenant, "appt-1001")
	if err != nil {
		t.Fatalf("get appointment: %v", err)
	}
	if appt.Status != domain.AppointmentStatusCompleted {
		t.Fatalf("appointment status = %s", appt.Status)
	}

	client, err := repo.GetClientByID(ctx, testTenant, "cli-ana")
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if client.Loyalty.PointsBalance != 16 {
		t.Fatalf("client points = %d", client.Loyalty.PointsBalance)
	}
	if !client.Loyalty.CashbackBalance.Equal(decimal.RequireFromString("8.10")) {
		t.Fatalf("client cashback = %s", client.Loyalty.CashbackBalance)
	}
}

func TestFinalizeRepeatedConfirmIsIdempotent(t *testing.T) {
	repo := memory.NewSeeded(testTenant)
	e := newTestEngine(repo)
	ctx := context.Background()

	view := buildSampleCart(t, e)
	req := domain.FinalizeRequest{PaymentMethod: "card", DisplayedTotal: "162.00"}

	first, err := e.Finalize(ctx, testTenant, view.ID, req)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	second, err := e.Finalize(ctx, testTenant, view.ID, req)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if first.Sale.ID != second.Sale.ID {
		t.Fatalf("re-confirm created a new sale: %s vs %s", first.Sale.ID, second.Sale.ID)
	}

	product, _ := repo.GetProductByID(ctx, testTenant, "prd-shampoo")
	if product.QuantityOnHand != 1 {
		t.Fatalf("stock decremented more than once: %d", product.QuantityOnHand)
	}
	client, _ := repo.GetClientByID(ctx, testTenant, "cli-ana")
	if client.Loyalty.PointsBalance != 16 {
		t.Fatalf("loyalty accrued more than once: %d", client.Loyalty.PointsBalance)
	}
}

func TestFinalizeStaleTotalRejected(t *testing.T) {
	e := newTestEngine(memory.NewSeeded(testTenant))
	ctx := context.Background()

	view := buildSampleCart(t, e)
	_, err := e.Finalize(ctx, testTenant, view.ID, domain.FinalizeRequest{PaymentMethod: "cash", DisplayedTotal: "180.00"})
	if !errors.Is(err, ErrStaleTotalMismatch) {
		t.Fatalf("expected ErrStaleTotalMismatch, got %v", err)
	}

	// Session survives the rejection and finalizes with the right total.
	if _, err := e.Finalize(ctx, testTenant, view.ID, domain.FinalizeRequest{PaymentMethod: "cash", DisplayedTotal: "162.00"}); err != nil {
		t.Fatalf("finalize after refresh: %v", err)
	}
}

func TestFinalizeUnsupportedPaymentMethod(t *testing.T) {
	e := newTestEngine(memory.NewSeeded(testTenant))

	view := buildSampleCart(t, e)
	_, err := e.Finalize(context.Background(), testTenant, view.ID, domain.FinalizeRequest{PaymentMethod: "cheque", DisplayedTotal: "162.00"})
	if !errors.Is(err, ErrUnsupportedPaymentMethod) {
		t.Fatalf("expected ErrUnsupportedPaymentMethod, got %v", err)
	}
}

func TestFinalizeEmptyCart(t *testing.T) {
	e := newTestEngine(memory.NewSeeded(testTenant))
	ctx := context.Background()

	view, err := e.CreateSession(ctx, testTenant, "terminal-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	_, err = e.Finalize(ctx, testTenant, view.ID, domain.FinalizeRequest{PaymentMethod: "cash", DisplayedTotal: "0"})
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestAddItemSoftStockCheck(t *testing.T) {
	e := newTestEngine(memory.NewSeeded(testTenant))
	ctx := context.Background()

	view, err := e.CreateSession(ctx, testTenant, "terminal-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// Only 3 shampoo units exist.
	if _, err := e.AddItem(ctx, testTenant, view.ID, domain.AddItemRequest{Kind: domain.KindProduct, ItemID: "prd-shampoo", Quantity: 4}); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	view, err = e.AddItem(ctx, testTenant, view.ID, domain.AddItemRequest{Kind: domain.KindProduct, ItemID: "prd-shampoo", Quantity: 2})
	if err != nil {
		t.Fatalf("add within stock: %v", err)
	}

	// A rejected quantity change preserves the previous quantity.
	if _, err := e.SetQuantity(ctx, testTenant, view.ID, "prd-shampoo", domain.KindProduct, 9); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	view, err = e.Session(ctx, testTenant, view.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if view.Lines[0].Quantity != 2 {
		t.Fatalf("rejected change must not alter quantity, got %d", view.Lines[0].Quantity)
	}
}

func TestAppointmentClientPinIsFirstWriterWins(t *testing.T) {
	e := newTestEngine(memory.NewSeeded(testTenant))
	ctx := context.Background()

	view, err := e.CreateSession(ctx, testTenant, "terminal-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := e.AddItem(ctx, testTenant, view.ID, domain.AddItemRequest{Kind: domain.KindAppointmentService, ItemID: "appt-1001"}); err != nil {
		t.Fatalf("add appointment: %v", err)
	}

	if _, err := e.SetClient(ctx, testTenant, view.ID, "cli-carla"); !errors.Is(err, ErrClientMismatch) {
		t.Fatalf("expected ErrClientMismatch, got %v", err)
	}
	// Re-attaching the pinned client is fine.
	if _, err := e.SetClient(ctx, testTenant, view.ID, "cli-ana"); err != nil {
		t.Fatalf("same client must be accepted: %v", err)
	}
	// Adding the same appointment again is rejected.
	if _, err := e.AddItem(ctx, testTenant, view.ID, domain.AddItemRequest{Kind: domain.KindAppointmentService, ItemID: "appt-1001"}); !errors.Is(err, ErrDuplicateAppointment) {
		t.Fatalf("expected ErrDuplicateAppointment, got %v", err)
	}
}

// flakyRepo injects failures into the loyalty step to exercise the repair
// path.
type flakyRepo struct {
	store.Repository
	loyaltyFailures int
}

func (f *flakyRepo) ApplyLoyaltyAccrual(ctx context.Context, accrual domain.LoyaltyAccrual) error {
	if f.loyaltyFailures > 0 {
		f.loyaltyFailures--
		return errors.New("simulated outage")
	}
	return f.Repository.ApplyLoyaltyAccrual(ctx, accrual)
}

func TestRepairFinishesPartiallyCommittedSale(t *testing.T) {
	seeded := memory.NewSeeded(testTenant)
	repo := &flakyRepo{Repository: seeded, loyaltyFailures: 1}
	e := newTestEngine(repo)
	ctx := context.Background()

	view := buildSampleCart(t, e)
	_, err := e.Finalize(ctx, testTenant, view.ID, domain.FinalizeRequest{PaymentMethod: "pix", DisplayedTotal: "162.00"})
	if err == nil {
		t.Fatal("finalize should fail while loyalty is down")
	}

	sales, err := repo.ListSalesByStatus(ctx, testTenant, []string{domain.SaleStatusPartiallyFailed})
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 1 {
		t.Fatalf("expected 1 partially failed sale, got %d", len(sales))
	}
	saleID := sales[0].ID

	// Stock and appointment effects landed before the failing step.
	product, _ := seeded.GetProductByID(ctx, testTenant, "prd-shampoo")
	if product.QuantityOnHand != 1 {
		t.Fatalf("stock before repair = %d", product.QuantityOnHand)
	}

	fixed, err := e.Repair(ctx, testTenant, saleID)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if fixed.Status != domain.SaleStatusCompleted {
		t.Fatalf("status after repair = %s", fixed.Status)
	}

	// The replayed steps must not double-apply anything.
	product, _ = seeded.GetProductByID(ctx, testTenant, "prd-shampoo")
	if product.QuantityOnHand != 1 {
		t.Fatalf("stock after repair = %d", product.QuantityOnHand)
	}
	client, _ := seeded.GetClientByID(ctx, testTenant, "cli-ana")
	if client.Loyalty.PointsBalance != 16 {
		t.Fatalf("points after repair = %d", client.Loyalty.PointsBalance)
	}
	if client.Loyalty.VisitCount != 1 {
		t.Fatalf("visits after repair = %d", client.Loyalty.VisitCount)
	}

	// Repairing a completed sale is a no-op.
	again, err := e.Repair(ctx, testTenant, saleID)
	if err != nil {
		t.Fatalf("second repair: %v", err)
	}
	if again.Status != domain.SaleStatusCompleted {
		t.Fatalf("status after second repair = %s", again.Status)
	}
}

func TestCancelRejectedOnceCommitStarted(t *testing.T) {
	seeded := memory.NewSeeded(testTenant)
	repo := &flakyRepo{Repository: seeded, loyaltyFailures: 1}
	e := newTestEngine(repo)
	ctx := context.Background()

	view := buildSampleCart(t, e)
	if _, err := e.Finalize(ctx, testTenant, view.ID, domain.FinalizeRequest{PaymentMethod: "pix", DisplayedTotal: "162.00"}); err == nil {
		t.Fatal("finalize should fail while loyalty is down")
	}

	// The sale row and its stock decrements already exist; the charge is the
	// repair pass's to finish, so the session must refuse to cancel.
	if err := e.Cancel(ctx, testTenant, view.ID); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed for partially committed session, got %v", err)
	}

	sales, err := repo.ListSalesByStatus(ctx, testTenant, []string{domain.SaleStatusPartiallyFailed})
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 1 {
		t.Fatalf("expected 1 partially failed sale, got %d", len(sales))
	}
	fixed, err := e.Repair(ctx, testTenant, sales[0].ID)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if fixed.Status != domain.SaleStatusCompleted {
		t.Fatalf("status after repair = %s", fixed.Status)
	}
}

// staleStockRepo inflates every stock read so the finalize validation pass
// accepts quantities the conditional decrement will refuse, standing in for
// a concurrent sale draining the shelf between the two.
type staleStockRepo struct {
	store.Repository
}

func (r *staleStockRepo) GetProductByID(ctx context.Context, tenantID, productID string) (domain.Product, error) {
	p, err := r.Repository.GetProductByID(ctx, tenantID, productID)
	p.QuantityOnHand += 5
	return p, err
}

func (r *staleStockRepo) GetProductsByIDs(ctx context.Context, tenantID string, ids []string) (map[string]domain.Product, error) {
	products, err := r.Repository.GetProductsByIDs(ctx, tenantID, ids)
	for id, p := range products {
		p.QuantityOnHand += 5
		products[id] = p
	}
	return products, err
}

func TestCommitRaceLossKeepsStoreSentinel(t *testing.T) {
	seeded := memory.NewSeeded(testTenant)
	e := newTestEngine(&staleStockRepo{Repository: seeded})
	ctx := context.Background()

	view, err := e.CreateSession(ctx, testTenant, "terminal-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	// Only 3 shampoo units really exist; the stale reads say 8.
	if _, err := e.AddItem(ctx, testTenant, view.ID, domain.AddItemRequest{Kind: domain.KindProduct, ItemID: "prd-shampoo", Quantity: 4}); err != nil {
		t.Fatalf("add product: %v", err)
	}

	_, err = e.Finalize(ctx, testTenant, view.ID, domain.FinalizeRequest{PaymentMethod: "cash", DisplayedTotal: "200.00"})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if !errors.Is(err, store.ErrStockExhausted) {
		t.Fatalf("commit-time race loss must keep store.ErrStockExhausted in the chain, got %v", err)
	}

	// The refused decrement wrote nothing.
	product, err := seeded.GetProductByID(ctx, testTenant, "prd-shampoo")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.QuantityOnHand != 3 {
		t.Fatalf("stock after refused decrement = %d", product.QuantityOnHand)
	}
}

func TestReceiptForCompletedSale(t *testing.T) {
	e := newTestEngine(memory.NewSeeded(testTenant))
	ctx := context.Background()

	view := buildSampleCart(t, e)
	resp, err := e.Finalize(ctx, testTenant, view.ID, domain.FinalizeRequest{PaymentMethod: "pix", DisplayedTotal: "162.00"})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	doc, err := e.Receipt(ctx, testTenant, resp.Sale.ID)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if len(doc.Lines) == 0 {
		t.Fatal("empty receipt")
	}
	for i, line := range doc.Lines {
		if len(line) > 32 {
			t.Fatalf("receipt row %d too wide: %q", i, line)
		}
	}
}

func TestCancelReleasesSession(t *testing.T) {
	e := newTestEngine(memory.NewSeeded(testTenant))
	ctx := context.Background()

	view, err := e.CreateSession(ctx, testTenant, "terminal-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := e.Cancel(ctx, testTenant, view.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := e.Session(ctx, testTenant, view.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after cancel, got %v", err)
	}
}
