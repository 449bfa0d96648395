package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"belezapos/backend/internal/catalog"
	"belezapos/backend/internal/domain"
	"belezapos/backend/internal/ledger"
	"belezapos/backend/internal/loyalty"
	"belezapos/backend/internal/pricing"
	"belezapos/backend/internal/receipt"
	"belezapos/backend/internal/store"
	"belezapos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// repairGrace keeps the background repair pass away from sales whose
// original finalize may still be running.
const repairGrace = 30 * time.Second

// Engine drives checkout sessions and the sale commit sequence. A commit is
// five ordered writes keyed by the sale id: the sale row, its lines, the
// stock outflows, appointment completions and the loyalty accrual. Each
// write is idempotent, so a commit that dies halfway can be replayed from
// the top without double-applying anything; there is no rollback once the
// sale row exists.
type Engine struct {
	repo     store.Repository
	catalog  *catalog.Reader
	ledger   *ledger.Ledger
	sessions *Sessions
}

func NewEngine(repo store.Repository, reader *catalog.Reader, led *ledger.Ledger) *Engine {
	return &Engine{
		repo:     repo,
		catalog:  reader,
		ledger:   led,
		sessions: NewSessions(),
	}
}

func (e *Engine) CreateSession(ctx context.Context, tenantID, terminalID string) (domain.SessionView, error) {
	if terminalID == "" {
		return domain.SessionView{}, store.ErrInvalidSale
	}
	session := e.sessions.Create(tenantID, terminalID)

	session.mu.Lock()
	defer session.mu.Unlock()
	return e.view(ctx, session)
}

func (e *Engine) Session(ctx context.Context, tenantID, sessionID string) (domain.SessionView, error) {
	session, err := e.openSession(tenantID, sessionID)
	if err != nil {
		return domain.SessionView{}, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	return e.view(ctx, session)
}

func (e *Engine) AddItem(ctx context.Context, tenantID, sessionID string, req domain.AddItemRequest) (domain.SessionView, error) {
	session, err := e.openSession(tenantID, sessionID)
	if err != nil {
		return domain.SessionView{}, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.State != StateBuilding {
		return domain.SessionView{}, ErrSessionClosed
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	var line domain.CartLine
	switch req.Kind {
	case domain.KindProduct:
		product, err := e.repo.GetProductByID(ctx, tenantID, req.ItemID)
		if err != nil {
			return domain.SessionView{}, err
		}
		if !product.Active {
			return domain.SessionView{}, store.ErrNotFound
		}
		line = domain.CartLine{
			ItemID:        product.ID,
			Kind:          domain.KindProduct,
			Name:          product.Name,
			Quantity:      req.Quantity,
			UnitPrice:     product.SalePrice,
			StockSnapshot: product.QuantityOnHand,
		}
	case domain.KindService:
		svc, err := e.repo.GetServiceByID(ctx, tenantID, req.ItemID)
		if err != nil {
			return domain.SessionView{}, err
		}
		if !svc.Active {
			return domain.SessionView{}, store.ErrNotFound
		}
		line = domain.CartLine{
			ItemID:    svc.ID,
			Kind:      domain.KindService,
			Name:      svc.Name,
			Quantity:  req.Quantity,
			UnitPrice: svc.Price,
		}
	case domain.KindAppointmentService:
		appt, err := e.repo.GetAppointmentByID(ctx, tenantID, req.ItemID)
		if err != nil {
			return domain.SessionView{}, err
		}
		if appt.Status != domain.AppointmentStatusScheduled {
			return domain.SessionView{}, store.ErrNotFound
		}
		if err := session.Cart.AdoptClient(appt.ClientID, true); err != nil {
			return domain.SessionView{}, err
		}
		line = domain.CartLine{
			ItemID:              appt.ID,
			Kind:                domain.KindAppointmentService,
			Name:                appt.ServiceName,
			Quantity:            1,
			UnitPrice:           appt.Price,
			SourceAppointmentID: appt.ID,
		}
	default:
		return domain.SessionView{}, fmt.Errorf("checkout: unknown line kind %q", req.Kind)
	}

	if err := session.Cart.Add(line); err != nil {
		return domain.SessionView{}, err
	}
	return e.view(ctx, session)
}

func (e *Engine) SetQuantity(ctx context.Context, tenantID, sessionID, itemID string, kind domain.LineKind, quantity int) (domain.SessionView, error) {
	session, err := e.openSession(tenantID, sessionID)
	if err != nil {
		return domain.SessionView{}, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.State != StateBuilding {
		return domain.SessionView{}, ErrSessionClosed
	}
	if err := session.Cart.SetQuantity(itemID, kind, quantity); err != nil {
		return domain.SessionView{}, err
	}
	return e.view(ctx, session)
}

func (e *Engine) RemoveItem(ctx context.Context, tenantID, sessionID, itemID string, kind domain.LineKind) (domain.SessionView, error) {
	session, err := e.openSession(tenantID, sessionID)
	if err != nil {
		return domain.SessionView{}, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.State != StateBuilding {
		return domain.SessionView{}, ErrSessionClosed
	}
	session.Cart.Remove(itemID, kind)
	return e.view(ctx, session)
}

func (e *Engine) SetDiscount(ctx context.Context, tenantID, sessionID string, mode domain.DiscountMode, value string) (domain.SessionView, error) {
	session, err := e.openSession(tenantID, sessionID)
	if err != nil {
		return domain.SessionView{}, err
	}

	amount, err := decimal.NewFromString(value)
	if err != nil {
		return domain.SessionView{}, ErrInvalidDiscount
	}
	switch mode {
	case domain.DiscountPercentage:
		if amount.IsNegative() || amount.GreaterThan(decimal.NewFromInt(100)) {
			return domain.SessionView{}, ErrInvalidDiscount
		}
	case domain.DiscountAbsolute:
		if amount.IsNegative() {
			return domain.SessionView{}, ErrInvalidDiscount
		}
	default:
		return domain.SessionView{}, ErrInvalidDiscount
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.State != StateBuilding {
		return domain.SessionView{}, ErrSessionClosed
	}
	session.Cart.Discount = domain.Discount{Mode: mode, Value: amount}
	return e.view(ctx, session)
}

func (e *Engine) SetClient(ctx context.Context, tenantID, sessionID, clientID string) (domain.SessionView, error) {
	session, err := e.openSession(tenantID, sessionID)
	if err != nil {
		return domain.SessionView{}, err
	}
	if _, err := e.repo.GetClientByID(ctx, tenantID, clientID); err != nil {
		return domain.SessionView{}, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.State != StateBuilding {
		return domain.SessionView{}, ErrSessionClosed
	}
	if err := session.Cart.AdoptClient(clientID, false); err != nil {
		return domain.SessionView{}, err
	}
	return e.view(ctx, session)
}

func (e *Engine) Cancel(ctx context.Context, tenantID, sessionID string) error {
	session, err := e.openSession(tenantID, sessionID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	// Once the sale row exists the commit must run to completion; a
	// partially failed session belongs to the repair pass, not to cancel.
	switch session.State {
	case StateCompleted, StateCommitting, StatePartiallyFailed:
		return ErrSessionClosed
	}
	session.State = StateCancelled
	session.Cart.Clear()
	e.sessions.Remove(session.ID)
	e.logAudit(ctx, tenantID, "checkout_cancel", "session", session.ID, "")
	return nil
}

// Finalize validates the cart against live data, then commits the sale.
// Confirming an already completed session returns the stored sale instead
// of charging again.
func (e *Engine) Finalize(ctx context.Context, tenantID, sessionID string, req domain.FinalizeRequest) (domain.FinalizeResponse, error) {
	session, err := e.openSession(tenantID, sessionID)
	if err != nil {
		return domain.FinalizeResponse{}, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	switch session.State {
	case StateCompleted:
		return e.saleResponse(ctx, tenantID, session.SaleID)
	case StateCancelled:
		return domain.FinalizeResponse{}, ErrSessionClosed
	}
	if len(session.Cart.Lines) == 0 {
		return domain.FinalizeResponse{}, ErrEmptyCart
	}

	settings, err := e.catalog.Settings(ctx, tenantID)
	if err != nil {
		return domain.FinalizeResponse{}, err
	}
	if !acceptsPayment(settings, req.PaymentMethod) {
		return domain.FinalizeResponse{}, ErrUnsupportedPaymentMethod
	}

	totals := pricing.ComputeTotals(session.Cart.Lines, session.Cart.Discount, settings.CurrencyMinorUnit)
	displayed, err := decimal.NewFromString(req.DisplayedTotal)
	if err != nil || !displayed.Equal(totals.Total) {
		return domain.FinalizeResponse{}, ErrStaleTotalMismatch
	}

	// Live stock is only pre-checked on the first attempt. A replay already
	// holds its deterministic outflows, so the lowered counters would
	// wrongly reject it; the conditional decrement inside the commit stays
	// authoritative either way.
	if session.SaleID == "" {
		if err := e.validateLiveStock(ctx, tenantID, session.Cart.Lines); err != nil {
			return domain.FinalizeResponse{}, err
		}
		session.SaleID = xid.New("sale")
	}

	var accrual loyalty.Accrual
	if session.Cart.ClientID != "" {
		accrual = loyalty.ComputeAccrual(totals.Total, settings.Loyalty, settings.CurrencyMinorUnit)
	}
	session.State = StateCommitting

	sale := domain.Sale{
		ID:              session.SaleID,
		TenantID:        tenantID,
		ClientID:        session.Cart.ClientID,
		Subtotal:        totals.Subtotal,
		DiscountAmount:  totals.DiscountAmount,
		Total:           totals.Total,
		PaymentMethod:   req.PaymentMethod,
		PointsAccrued:   accrual.Points,
		CashbackAccrued: accrual.Cashback,
		Status:          domain.SaleStatusCommitting,
		CreatedAt:       time.Now().UTC(),
	}
	lines := buildSaleLines(sale.ID, session.Cart.Lines)

	committed, err := e.commit(ctx, sale, lines)
	if err != nil {
		session.State = StatePartiallyFailed
		return domain.FinalizeResponse{}, err
	}

	session.State = StateCompleted
	e.logAudit(ctx, tenantID, "sale_finalize", "sale", sale.ID,
		fmt.Sprintf("total=%s,method=%s,lines=%d", sale.Total.StringFixed(settings.CurrencyMinorUnit), sale.PaymentMethod, len(lines)))
	return domain.FinalizeResponse{Sale: committed, Lines: lines}, nil
}

// Repair replays the commit sequence of a sale that did not reach
// completed. Safe to call on any sale: completed ones come back unchanged.
func (e *Engine) Repair(ctx context.Context, tenantID, saleID string) (domain.Sale, error) {
	sale, err := e.repo.GetSaleByID(ctx, tenantID, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status == domain.SaleStatusCompleted {
		return sale, nil
	}

	lines, err := e.repo.ListSaleLines(ctx, tenantID, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if len(lines) == 0 {
		// The first attempt died before any line was written; the
		// terminal's retry replays the whole cart, nothing to repair from
		// here.
		return sale, nil
	}

	if err := e.runSteps(ctx, sale, lines); err != nil {
		e.markPartiallyFailed(ctx, sale)
		return sale, err
	}

	sale.Status = domain.SaleStatusCompleted
	e.logAudit(ctx, tenantID, "sale_repair", "sale", sale.ID, "")
	return sale, nil
}

// RepairPass sweeps every sale stuck in committing or partially_failed and
// tries to finish it. Returns how many sales reached completed.
func (e *Engine) RepairPass(ctx context.Context, tenantID string) int {
	sales, err := e.repo.ListSalesByStatus(ctx, tenantID, []string{domain.SaleStatusCommitting, domain.SaleStatusPartiallyFailed})
	if err != nil {
		log.Printf("[checkout] WARN: repair pass list failed: %v", err)
		return 0
	}

	repaired := 0
	for _, sale := range sales {
		if time.Since(sale.CreatedAt) < repairGrace {
			continue
		}
		fixed, err := e.Repair(ctx, tenantID, sale.ID)
		if err != nil {
			log.Printf("[checkout] WARN: repair sale=%s failed: %v", sale.ID, err)
			continue
		}
		if fixed.Status == domain.SaleStatusCompleted {
			repaired++
		}
	}
	return repaired
}

func (e *Engine) RepairLoop(ctx context.Context, tenantID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RepairPass(ctx, tenantID)
		}
	}
}

func (e *Engine) Sale(ctx context.Context, tenantID, saleID string) (domain.FinalizeResponse, error) {
	return e.saleResponse(ctx, tenantID, saleID)
}

func (e *Engine) Receipt(ctx context.Context, tenantID, saleID string) (receipt.Document, error) {
	resp, err := e.saleResponse(ctx, tenantID, saleID)
	if err != nil {
		return receipt.Document{}, err
	}
	settings, err := e.catalog.Settings(ctx, tenantID)
	if err != nil {
		return receipt.Document{}, err
	}
	return receipt.Render(resp.Sale, resp.Lines, settings), nil
}

func (e *Engine) commit(ctx context.Context, sale domain.Sale, lines []domain.SaleLine) (domain.Sale, error) {
	stored, err := e.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("commit sale: %w", err)
	}
	if stored.Status == domain.SaleStatusCompleted {
		return stored, nil
	}

	if err := e.runSteps(ctx, stored, lines); err != nil {
		e.markPartiallyFailed(ctx, stored)
		return domain.Sale{}, err
	}

	stored.Status = domain.SaleStatusCompleted
	return stored, nil
}

// runSteps is the shared tail of a fresh commit and a repair: lines, stock,
// appointments, loyalty, then the status flip. Every step tolerates having
// already run for this sale.
func (e *Engine) runSteps(ctx context.Context, sale domain.Sale, lines []domain.SaleLine) error {
	if err := e.repo.InsertSaleLines(ctx, lines); err != nil {
		return fmt.Errorf("commit lines: %w", err)
	}

	for _, line := range lines {
		if line.Kind != domain.KindProduct {
			continue
		}
		if err := e.ledger.RecordOutflow(ctx, sale.TenantID, line.ItemID, line.Quantity, sale.ID, ""); err != nil {
			if errors.Is(err, store.ErrStockExhausted) {
				// Keep the store sentinel in the chain so callers can still
				// tell a commit-time race loss from a cart-time shortage.
				return fmt.Errorf("%w: %s: %w", ErrInsufficientStock, line.ItemID, err)
			}
			return fmt.Errorf("commit stock %s: %w", line.ItemID, err)
		}
	}

	now := time.Now().UTC()
	for _, line := range lines {
		if line.SourceAppointmentID == "" {
			continue
		}
		if err := e.repo.CompleteAppointment(ctx, sale.TenantID, line.SourceAppointmentID, sale.ID, now); err != nil {
			return fmt.Errorf("commit appointment %s: %w", line.SourceAppointmentID, err)
		}
	}

	if sale.ClientID != "" {
		accrual := domain.LoyaltyAccrual{
			SaleID:     sale.ID,
			TenantID:   sale.TenantID,
			ClientID:   sale.ClientID,
			Points:     sale.PointsAccrued,
			Cashback:   sale.CashbackAccrued,
			Total:      sale.Total,
			OccurredAt: now,
		}
		if err := e.repo.ApplyLoyaltyAccrual(ctx, accrual); err != nil {
			return fmt.Errorf("commit loyalty: %w", err)
		}
	}

	if err := e.repo.UpdateSaleStatus(ctx, sale.TenantID, sale.ID, sale.Status, domain.SaleStatusCompleted); err != nil {
		return fmt.Errorf("commit status: %w", err)
	}
	return nil
}

func (e *Engine) markPartiallyFailed(ctx context.Context, sale domain.Sale) {
	if sale.Status != domain.SaleStatusCommitting {
		return
	}
	if err := e.repo.UpdateSaleStatus(ctx, sale.TenantID, sale.ID, domain.SaleStatusCommitting, domain.SaleStatusPartiallyFailed); err != nil {
		log.Printf("[checkout] WARN: failed to mark sale=%s partially failed: %v", sale.ID, err)
	}
}

func (e *Engine) validateLiveStock(ctx context.Context, tenantID string, cartLines []domain.CartLine) error {
	ids := make([]string, 0, len(cartLines))
	for _, line := range cartLines {
		if line.Kind == domain.KindProduct {
			ids = append(ids, line.ItemID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	products, err := e.repo.GetProductsByIDs(ctx, tenantID, ids)
	if err != nil {
		return err
	}
	for _, line := range cartLines {
		if line.Kind != domain.KindProduct {
			continue
		}
		product, ok := products[line.ItemID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrInsufficientStock, line.ItemID)
		}
		if line.Quantity > product.QuantityOnHand {
			return fmt.Errorf("%w: %s", ErrInsufficientStock, line.ItemID)
		}
	}
	return nil
}

func (e *Engine) openSession(tenantID, sessionID string) (*Session, error) {
	session, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if session.TenantID != tenantID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// view snapshots a locked session. Callers must hold session.mu.
func (e *Engine) view(ctx context.Context, session *Session) (domain.SessionView, error) {
	settings, err := e.catalog.Settings(ctx, session.TenantID)
	if err != nil {
		return domain.SessionView{}, err
	}
	totals := pricing.ComputeTotals(session.Cart.Lines, session.Cart.Discount, settings.CurrencyMinorUnit)

	lines := make([]domain.CartLine, len(session.Cart.Lines))
	copy(lines, session.Cart.Lines)

	return domain.SessionView{
		ID:             session.ID,
		TerminalID:     session.TerminalID,
		State:          session.State,
		ClientID:       session.Cart.ClientID,
		Lines:          lines,
		Discount:       session.Cart.Discount,
		Subtotal:       totals.Subtotal,
		DiscountAmount: totals.DiscountAmount,
		Total:          totals.Total,
	}, nil
}

func (e *Engine) saleResponse(ctx context.Context, tenantID, saleID string) (domain.FinalizeResponse, error) {
	sale, err := e.repo.GetSaleByID(ctx, tenantID, saleID)
	if err != nil {
		return domain.FinalizeResponse{}, err
	}
	lines, err := e.repo.ListSaleLines(ctx, tenantID, saleID)
	if err != nil {
		return domain.FinalizeResponse{}, err
	}
	return domain.FinalizeResponse{Sale: sale, Lines: lines}, nil
}

func (e *Engine) logAudit(ctx context.Context, tenantID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := e.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		TenantID:      tenantID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func acceptsPayment(settings domain.TenantSettings, method string) bool {
	for _, accepted := range settings.AcceptedPaymentMethods {
		if accepted == method {
			return true
		}
	}
	return false
}

func buildSaleLines(saleID string, cartLines []domain.CartLine) []domain.SaleLine {
	lines := make([]domain.SaleLine, 0, len(cartLines))
	for i, cartLine := range cartLines {
		lines = append(lines, domain.SaleLine{
			SaleID:              saleID,
			LineNo:              i + 1,
			ItemID:              cartLine.ItemID,
			Kind:                cartLine.Kind,
			Name:                cartLine.Name,
			Quantity:            cartLine.Quantity,
			UnitPrice:           cartLine.UnitPrice,
			LineTotal:           pricing.LineTotal(cartLine),
			SourceAppointmentID: cartLine.SourceAppointmentID,
		})
	}
	return lines
}
