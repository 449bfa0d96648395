// Package ledger owns product stock. Every stock change is an append-only
// movement; the per-product on-hand counter is a denormalized projection of
// the movement log that Reconcile can rebuild at any time.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"belezapos/backend/internal/domain"
	"belezapos/backend/internal/store"
	"belezapos/backend/internal/xid"
)

var ErrInvalidQuantity = errors.New("ledger: quantity must be positive")

type Ledger struct {
	repo store.Repository
}

func New(repo store.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// RecordOutflow removes quantity units of a product. The decrement is
// conditional: when fewer units are on hand than requested, nothing is
// written and store.ErrStockExhausted comes back, so under concurrent sales
// of the last units exactly one caller wins.
//
// When relatedSaleID is set the movement id is derived from the sale and
// product, making the call idempotent per sale. Manual adjustments get a
// fresh id each time.
func (l *Ledger) RecordOutflow(ctx context.Context, tenantID, productID string, quantity int, relatedSaleID, reference string) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	id := xid.New("mv")
	if relatedSaleID != "" {
		id = xid.Movement(relatedSaleID, productID)
	}
	mv := domain.StockMovement{
		ID:            id,
		TenantID:      tenantID,
		ProductID:     productID,
		Direction:     domain.MovementOut,
		Quantity:      quantity,
		RelatedSaleID: relatedSaleID,
		Reference:     reference,
		OccurredAt:    time.Now().UTC(),
	}
	return l.repo.StockOutflow(ctx, mv)
}

// RecordInflow adds quantity units, for example a supplier delivery or the
// initial stock load.
func (l *Ledger) RecordInflow(ctx context.Context, tenantID, productID string, quantity int, reference string) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	mv := domain.StockMovement{
		ID:         xid.New("mv"),
		TenantID:   tenantID,
		ProductID:  productID,
		Direction:  domain.MovementIn,
		Quantity:   quantity,
		Reference:  reference,
		OccurredAt: time.Now().UTC(),
	}
	return l.repo.StockInflow(ctx, mv)
}

func (l *Ledger) CurrentStock(ctx context.Context, tenantID, productID string) (int, error) {
	product, err := l.repo.GetProductByID(ctx, tenantID, productID)
	if err != nil {
		return 0, err
	}
	return product.QuantityOnHand, nil
}

// IsCritical reports whether a product has fallen to or below its reorder
// threshold.
func IsCritical(p domain.Product) bool {
	return p.QuantityOnHand <= p.MinimumThreshold
}

func (l *Ledger) CriticalProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	products, err := l.repo.ListProducts(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	critical := make([]domain.Product, 0)
	for _, p := range products {
		if p.Active && IsCritical(p) {
			critical = append(critical, p)
		}
	}
	return critical, nil
}

// TurnoverRate reports how many times the average stock of a product was
// sold through inside the trailing window. The average is taken between the
// stock level at the window start (reconstructed from the movements inside
// the window) and the current level. A product with no stock over the whole
// window has rate zero.
func (l *Ledger) TurnoverRate(ctx context.Context, tenantID, productID string, windowDays int) (float64, error) {
	if windowDays <= 0 {
		return 0, fmt.Errorf("ledger: window must be positive, got %d", windowDays)
	}
	product, err := l.repo.GetProductByID(ctx, tenantID, productID)
	if err != nil {
		return 0, err
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	movements, err := l.repo.ListStockMovements(ctx, tenantID, productID, since)
	if err != nil {
		return 0, err
	}

	var in, out int
	for _, mv := range movements {
		switch mv.Direction {
		case domain.MovementIn:
			in += mv.Quantity
		case domain.MovementOut:
			out += mv.Quantity
		}
	}

	end := product.QuantityOnHand
	start := end - in + out
	avg := float64(start+end) / 2
	if avg <= 0 {
		return 0, nil
	}
	return float64(out) / avg, nil
}

// Reconcile compares each product's on-hand counter against the quantity
// derived from its full movement history and repairs any counter that has
// drifted. The movement log is the source of truth; the counter is only a
// cache of it.
func (l *Ledger) Reconcile(ctx context.Context, tenantID string) ([]domain.StockDrift, error) {
	products, err := l.repo.ListProducts(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	drifts := make([]domain.StockDrift, 0)
	for _, p := range products {
		movements, err := l.repo.ListStockMovements(ctx, tenantID, p.ID, time.Time{})
		if err != nil {
			return nil, err
		}
		derived := 0
		for _, mv := range movements {
			switch mv.Direction {
			case domain.MovementIn:
				derived += mv.Quantity
			case domain.MovementOut:
				derived -= mv.Quantity
			}
		}
		if derived == p.QuantityOnHand {
			continue
		}
		if err := l.repo.SetQuantityOnHand(ctx, tenantID, p.ID, derived); err != nil {
			return nil, err
		}
		drifts = append(drifts, domain.StockDrift{
			ProductID: p.ID,
			Stored:    p.QuantityOnHand,
			Derived:   derived,
		})
	}
	return drifts, nil
}
