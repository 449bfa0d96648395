package store

import (
	"context"
	"errors"
	"time"

	"belezapos/backend/internal/domain"
)

var (
	// ErrNotFound is returned when a requested entity does not exist or is
	// not visible to the requesting tenant.
	ErrNotFound = errors.New("store: not found")

	// ErrStockExhausted is returned by StockOutflow when the conditional
	// decrement finds fewer units on hand than requested. The on-hand
	// quantity is left untouched.
	ErrStockExhausted = errors.New("store: stock exhausted")

	// ErrInvalidSale is returned when a sale payload fails basic integrity
	// checks before any write happens.
	ErrInvalidSale = errors.New("store: invalid sale")

	// ErrDuplicate is returned when a uniqueness constraint is violated,
	// for example creating a user that already exists.
	ErrDuplicate = errors.New("store: duplicate")
)

// Repository is the persistence contract shared by the in-memory and
// postgres implementations. Every method is tenant-scoped and safe for
// concurrent use.
//
// The sale commit methods (CreateSale, InsertSaleLines, StockOutflow,
// CompleteAppointment, ApplyLoyaltyAccrual, UpdateSaleStatus) are each
// individually idempotent so the checkout engine can replay a partially
// committed sale without double-applying any effect.
type Repository interface {
	// Tenant settings.
	GetTenantSettings(ctx context.Context, tenantID string) (domain.TenantSettings, error)

	// Catalog.
	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)
	GetProductByID(ctx context.Context, tenantID, productID string) (domain.Product, error)
	GetProductsByIDs(ctx context.Context, tenantID string, ids []string) (map[string]domain.Product, error)
	ListServices(ctx context.Context, tenantID string) ([]domain.Service, error)
	GetServiceByID(ctx context.Context, tenantID, serviceID string) (domain.Service, error)

	// Appointments.
	ListOpenAppointmentsForDay(ctx context.Context, tenantID string, day time.Time) ([]domain.Appointment, error)
	GetAppointmentByID(ctx context.Context, tenantID, appointmentID string) (domain.Appointment, error)
	// CompleteAppointment marks a scheduled appointment completed and records
	// the sale that closed it. Completing an already-completed appointment is
	// a no-op. Cancelled appointments cannot be completed.
	CompleteAppointment(ctx context.Context, tenantID, appointmentID, saleID string, at time.Time) error

	// Clients and loyalty.
	GetClientByID(ctx context.Context, tenantID, clientID string) (domain.Client, error)
	// ApplyLoyaltyAccrual credits the client's balances exactly once per sale.
	// A second call with the same accrual.SaleID returns nil without
	// touching the balances.
	ApplyLoyaltyAccrual(ctx context.Context, accrual domain.LoyaltyAccrual) error

	// Sales.
	// CreateSale inserts the sale if absent. When a sale with the same ID
	// already exists the stored row is returned unchanged, which lets a
	// replayed finalize pick up where the first attempt stopped.
	CreateSale(ctx context.Context, sale domain.Sale) (domain.Sale, error)
	GetSaleByID(ctx context.Context, tenantID, saleID string) (domain.Sale, error)
	// InsertSaleLines writes the lines for a sale, skipping any
	// (saleID, lineNo) pair already present.
	InsertSaleLines(ctx context.Context, lines []domain.SaleLine) error
	ListSaleLines(ctx context.Context, tenantID, saleID string) ([]domain.SaleLine, error)
	// UpdateSaleStatus moves a sale from one status to another. It returns
	// nil when the sale is already in the target status and ErrNotFound when
	// the sale is in neither status.
	UpdateSaleStatus(ctx context.Context, tenantID, saleID, from, to string) error
	ListSalesByStatus(ctx context.Context, tenantID string, statuses []string) ([]domain.Sale, error)

	// Stock ledger.
	// StockOutflow atomically checks quantity_on_hand >= mv.Quantity,
	// decrements it, and appends the movement. When a movement with mv.ID
	// already exists the call is a no-op returning nil. When stock is short
	// it returns ErrStockExhausted without writing anything.
	StockOutflow(ctx context.Context, mv domain.StockMovement) error
	// StockInflow appends an inbound movement and increments on-hand stock.
	StockInflow(ctx context.Context, mv domain.StockMovement) error
	ListStockMovements(ctx context.Context, tenantID, productID string, since time.Time) ([]domain.StockMovement, error)
	// SetQuantityOnHand overwrites the denormalized counter. Used only by
	// reconciliation when the counter has drifted from the movement log.
	SetQuantityOnHand(ctx context.Context, tenantID, productID string, quantity int) error

	// Audit trail.
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]domain.AuditLog, error)

	// Auth.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}
