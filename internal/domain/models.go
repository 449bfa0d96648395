package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LineKind string

const (
	KindProduct            LineKind = "product"
	KindService            LineKind = "service"
	KindAppointmentService LineKind = "appointment_service"
)

type DiscountMode string

const (
	DiscountAbsolute   DiscountMode = "absolute"
	DiscountPercentage DiscountMode = "percentage"
)

const (
	SaleStatusCommitting      = "committing"
	SaleStatusPartiallyFailed = "partially_failed"
	SaleStatusCompleted       = "completed"
)

const (
	AppointmentStatusScheduled = "scheduled"
	AppointmentStatusCompleted = "completed"
	AppointmentStatusCancelled = "cancelled"
)

const (
	MovementIn  = "in"
	MovementOut = "out"
)

type Product struct {
	ID               string          `json:"id"`
	TenantID         string          `json:"tenant_id"`
	Name             string          `json:"name"`
	SalePrice        decimal.Decimal `json:"sale_price"`
	CostPrice        decimal.Decimal `json:"cost_price"`
	QuantityOnHand   int             `json:"quantity_on_hand"`
	MinimumThreshold int             `json:"minimum_threshold"`
	Active           bool            `json:"active"`
}

type Service struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	DurationMinutes int             `json:"duration_minutes"`
	Active          bool            `json:"active"`
}

type Appointment struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	ClientID       string          `json:"client_id"`
	ProfessionalID string          `json:"professional_id"`
	ServiceID      string          `json:"service_id"`
	ServiceName    string          `json:"service_name"`
	Price          decimal.Decimal `json:"price"`
	Status         string          `json:"status"`
	ScheduledAt    time.Time       `json:"scheduled_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

type LoyaltyAccount struct {
	PointsBalance   int64           `json:"points_balance"`
	CashbackBalance decimal.Decimal `json:"cashback_balance"`
	LifetimeSpend   decimal.Decimal `json:"lifetime_spend"`
	VisitCount      int             `json:"visit_count"`
	LastVisitAt     *time.Time      `json:"last_visit_at,omitempty"`
}

type Client struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenant_id"`
	Name     string         `json:"name"`
	Phone    string         `json:"phone,omitempty"`
	Loyalty  LoyaltyAccount `json:"loyalty"`
}

type LoyaltyRules struct {
	MinimumEligibleAmount decimal.Decimal `json:"minimum_eligible_amount"`
	CurrencyPerPoint      decimal.Decimal `json:"currency_per_point"`
	CashbackPercent       decimal.Decimal `json:"cashback_percent"`
}

type TenantSettings struct {
	TenantID               string       `json:"tenant_id"`
	Name                   string       `json:"name"`
	CurrencySymbol         string       `json:"currency_symbol"`
	CurrencyMinorUnit      int32        `json:"currency_minor_unit"`
	AcceptedPaymentMethods []string     `json:"accepted_payment_methods"`
	Loyalty                LoyaltyRules `json:"loyalty"`
}

// CartLine is a single item in an open checkout session. Product lines carry
// the stock snapshot taken when the line was added; the snapshot is a soft
// limit only and is re-checked against live stock at finalize.
type CartLine struct {
	ItemID              string          `json:"item_id"`
	Kind                LineKind        `json:"kind"`
	Name                string          `json:"name"`
	Quantity            int             `json:"quantity"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	SourceAppointmentID string          `json:"source_appointment_id,omitempty"`
	StockSnapshot       int             `json:"stock_snapshot,omitempty"`
}

type Discount struct {
	Mode  DiscountMode    `json:"mode"`
	Value decimal.Decimal `json:"value"`
}

// Sale is immutable once its status reaches completed. Corrections are new
// compensating entries, never edits.
type Sale struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	ClientID        string          `json:"client_id,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   string          `json:"payment_method"`
	PointsAccrued   int64           `json:"points_accrued"`
	CashbackAccrued decimal.Decimal `json:"cashback_accrued"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

type SaleLine struct {
	SaleID              string          `json:"sale_id"`
	LineNo              int             `json:"line_no"`
	ItemID              string          `json:"item_id"`
	Kind                LineKind        `json:"kind"`
	Name                string          `json:"name"`
	Quantity            int             `json:"quantity"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	LineTotal           decimal.Decimal `json:"line_total"`
	SourceAppointmentID string          `json:"source_appointment_id,omitempty"`
}

// StockMovement is an append-only ledger entry. Outflows caused by a sale use
// a deterministic ID derived from the sale and product so saga replays
// deduplicate instead of double-decrementing.
type StockMovement struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ProductID     string    `json:"product_id"`
	Direction     string    `json:"direction"`
	Quantity      int       `json:"quantity"`
	RelatedSaleID string    `json:"related_sale_id,omitempty"`
	Reference     string    `json:"reference,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// LoyaltyAccrual records the loyalty side effect of one sale, keyed by sale
// ID so it applies at most once under retry.
type LoyaltyAccrual struct {
	SaleID     string          `json:"sale_id"`
	TenantID   string          `json:"tenant_id"`
	ClientID   string          `json:"client_id"`
	Points     int64           `json:"points"`
	Cashback   decimal.Decimal `json:"cashback"`
	Total      decimal.Decimal `json:"total"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type StockDrift struct {
	ProductID string `json:"product_id"`
	Stored    int    `json:"stored"`
	Derived   int    `json:"derived"`
}

type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type SessionCreateRequest struct {
	TerminalID string `json:"terminal_id"`
}

type AddItemRequest struct {
	Kind     LineKind `json:"kind"`
	ItemID   string   `json:"item_id"`
	Quantity int      `json:"quantity"`
}

type SetQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type SetDiscountRequest struct {
	Mode  DiscountMode `json:"mode"`
	Value string       `json:"value"`
}

type SetClientRequest struct {
	ClientID string `json:"client_id"`
}

type FinalizeRequest struct {
	PaymentMethod  string `json:"payment_method"`
	DisplayedTotal string `json:"displayed_total"`
}

type SessionView struct {
	ID             string          `json:"id"`
	TerminalID     string          `json:"terminal_id"`
	State          string          `json:"state"`
	ClientID       string          `json:"client_id,omitempty"`
	Lines          []CartLine      `json:"lines"`
	Discount       Discount        `json:"discount"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
}

type FinalizeResponse struct {
	Sale  Sale       `json:"sale"`
	Lines []SaleLine `json:"lines"`
}

type StockReceiveRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reference string `json:"reference"`
}

type TurnoverResponse struct {
	ProductID  string  `json:"product_id"`
	WindowDays int     `json:"window_days"`
	Rate       float64 `json:"rate"`
}

type ReconcileResponse struct {
	TenantID  string       `json:"tenant_id"`
	Drifts    []StockDrift `json:"drifts"`
	CheckedAt string       `json:"checked_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
