package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"belezapos/backend/internal/domain"
	"belezapos/backend/internal/store"
	"belezapos/backend/internal/xid"
)

type Store struct {
	mu              sync.Mutex
	tenants         map[string]domain.TenantSettings
	products        map[string]domain.Product
	services        map[string]domain.Service
	appointments    map[string]domain.Appointment
	clients         map[string]domain.Client
	salesByID       map[string]domain.Sale
	saleLines       map[string]domain.SaleLine
	movements       map[string]domain.StockMovement
	accrualsBySale  map[string]domain.LoyaltyAccrual
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD. If
// unset, hardcoded dev defaults are used with a warning. These credentials
// are never used in production (the backend uses PostgreSQL when
// DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		tenants:         make(map[string]domain.TenantSettings),
		products:        make(map[string]domain.Product),
		services:        make(map[string]domain.Service),
		appointments:    make(map[string]domain.Appointment),
		clients:         make(map[string]domain.Client),
		salesByID:       make(map[string]domain.Sale),
		saleLines:       make(map[string]domain.SaleLine),
		movements:       make(map[string]domain.StockMovement),
		accrualsBySale:  make(map[string]domain.LoyaltyAccrual),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded returns a store preloaded with a demo salon tenant. Initial
// stock is written through the movement log so reconciliation agrees with
// the on-hand counters from the first request on.
func NewSeeded(tenantID string) *Store {
	s := New()

	s.tenants[tenantID] = domain.TenantSettings{
		TenantID:               tenantID,
		Name:                   "Beleza Studio",
		CurrencySymbol:         "R$",
		CurrencyMinorUnit:      2,
		AcceptedPaymentMethods: []string{"cash", "card", "pix"},
		Loyalty: domain.LoyaltyRules{
			MinimumEligibleAmount: decimal.RequireFromString("20.00"),
			CurrencyPerPoint:      decimal.RequireFromString("10.00"),
			CashbackPercent:       decimal.RequireFromString("5"),
		},
	}

	products := []domain.Product{
		{ID: "prd-shampoo", Name: "Shampoo Profissional 300ml", SalePrice: decimal.RequireFromString("50.00"), CostPrice: decimal.RequireFromString("28.00"), MinimumThreshold: 2, Active: true},
		{ID: "prd-condicionador", Name: "Condicionador Reparador 300ml", SalePrice: decimal.RequireFromString("46.00"), CostPrice: decimal.RequireFromString("25.00"), MinimumThreshold: 2, Active: true},
		{ID: "prd-oleo", Name: "Oleo Capilar Argan 60ml", SalePrice: decimal.RequireFromString("72.50"), CostPrice: decimal.RequireFromString("41.00"), MinimumThreshold: 1, Active: true},
		{ID: "prd-esmalte", Name: "Esmalte Hipoalergenico", SalePrice: decimal.RequireFromString("18.90"), CostPrice: decimal.RequireFromString("9.50"), MinimumThreshold: 5, Active: true},
		{ID: "prd-protetor", Name: "Protetor Termico 200ml", SalePrice: decimal.RequireFromString("64.00"), CostPrice: decimal.RequireFromString("37.00"), MinimumThreshold: 2, Active: true},
	}
	initial := map[string]int{
		"prd-shampoo":       3,
		"prd-condicionador": 8,
		"prd-oleo":          4,
		"prd-esmalte":       20,
		"prd-protetor":      6,
	}
	now := time.Now().UTC()
	for _, p := range products {
		p.TenantID = tenantID
		s.products[p.ID] = p
		qty := initial[p.ID]
		if qty == 0 {
			continue
		}
		mv := domain.StockMovement{
			ID:         xid.New("mv"),
			TenantID:   tenantID,
			ProductID:  p.ID,
			Direction:  domain.MovementIn,
			Quantity:   qty,
			Reference:  "initial",
			OccurredAt: now,
		}
		s.movements[mv.ID] = mv
		p.QuantityOnHand = qty
		s.products[p.ID] = p
	}

	services := []domain.Service{
		{ID: "svc-corte", TenantID: tenantID, Name: "Corte Feminino", Price: decimal.RequireFromString("80.00"), DurationMinutes: 50, Active: true},
		{ID: "svc-escova", TenantID: tenantID, Name: "Escova Modelada", Price: decimal.RequireFromString("65.00"), DurationMinutes: 40, Active: true},
		{ID: "svc-coloracao", TenantID: tenantID, Name: "Coloracao Completa", Price: decimal.RequireFromString("180.00"), DurationMinutes: 120, Active: true},
		{ID: "svc-manicure", TenantID: tenantID, Name: "Manicure", Price: decimal.RequireFromString("35.00"), DurationMinutes: 45, Active: true},
	}
	for _, svc := range services {
		s.services[svc.ID] = svc
	}

	s.clients["cli-ana"] = domain.Client{
		ID:       "cli-ana",
		TenantID: tenantID,
		Name:     "Ana Beatriz Souza",
		Phone:    "+55 11 98888-1001",
	}
	s.clients["cli-carla"] = domain.Client{
		ID:       "cli-carla",
		TenantID: tenantID,
		Name:     "Carla Menezes",
		Phone:    "+55 11 98888-1002",
	}

	s.appointments["appt-1001"] = domain.Appointment{
		ID:             "appt-1001",
		TenantID:       tenantID,
		ClientID:       "cli-ana",
		ProfessionalID: "pro-marcos",
		ServiceID:      "svc-corte",
		ServiceName:    "Corte Feminino",
		Price:          decimal.RequireFromString("80.00"),
		Status:         domain.AppointmentStatusScheduled,
		ScheduledAt:    now,
	}

	return s
}

// CreateProduct is used by seeding and tests; the HTTP surface does not
// expose catalog writes.
func (s *Store) CreateProduct(_ context.Context, product domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.TenantID == "" || product.Name == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.products[product.ID]; exists {
		return store.ErrDuplicate
	}
	s.products[product.ID] = product
	return nil
}

func (s *Store) CreateService(_ context.Context, svc domain.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc.ID == "" || svc.TenantID == "" || svc.Name == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.services[svc.ID]; exists {
		return store.ErrDuplicate
	}
	s.services[svc.ID] = svc
	return nil
}

func (s *Store) CreateAppointment(_ context.Context, appt domain.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if appt.ID == "" || appt.TenantID == "" || appt.ServiceID == "" {
		return store.ErrInvalidSale
	}
	if appt.Status == "" {
		appt.Status = domain.AppointmentStatusScheduled
	}
	s.appointments[appt.ID] = appt
	return nil
}

func (s *Store) CreateClient(_ context.Context, client domain.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client.ID == "" || client.TenantID == "" {
		return store.ErrInvalidSale
	}
	s.clients[client.ID] = client
	return nil
}

func (s *Store) PutTenantSettings(_ context.Context, settings domain.TenantSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if settings.TenantID == "" {
		return store.ErrInvalidSale
	}
	s.tenants[settings.TenantID] = settings
	return nil
}

func (s *Store) GetTenantSettings(_ context.Context, tenantID string) (domain.TenantSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, exists := s.tenants[tenantID]
	if !exists {
		return domain.TenantSettings{}, store.ErrNotFound
	}
	return settings, nil
}

func (s *Store) ListProducts(_ context.Context, tenantID string) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.TenantID != tenantID {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, tenantID, productID string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.products[productID]
	if !exists || p.TenantID != tenantID {
		return domain.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, tenantID string, ids []string) (map[string]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.TenantID == tenantID && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) ListServices(_ context.Context, tenantID string) ([]domain.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	services := make([]domain.Service, 0, len(s.services))
	for _, svc := range s.services {
		if svc.TenantID != tenantID || !svc.Active {
			continue
		}
		services = append(services, svc)
	}
	slices.SortFunc(services, func(a, b domain.Service) int {
		return cmpString(a.Name, b.Name)
	})
	return services, nil
}

func (s *Store) GetServiceByID(_ context.Context, tenantID, serviceID string) (domain.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, exists := s.services[serviceID]
	if !exists || svc.TenantID != tenantID {
		return domain.Service{}, store.ErrNotFound
	}
	return svc, nil
}

func (s *Store) ListOpenAppointmentsForDay(_ context.Context, tenantID string, day time.Time) ([]domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dayStart := dateUTC(day)
	dayEnd := dayStart.AddDate(0, 0, 1)

	result := make([]domain.Appointment, 0, 16)
	for _, appt := range s.appointments {
		if appt.TenantID != tenantID || appt.Status != domain.AppointmentStatusScheduled {
			continue
		}
		at := appt.ScheduledAt.UTC()
		if at.Before(dayStart) || !at.Before(dayEnd) {
			continue
		}
		result = append(result, appt)
	}
	slices.SortFunc(result, func(a, b domain.Appointment) int {
		if a.ScheduledAt.Equal(b.ScheduledAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.ScheduledAt.Before(b.ScheduledAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) GetAppointmentByID(_ context.Context, tenantID, appointmentID string) (domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, exists := s.appointments[appointmentID]
	if !exists || appt.TenantID != tenantID {
		return domain.Appointment{}, store.ErrNotFound
	}
	return appt, nil
}

func (s *Store) CompleteAppointment(_ context.Context, tenantID, appointmentID, saleID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, exists := s.appointments[appointmentID]
	if !exists || appt.TenantID != tenantID {
		return store.ErrNotFound
	}
	switch appt.Status {
	case domain.AppointmentStatusCompleted:
		return nil
	case domain.AppointmentStatusCancelled:
		return store.ErrInvalidSale
	}
	completedAt := at.UTC()
	appt.Status = domain.AppointmentStatusCompleted
	appt.CompletedAt = &completedAt
	s.appointments[appointmentID] = appt
	return nil
}

func (s *Store) GetClientByID(_ context.Context, tenantID, clientID string) (domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, exists := s.clients[clientID]
	if !exists || client.TenantID != tenantID {
		return domain.Client{}, store.ErrNotFound
	}
	return client, nil
}

func (s *Store) ApplyLoyaltyAccrual(_ context.Context, accrual domain.LoyaltyAccrual) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if accrual.SaleID == "" || accrual.ClientID == "" {
		return store.ErrInvalidSale
	}
	if _, applied := s.accrualsBySale[accrual.SaleID]; applied {
		return nil
	}
	client, exists := s.clients[accrual.ClientID]
	if !exists || client.TenantID != accrual.TenantID {
		return store.ErrNotFound
	}

	if accrual.OccurredAt.IsZero() {
		accrual.OccurredAt = time.Now().UTC()
	}
	client.Loyalty.PointsBalance += accrual.Points
	client.Loyalty.CashbackBalance = client.Loyalty.CashbackBalance.Add(accrual.Cashback)
	client.Loyalty.LifetimeSpend = client.Loyalty.LifetimeSpend.Add(accrual.Total)
	client.Loyalty.VisitCount++
	visitAt := accrual.OccurredAt
	client.Loyalty.LastVisitAt = &visitAt

	s.clients[client.ID] = client
	s.accrualsBySale[accrual.SaleID] = accrual
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" || sale.TenantID == "" {
		return domain.Sale{}, store.ErrInvalidSale
	}
	if existing, ok := s.salesByID[sale.ID]; ok {
		return existing, nil
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCommitting
	}
	s.salesByID[sale.ID] = sale
	return sale, nil
}

func (s *Store) GetSaleByID(_ context.Context, tenantID, saleID string) (domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists || sale.TenantID != tenantID {
		return domain.Sale{}, store.ErrNotFound
	}
	return sale, nil
}

func (s *Store) InsertSaleLines(_ context.Context, lines []domain.SaleLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range lines {
		if line.SaleID == "" || line.LineNo < 1 {
			return store.ErrInvalidSale
		}
		key := saleLineKey(line.SaleID, line.LineNo)
		if _, exists := s.saleLines[key]; exists {
			continue
		}
		s.saleLines[key] = line
	}
	return nil
}

func (s *Store) ListSaleLines(_ context.Context, tenantID, saleID string) ([]domain.SaleLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists || sale.TenantID != tenantID {
		return nil, store.ErrNotFound
	}

	lines := make([]domain.SaleLine, 0, 8)
	for _, line := range s.saleLines {
		if line.SaleID != saleID {
			continue
		}
		lines = append(lines, line)
	}
	slices.SortFunc(lines, func(a, b domain.SaleLine) int {
		return a.LineNo - b.LineNo
	})
	return lines, nil
}

func (s *Store) UpdateSaleStatus(_ context.Context, tenantID, saleID, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists || sale.TenantID != tenantID {
		return store.ErrNotFound
	}
	if sale.Status == to {
		return nil
	}
	if sale.Status != from {
		return store.ErrNotFound
	}
	sale.Status = to
	s.salesByID[saleID] = sale
	return nil
}

func (s *Store) ListSalesByStatus(_ context.Context, tenantID string, statuses []string) ([]domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}

	sales := make([]domain.Sale, 0, 16)
	for _, sale := range s.salesByID {
		if sale.TenantID != tenantID {
			continue
		}
		if _, ok := wanted[sale.Status]; !ok {
			continue
		}
		sales = append(sales, sale)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return sales, nil
}

func (s *Store) StockOutflow(_ context.Context, mv domain.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mv.ID == "" || mv.Quantity < 1 {
		return store.ErrInvalidSale
	}
	if _, exists := s.movements[mv.ID]; exists {
		return nil
	}
	p, exists := s.products[mv.ProductID]
	if !exists || p.TenantID != mv.TenantID {
		return store.ErrNotFound
	}
	if p.QuantityOnHand < mv.Quantity {
		return store.ErrStockExhausted
	}

	mv.Direction = domain.MovementOut
	if mv.OccurredAt.IsZero() {
		mv.OccurredAt = time.Now().UTC()
	}
	p.QuantityOnHand -= mv.Quantity
	s.products[mv.ProductID] = p
	s.movements[mv.ID] = mv
	return nil
}

func (s *Store) StockInflow(_ context.Context, mv domain.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mv.ID == "" || mv.Quantity < 1 {
		return store.ErrInvalidSale
	}
	if _, exists := s.movements[mv.ID]; exists {
		return nil
	}
	p, exists := s.products[mv.ProductID]
	if !exists || p.TenantID != mv.TenantID {
		return store.ErrNotFound
	}

	mv.Direction = domain.MovementIn
	if mv.OccurredAt.IsZero() {
		mv.OccurredAt = time.Now().UTC()
	}
	p.QuantityOnHand += mv.Quantity
	s.products[mv.ProductID] = p
	s.movements[mv.ID] = mv
	return nil
}

func (s *Store) ListStockMovements(_ context.Context, tenantID, productID string, since time.Time) ([]domain.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.StockMovement, 0, 32)
	for _, mv := range s.movements {
		if mv.TenantID != tenantID {
			continue
		}
		if productID != "" && mv.ProductID != productID {
			continue
		}
		if mv.OccurredAt.Before(since) {
			continue
		}
		result = append(result, mv)
	}
	slices.SortFunc(result, func(a, b domain.StockMovement) int {
		if a.OccurredAt.Equal(b.OccurredAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.OccurredAt.Before(b.OccurredAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) SetQuantityOnHand(_ context.Context, tenantID, productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.products[productID]
	if !exists || p.TenantID != tenantID {
		return store.ErrNotFound
	}
	p.QuantityOnHand = quantity
	s.products[productID] = p
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, tenantID string, limit int) ([]domain.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if tenantID != "" && entry.TenantID != tenantID {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return domain.UserAccount{}, store.ErrNotFound
	}
	return user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func saleLineKey(saleID string, lineNo int) string {
	return saleID + "#" + strconv.Itoa(lineNo)
}

func dateUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
