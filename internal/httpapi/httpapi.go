// Package httpapi exposes the checkout engine over REST for the terminal
// frontend.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"belezapos/backend/internal/catalog"
	"belezapos/backend/internal/checkout"
	"belezapos/backend/internal/domain"
	"belezapos/backend/internal/ledger"
	"belezapos/backend/internal/store"
)

type API struct {
	engine        *checkout.Engine
	catalog       *catalog.Reader
	ledger        *ledger.Ledger
	repo          store.Repository
	auth          *AuthManager
	allowedOrigin string
	tenantID      string
	loginLimiter  *attemptLimiter
}

func New(engine *checkout.Engine, reader *catalog.Reader, led *ledger.Ledger, repo store.Repository, auth *AuthManager, allowedOrigin, tenantID string) *API {
	return &API{
		engine:        engine,
		catalog:       reader,
		ledger:        led,
		repo:          repo,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		tenantID:      tenantID,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{a.allowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(a.securityHeaders)

	r.Get("/healthz", a.handleHealth)
	r.Post("/api/v1/auth/login", a.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth("cashier", "admin"))

		r.Get("/api/v1/products", a.handleListProducts)
		r.Get("/api/v1/services", a.handleListServices)
		r.Get("/api/v1/appointments/today", a.handleOpenAppointments)

		r.Post("/api/v1/checkout/sessions", a.handleSessionCreate)
		r.Route("/api/v1/checkout/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", a.handleSessionGet)
			r.Delete("/", a.handleSessionCancel)
			r.Post("/items", a.handleItemAdd)
			r.Patch("/items/{kind}/{itemID}", a.handleItemQuantity)
			r.Delete("/items/{kind}/{itemID}", a.handleItemRemove)
			r.Post("/discount", a.handleDiscount)
			r.Post("/client", a.handleClient)
			r.Post("/finalize", a.handleFinalize)
		})

		r.Get("/api/v1/sales/{saleID}", a.handleSaleGet)
		r.Get("/api/v1/sales/{saleID}/receipt", a.handleSaleReceipt)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth("admin"))

		r.Post("/api/v1/sales/{saleID}/repair", a.handleSaleRepair)
		r.Post("/api/v1/inventory/receive", a.handleStockReceive)
		r.Get("/api/v1/inventory/critical", a.handleCriticalStock)
		r.Get("/api/v1/inventory/{productID}/turnover", a.handleTurnover)
		r.Post("/api/v1/inventory/reconcile", a.handleReconcile)
		r.Get("/api/v1/audit-logs", a.handleAuditLogs)
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}

			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(checkout.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.catalog.Products(r.Context(), a.tenantID)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := a.catalog.Services(r.Context(), a.tenantID)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (a *API) handleOpenAppointments(w http.ResponseWriter, r *http.Request) {
	appointments, err := a.catalog.OpenAppointmentsForToday(r.Context(), a.tenantID)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appointments})
}

func (a *API) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := a.engine.CreateSession(r.Context(), a.tenantID, strings.TrimSpace(req.TerminalID))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	view, err := a.engine.Session(r.Context(), a.tenantID, chi.URLParam(r, "sessionID"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSessionCancel(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Cancel(r.Context(), a.tenantID, chi.URLParam(r, "sessionID")); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleItemAdd(w http.ResponseWriter, r *http.Request) {
	var req domain.AddItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := a.engine.AddItem(r.Context(), a.tenantID, chi.URLParam(r, "sessionID"), req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleItemQuantity(w http.ResponseWriter, r *http.Request) {
	var req domain.SetQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := a.engine.SetQuantity(r.Context(), a.tenantID, chi.URLParam(r, "sessionID"),
		chi.URLParam(r, "itemID"), domain.LineKind(chi.URLParam(r, "kind")), req.Quantity)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleItemRemove(w http.ResponseWriter, r *http.Request) {
	view, err := a.engine.RemoveItem(r.Context(), a.tenantID, chi.URLParam(r, "sessionID"),
		chi.URLParam(r, "itemID"), domain.LineKind(chi.URLParam(r, "kind")))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.SetDiscountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := a.engine.SetDiscount(r.Context(), a.tenantID, chi.URLParam(r, "sessionID"), req.Mode, req.Value)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleClient(w http.ResponseWriter, r *http.Request) {
	var req domain.SetClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := a.engine.SetClient(r.Context(), a.tenantID, chi.URLParam(r, "sessionID"), strings.TrimSpace(req.ClientID))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req domain.FinalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.engine.Finalize(r.Context(), a.tenantID, chi.URLParam(r, "sessionID"), req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSaleGet(w http.ResponseWriter, r *http.Request) {
	resp, err := a.engine.Sale(r.Context(), a.tenantID, chi.URLParam(r, "saleID"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSaleReceipt(w http.ResponseWriter, r *http.Request) {
	doc, err := a.engine.Receipt(r.Context(), a.tenantID, chi.URLParam(r, "saleID"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	payload := map[string]any{"preview_text": doc.Text()}
	if r.URL.Query().Get("format") == "escpos" {
		payload["escpos_base64"] = base64.StdEncoding.EncodeToString(doc.ESCPOS())
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) handleSaleRepair(w http.ResponseWriter, r *http.Request) {
	sale, err := a.engine.Repair(r.Context(), a.tenantID, chi.URLParam(r, "saleID"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleStockReceive(w http.ResponseWriter, r *http.Request) {
	var req domain.StockReceiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.ledger.RecordInflow(r.Context(), a.tenantID, req.ProductID, req.Quantity, req.Reference); err != nil {
		a.writeDomainError(w, err)
		return
	}
	stock, err := a.ledger.CurrentStock(r.Context(), a.tenantID, req.ProductID)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product_id":       req.ProductID,
		"quantity_on_hand": stock,
	})
}

func (a *API) handleCriticalStock(w http.ResponseWriter, r *http.Request) {
	products, err := a.ledger.CriticalProducts(r.Context(), a.tenantID)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleTurnover(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	windowDays := 30
	if raw := strings.TrimSpace(r.URL.Query().Get("window_days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, errors.New("window_days must be a positive integer"))
			return
		}
		windowDays = parsed
	}

	rate, err := a.ledger.TurnoverRate(r.Context(), a.tenantID, productID, windowDays)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.TurnoverResponse{
		ProductID:  productID,
		WindowDays: windowDays,
		Rate:       rate,
	})
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	drifts, err := a.ledger.Reconcile(r.Context(), a.tenantID)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ReconcileResponse{
		TenantID:  a.tenantID,
		Drifts:    drifts,
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.repo.ListAuditLogs(r.Context(), a.tenantID, limit)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, checkout.ErrSessionNotFound),
		errors.Is(err, checkout.ErrLineNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, checkout.ErrInsufficientStock), errors.Is(err, store.ErrStockExhausted),
		errors.Is(err, checkout.ErrStaleTotalMismatch), errors.Is(err, checkout.ErrSessionClosed),
		errors.Is(err, checkout.ErrDuplicateAppointment), errors.Is(err, checkout.ErrClientMismatch):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, checkout.ErrUnsupportedPaymentMethod), errors.Is(err, checkout.ErrInvalidDiscount),
		errors.Is(err, checkout.ErrEmptyCart), errors.Is(err, checkout.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidQuantity), errors.Is(err, store.ErrInvalidSale):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details. 4xx responses are user-facing so the original
	// error message goes through.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
