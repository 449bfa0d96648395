// Package postgres backs the repository with PostgreSQL. The sale commit
// steps lean on ON CONFLICT DO NOTHING and conditional updates so every
// write stays idempotent under replays.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"belezapos/backend/internal/domain"
	"belezapos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetTenantSettings(ctx context.Context, tenantID string) (domain.TenantSettings, error) {
	var settings domain.TenantSettings
	var methods []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, name, currency_symbol, currency_minor_unit, accepted_payment_methods,
			loyalty_minimum_eligible_amount, loyalty_currency_per_point, loyalty_cashback_percent
		FROM tenant_settings
		WHERE tenant_id = $1
	`, tenantID).Scan(
		&settings.TenantID,
		&settings.Name,
		&settings.CurrencySymbol,
		&settings.CurrencyMinorUnit,
		&methods,
		&settings.Loyalty.MinimumEligibleAmount,
		&settings.Loyalty.CurrencyPerPoint,
		&settings.Loyalty.CashbackPercent,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TenantSettings{}, store.ErrNotFound
		}
		return domain.TenantSettings{}, err
	}
	settings.AcceptedPaymentMethods = parseTextArray(methods)
	return settings, nil
}

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, sale_price, cost_price, quantity_on_hand, minimum_threshold, active
		FROM products
		WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.SalePrice, &p.CostPrice, &p.QuantityOnHand, &p.MinimumThreshold, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProductByID(ctx context.Context, tenantID, productID string) (domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, sale_price, cost_price, quantity_on_hand, minimum_threshold, active
		FROM products
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID).Scan(&p.ID, &p.TenantID, &p.Name, &p.SalePrice, &p.CostPrice, &p.QuantityOnHand, &p.MinimumThreshold, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, store.ErrNotFound
		}
		return domain.Product{}, err
	}
	return p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, tenantID string, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, sale_price, cost_price, quantity_on_hand, minimum_threshold, active
		FROM products
		WHERE tenant_id = $1 AND id = ANY($2)
	`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.SalePrice, &p.CostPrice, &p.QuantityOnHand, &p.MinimumThreshold, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListServices(ctx context.Context, tenantID string) ([]domain.Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, price, duration_minutes, active
		FROM services
		WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	services := make([]domain.Service, 0, 32)
	for rows.Next() {
		var svc domain.Service
		if err := rows.Scan(&svc.ID, &svc.TenantID, &svc.Name, &svc.Price, &svc.DurationMinutes, &svc.Active); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return services, nil
}

func (s *Store) GetServiceByID(ctx context.Context, tenantID, serviceID string) (domain.Service, error) {
	var svc domain.Service
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, price, duration_minutes, active
		FROM services
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, serviceID).Scan(&svc.ID, &svc.TenantID, &svc.Name, &svc.Price, &svc.DurationMinutes, &svc.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Service{}, store.ErrNotFound
		}
		return domain.Service{}, err
	}
	return svc, nil
}

func (s *Store) ListOpenAppointmentsForDay(ctx context.Context, tenantID string, day time.Time) ([]domain.Appointment, error) {
	dayStart := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, client_id, professional_id, service_id, service_name, price, status, scheduled_at, completed_at
		FROM appointments
		WHERE tenant_id = $1 AND status = 'scheduled' AND scheduled_at >= $2 AND scheduled_at < $3
		ORDER BY scheduled_at
	`, tenantID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appointments := make([]domain.Appointment, 0, 16)
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return appointments, nil
}

func (s *Store) GetAppointmentByID(ctx context.Context, tenantID, appointmentID string) (domain.Appointment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, client_id, professional_id, service_id, service_name, price, status, scheduled_at, completed_at
		FROM appointments
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, appointmentID)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

// CompleteAppointment moves an appointment to completed. Completing an
// already completed appointment is a no-op so sale replays pass through.
func (s *Store) CompleteAppointment(ctx context.Context, tenantID, appointmentID, saleID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE appointments
		SET status = 'completed', completed_at = $4, completed_sale_id = $3
		WHERE tenant_id = $1 AND id = $2 AND status = 'scheduled'
	`, tenantID, appointmentID, saleID, at.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `
		SELECT status FROM appointments WHERE tenant_id = $1 AND id = $2
	`, tenantID, appointmentID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if status == domain.AppointmentStatusCompleted {
		return nil
	}
	return store.ErrInvalidSale
}

func (s *Store) GetClientByID(ctx context.Context, tenantID, clientID string) (domain.Client, error) {
	var client domain.Client
	var lastVisit sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(phone, ''),
			points_balance, cashback_balance, lifetime_spend, visit_count, last_visit_at
		FROM clients
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, clientID).Scan(
		&client.ID, &client.TenantID, &client.Name, &client.Phone,
		&client.Loyalty.PointsBalance, &client.Loyalty.CashbackBalance,
		&client.Loyalty.LifetimeSpend, &client.Loyalty.VisitCount, &lastVisit,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Client{}, store.ErrNotFound
		}
		return domain.Client{}, err
	}
	if lastVisit.Valid {
		at := lastVisit.Time.UTC()
		client.Loyalty.LastVisitAt = &at
	}
	return client, nil
}

// ApplyLoyaltyAccrual credits a sale's points and cashback exactly once.
// The accrual row's primary key is the sale id; when the insert hits the
// conflict the balances were already credited and nothing changes.
func (s *Store) ApplyLoyaltyAccrual(ctx context.Context, accrual domain.LoyaltyAccrual) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO loyalty_accruals (sale_id, tenant_id, client_id, points, cashback, total, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (sale_id) DO NOTHING
	`, accrual.SaleID, accrual.TenantID, accrual.ClientID, accrual.Points, accrual.Cashback, accrual.Total, accrual.OccurredAt.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return tx.Commit()
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE clients
		SET points_balance = points_balance + $3,
			cashback_balance = cashback_balance + $4,
			lifetime_spend = lifetime_spend + $5,
			visit_count = visit_count + 1,
			last_visit_at = $6
		WHERE tenant_id = $1 AND id = $2
	`, accrual.TenantID, accrual.ClientID, accrual.Points, accrual.Cashback, accrual.Total, accrual.OccurredAt.UTC())
	if err != nil {
		return err
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

// CreateSale inserts the sale row, or returns the stored row when the id
// already exists. The returned status tells a replaying caller where the
// previous attempt got to.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	if sale.ID == "" || sale.TenantID == "" {
		return domain.Sale{}, store.ErrInvalidSale
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (id, tenant_id, client_id, subtotal, discount_amount, total,
			payment_method, points_accrued, cashback_accrued, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING
	`, sale.ID, sale.TenantID, nullIfEmpty(sale.ClientID), sale.Subtotal, sale.DiscountAmount, sale.Total,
		sale.PaymentMethod, sale.PointsAccrued, sale.CashbackAccrued, sale.Status, sale.CreatedAt.UTC())
	if err != nil {
		return domain.Sale{}, err
	}

	return s.GetSaleByID(ctx, sale.TenantID, sale.ID)
}

func (s *Store) GetSaleByID(ctx context.Context, tenantID, saleID string) (domain.Sale, error) {
	var sale domain.Sale
	var clientID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, client_id, subtotal, discount_amount, total,
			payment_method, points_accrued, cashback_accrued, status, created_at
		FROM sales
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, saleID).Scan(
		&sale.ID, &sale.TenantID, &clientID, &sale.Subtotal, &sale.DiscountAmount, &sale.Total,
		&sale.PaymentMethod, &sale.PointsAccrued, &sale.CashbackAccrued, &sale.Status, &sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, store.ErrNotFound
		}
		return domain.Sale{}, err
	}
	if clientID.Valid {
		sale.ClientID = clientID.String
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, nil
}

func (s *Store) InsertSaleLines(ctx context.Context, lines []domain.SaleLine) error {
	if len(lines) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, line := range lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, line_no, item_id, kind, name, quantity, unit_price, line_total, source_appointment_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (sale_id, line_no) DO NOTHING
		`, line.SaleID, line.LineNo, line.ItemID, string(line.Kind), line.Name, line.Quantity, line.UnitPrice, line.LineTotal, nullIfEmpty(line.SourceAppointmentID))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListSaleLines(ctx context.Context, tenantID, saleID string) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.sale_id, l.line_no, l.item_id, l.kind, l.name, l.quantity, l.unit_price, l.line_total, COALESCE(l.source_appointment_id, '')
		FROM sale_lines l
		JOIN sales s ON s.id = l.sale_id
		WHERE s.tenant_id = $1 AND l.sale_id = $2
		ORDER BY l.line_no
	`, tenantID, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		var kind string
		if err := rows.Scan(&line.SaleID, &line.LineNo, &line.ItemID, &kind, &line.Name, &line.Quantity, &line.UnitPrice, &line.LineTotal, &line.SourceAppointmentID); err != nil {
			return nil, err
		}
		line.Kind = domain.LineKind(kind)
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// UpdateSaleStatus moves a sale from one status to another. Finding the
// sale already at the target status is success, so replays settle cleanly.
func (s *Store) UpdateSaleStatus(ctx context.Context, tenantID, saleID, from, to string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales SET status = $4
		WHERE tenant_id = $1 AND id = $2 AND status = $3
	`, tenantID, saleID, from, to)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `
		SELECT status FROM sales WHERE tenant_id = $1 AND id = $2
	`, tenantID, saleID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if current == to {
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) ListSalesByStatus(ctx context.Context, tenantID string, statuses []string) ([]domain.Sale, error) {
	if len(statuses) == 0 {
		return []domain.Sale{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, client_id, subtotal, discount_amount, total,
			payment_method, points_accrued, cashback_accrued, status, created_at
		FROM sales
		WHERE tenant_id = $1 AND status = ANY($2)
		ORDER BY created_at
	`, tenantID, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 16)
	for rows.Next() {
		var sale domain.Sale
		var clientID sql.NullString
		if err := rows.Scan(&sale.ID, &sale.TenantID, &clientID, &sale.Subtotal, &sale.DiscountAmount, &sale.Total,
			&sale.PaymentMethod, &sale.PointsAccrued, &sale.CashbackAccrued, &sale.Status, &sale.CreatedAt); err != nil {
			return nil, err
		}
		if clientID.Valid {
			sale.ClientID = clientID.String
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

// StockOutflow appends an out movement and decrements the on-hand counter.
// The decrement carries the quantity guard in its WHERE clause, so of two
// concurrent sales of the last unit exactly one sees a row update and the
// other gets ErrStockExhausted with nothing written. A movement id that
// already exists means this outflow was applied by an earlier attempt.
func (s *Store) StockOutflow(ctx context.Context, mv domain.StockMovement) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, tenant_id, product_id, direction, quantity, related_sale_id, reference, occurred_at)
		VALUES ($1,$2,$3,'out',$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING
	`, mv.ID, mv.TenantID, mv.ProductID, mv.Quantity, nullIfEmpty(mv.RelatedSaleID), nullIfEmpty(mv.Reference), mv.OccurredAt.UTC())
	if err != nil {
		return err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return tx.Commit()
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE products
		SET quantity_on_hand = quantity_on_hand - $3
		WHERE tenant_id = $1 AND id = $2 AND quantity_on_hand >= $3
	`, mv.TenantID, mv.ProductID, mv.Quantity)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Rolling back also discards the movement insert.
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT true FROM products WHERE tenant_id = $1 AND id = $2
		`, mv.TenantID, mv.ProductID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		return store.ErrStockExhausted
	}
	return tx.Commit()
}

func (s *Store) StockInflow(ctx context.Context, mv domain.StockMovement) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, tenant_id, product_id, direction, quantity, related_sale_id, reference, occurred_at)
		VALUES ($1,$2,$3,'in',$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING
	`, mv.ID, mv.TenantID, mv.ProductID, mv.Quantity, nullIfEmpty(mv.RelatedSaleID), nullIfEmpty(mv.Reference), mv.OccurredAt.UTC())
	if err != nil {
		return err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return tx.Commit()
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE products
		SET quantity_on_hand = quantity_on_hand + $3
		WHERE tenant_id = $1 AND id = $2
	`, mv.TenantID, mv.ProductID, mv.Quantity)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) ListStockMovements(ctx context.Context, tenantID, productID string, since time.Time) ([]domain.StockMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, product_id, direction, quantity, COALESCE(related_sale_id, ''), COALESCE(reference, ''), occurred_at
		FROM stock_movements
		WHERE tenant_id = $1
			AND ($2 = '' OR product_id = $2)
			AND occurred_at >= $3
		ORDER BY occurred_at
	`, tenantID, productID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, 64)
	for rows.Next() {
		var mv domain.StockMovement
		if err := rows.Scan(&mv.ID, &mv.TenantID, &mv.ProductID, &mv.Direction, &mv.Quantity, &mv.RelatedSaleID, &mv.Reference, &mv.OccurredAt); err != nil {
			return nil, err
		}
		mv.OccurredAt = mv.OccurredAt.UTC()
		movements = append(movements, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) SetQuantityOnHand(ctx context.Context, tenantID, productID string, quantity int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET quantity_on_hand = $3
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID, quantity)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TenantID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt.UTC())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,now())
	`, user.Username, user.Password, user.Role, user.Active)
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, role, active
		FROM users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserAccount{}, store.ErrNotFound
		}
		return domain.UserAccount{}, err
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (domain.Appointment, error) {
	var appt domain.Appointment
	var completedAt sql.NullTime
	err := row.Scan(&appt.ID, &appt.TenantID, &appt.ClientID, &appt.ProfessionalID, &appt.ServiceID,
		&appt.ServiceName, &appt.Price, &appt.Status, &appt.ScheduledAt, &completedAt)
	if err != nil {
		return domain.Appointment{}, err
	}
	appt.ScheduledAt = appt.ScheduledAt.UTC()
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		appt.CompletedAt = &at
	}
	return appt, nil
}

// parseTextArray decodes the text form of a postgres text[] column, e.g.
// {cash,card,pix}. Values in this schema never contain commas or quotes.
func parseTextArray(raw []byte) []string {
	trimmed := strings.Trim(string(raw), "{}")
	if trimmed == "" {
		return nil
	}
	parts := make([]string, 0, 4)
	for _, part := range strings.Split(trimmed, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
