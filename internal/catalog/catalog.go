// Package catalog serves the read side of the terminal UI: product and
// service listings, tenant settings and the day's open appointments. List
// reads go through the snapshot cache; single-row lookups always hit the
// store because checkout needs live stock.
package catalog

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"belezapos/backend/internal/cache"
	"belezapos/backend/internal/domain"
	"belezapos/backend/internal/store"
)

type Reader struct {
	repo  store.Repository
	cache cache.SnapshotCache
	ttl   time.Duration
}

func NewReader(repo store.Repository, snapshots cache.SnapshotCache, ttl time.Duration) *Reader {
	if snapshots == nil {
		snapshots = cache.NoopSnapshotCache{}
	}
	return &Reader{repo: repo, cache: snapshots, ttl: ttl}
}

func (r *Reader) Products(ctx context.Context, tenantID string) ([]domain.Product, error) {
	key := "catalog:" + tenantID + ":products"
	var cached []domain.Product
	if hit := r.lookup(ctx, key, &cached); hit {
		return cached, nil
	}

	products, err := r.repo.ListProducts(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	r.remember(ctx, key, products)
	return products, nil
}

func (r *Reader) Services(ctx context.Context, tenantID string) ([]domain.Service, error) {
	key := "catalog:" + tenantID + ":services"
	var cached []domain.Service
	if hit := r.lookup(ctx, key, &cached); hit {
		return cached, nil
	}

	services, err := r.repo.ListServices(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	r.remember(ctx, key, services)
	return services, nil
}

func (r *Reader) Settings(ctx context.Context, tenantID string) (domain.TenantSettings, error) {
	key := "catalog:" + tenantID + ":settings"
	var cached domain.TenantSettings
	if hit := r.lookup(ctx, key, &cached); hit {
		return cached, nil
	}

	settings, err := r.repo.GetTenantSettings(ctx, tenantID)
	if err != nil {
		return domain.TenantSettings{}, err
	}
	r.remember(ctx, key, settings)
	return settings, nil
}

// OpenAppointmentsForToday is never cached: an appointment finalized on one
// terminal must disappear from every other terminal's picker immediately.
func (r *Reader) OpenAppointmentsForToday(ctx context.Context, tenantID string) ([]domain.Appointment, error) {
	return r.repo.ListOpenAppointmentsForDay(ctx, tenantID, time.Now().UTC())
}

func (r *Reader) lookup(ctx context.Context, key string, target any) bool {
	payload, found, err := r.cache.Get(ctx, key)
	if err != nil {
		log.Printf("[catalog] WARN: cache read %s failed: %v", key, err)
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal(payload, target); err != nil {
		log.Printf("[catalog] WARN: cache payload %s corrupt: %v", key, err)
		return false
	}
	return true
}

func (r *Reader) remember(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, payload, r.ttl); err != nil {
		log.Printf("[catalog] WARN: cache write %s failed: %v", key, err)
	}
}
