package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
)

// ErrNotFound is returned when a lookup matches nothing
var ErrNotFound = errors.New("not found")

// SessionStore persists per-phone conversation state.
//
// Get returns a fresh MENU session without writing when no record exists.
// A record idle for longer than the store's TTL is reset to MENU, persisted,
// and the reset session returned.
type SessionStore interface {
	Get(ctx context.Context, phone string, now time.Time) (models.Session, error)
	Put(ctx context.Context, phone string, state models.State, c models.Context, now time.Time) error
	Reset(ctx context.Context, phone string, now time.Time) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// LeadStore is the append-only sink for completed leads.
//
// Insert is best-effort-once. When the store was built with a dedup window,
// a lead matching (phone, arrival_date, departure_date) created within the
// window returns the existing id instead of inserting a second row.
type LeadStore interface {
	Insert(ctx context.Context, lead models.Lead) (string, error)
}

// LeadLister is implemented by stores that can list leads for the back office.
type LeadLister interface {
	ListLeads(ctx context.Context, limit int) ([]models.Lead, error)
}

// Options configures the stores
type Options struct {
	// StateTTL is the idle time after which a session resets. Zero disables expiry.
	StateTTL time.Duration
	// LeadDedupWindow enables lead dedup when positive.
	LeadDedupWindow time.Duration
}

func expired(ttl time.Duration, updatedAt, now time.Time) bool {
	return ttl > 0 && now.Sub(updatedAt) > ttl
}
