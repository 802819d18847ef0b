package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
)

// MemoryStore holds sessions and leads in memory (local development and tests)
type MemoryStore struct {
	opts Options

	sessions map[string]models.Session
	leads    map[string]models.Lead

	// Mutexes for thread safety
	sessionMu sync.RWMutex
	leadMu    sync.RWMutex

	// Counters for monitoring
	puts    int
	inserts int
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:     opts,
		sessions: make(map[string]models.Session),
		leads:    make(map[string]models.Lead),
	}
}

// Session operations

func (m *MemoryStore) Get(ctx context.Context, phone string, now time.Time) (models.Session, error) {
	if err := ctx.Err(); err != nil {
		return models.Session{}, err
	}

	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	session, exists := m.sessions[phone]
	if !exists {
		return models.NewSession(phone), nil
	}
	if expired(m.opts.StateTTL, session.UpdatedAt, now) {
		session = models.NewSession(phone)
		session.UpdatedAt = now
		m.sessions[phone] = session
		m.puts++
		return session, nil
	}
	session.Context = session.Context.Clone()
	return session, nil
}

func (m *MemoryStore) Put(ctx context.Context, phone string, state models.State, c models.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	m.sessions[phone] = models.Session{
		Phone:     phone,
		State:     state,
		Context:   c.Clone(),
		UpdatedAt: now,
	}
	m.puts++
	return nil
}

func (m *MemoryStore) Reset(ctx context.Context, phone string, now time.Time) error {
	return m.Put(ctx, phone, models.StateMenu, models.Context{}, now)
}

func (m *MemoryStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	var deleted int64
	for phone, session := range m.sessions {
		if session.UpdatedAt.Before(cutoff) {
			delete(m.sessions, phone)
			deleted++
		}
	}
	return deleted, nil
}

// Lead operations

func (m *MemoryStore) Insert(ctx context.Context, lead models.Lead) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.leadMu.Lock()
	defer m.leadMu.Unlock()

	if m.opts.LeadDedupWindow > 0 {
		for _, existing := range m.leads {
			if existing.Phone == lead.Phone &&
				existing.ArrivalDate == lead.ArrivalDate &&
				existing.DepartureDate == lead.DepartureDate &&
				lead.CreatedAt.Sub(existing.CreatedAt) <= m.opts.LeadDedupWindow {
				return existing.ID, nil
			}
		}
	}

	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.Status == "" {
		lead.Status = models.LeadStatusNew
	}
	lead.ContextSnapshot = lead.ContextSnapshot.Clone()
	m.leads[lead.ID] = lead
	m.inserts++
	return lead.ID, nil
}

// Monitoring helpers

// Leads returns a copy of all stored leads.
func (m *MemoryStore) Leads() []models.Lead {
	m.leadMu.RLock()
	defer m.leadMu.RUnlock()

	leads := make([]models.Lead, 0, len(m.leads))
	for _, lead := range m.leads {
		leads = append(leads, lead)
	}
	return leads
}

// ListLeads returns up to limit leads, newest first.
func (m *MemoryStore) ListLeads(ctx context.Context, limit int) ([]models.Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	leads := m.Leads()
	sort.Slice(leads, func(i, j int) bool { return leads[i].CreatedAt.After(leads[j].CreatedAt) })
	if limit > 0 && len(leads) > limit {
		leads = leads[:limit]
	}
	return leads, nil
}

// Peek returns the stored session without TTL handling.
func (m *MemoryStore) Peek(phone string) (models.Session, bool) {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	session, ok := m.sessions[phone]
	return session, ok
}

// SessionWrites returns how many session writes were performed.
func (m *MemoryStore) SessionWrites() int {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()
	return m.puts
}

// SessionCount returns the number of stored sessions.
func (m *MemoryStore) SessionCount() int {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()
	return len(m.sessions)
}
