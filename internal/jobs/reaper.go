package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/Ananth-NQI/glamping-leads/internal/storage"
)

// RetryDrainer is the outbound retry queue as seen by the reaper.
type RetryDrainer interface {
	Drain(ctx context.Context, now time.Time) int
	Len() int
}

// Reaper deletes expired sessions and drains the outbound retry queue on a
// cron schedule.
type Reaper struct {
	sessions storage.SessionStore
	retries  RetryDrainer
	ttl      time.Duration
	schedule string
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
}

// NewReaper creates the reaper; schedule is a cron expression.
func NewReaper(sessions storage.SessionStore, retries RetryDrainer, ttl time.Duration, schedule string) (*Reaper, error) {
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid REAPER_SCHEDULE %q", schedule)
	}
	return &Reaper{
		sessions: sessions,
		retries:  retries,
		ttl:      ttl,
		schedule: schedule,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start runs the reaper in the background until Stop.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		log.Println("Reaper already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
	log.Printf("🧹 Reaper started (%s)", r.schedule)
}

// Stop halts the reaper and waits for an in-flight run.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Println("⏹️  Reaper stopped")
}

func (r *Reaper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		now := r.now()
		next, err := gronx.NextTickAfter(r.schedule, now, false)
		if err != nil {
			log.Printf("❌ Reaper schedule error: %v", err)
			return
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := r.RunOnce(ctx); err != nil {
			log.Printf("❌ Reaper run failed: %v", err)
		}
	}
}

// RunOnce deletes sessions idle for longer than the TTL and drains due
// retries. It returns the number of deleted sessions.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	now := r.now()

	var deleted int64
	if r.ttl > 0 {
		var err error
		deleted, err = r.sessions.DeleteExpired(ctx, now.Add(-r.ttl))
		if err != nil {
			return 0, fmt.Errorf("delete expired sessions: %w", err)
		}
		if deleted > 0 {
			log.Printf("🧹 Deleted %d expired sessions", deleted)
		}
	}

	if r.retries != nil {
		if sent := r.retries.Drain(ctx, now); sent > 0 {
			log.Printf("📤 Reaper redelivered %d messages (%d still queued)", sent, r.retries.Len())
		}
	}

	r.mu.Lock()
	r.lastRun = now
	r.mu.Unlock()
	return deleted, nil
}

// LastRun reports when the reaper last completed.
func (r *Reaper) LastRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}
