package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
)

// ErrRetryQueueFull is returned when the queue is at capacity.
var ErrRetryQueueFull = errors.New("retry queue full")

// RetryConfig bounds outbound redelivery
type RetryConfig struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Capacity    int
	// SendTimeout bounds each redelivery attempt.
	SendTimeout time.Duration
}

// retryBatch holds the undelivered tail of one phone's outbound sequence.
type retryBatch struct {
	phone    string
	actions  []models.OutboundAction
	attempts int
	nextAt   time.Time
	backoff  *backoff.ExponentialBackOff
}

// RetryQueue redelivers actions that failed transiently. Batches are keyed by
// phone so a guest's messages keep their order: while a phone has a pending
// batch, new actions for it are appended instead of sent directly.
type RetryQueue struct {
	transport Transport
	cfg       RetryConfig

	mu      sync.Mutex
	batches map[string]*retryBatch
	order   []string
	// inflight marks phones whose batch is being delivered by Drain
	inflight map[string]bool
	size     int
	dropped  int
}

// NewRetryQueue creates a retry queue in front of transport
func NewRetryQueue(transport Transport, cfg RetryConfig) *RetryQueue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Initial <= 0 {
		cfg.Initial = time.Second
	}
	if cfg.Max <= 0 {
		cfg.Max = time.Minute
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &RetryQueue{transport: transport, cfg: cfg, batches: make(map[string]*retryBatch), inflight: make(map[string]bool)}
}

func (q *RetryQueue) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.Initial
	b.MaxInterval = q.cfg.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Enqueue schedules actions for phone after the first backoff interval.
func (q *RetryQueue) Enqueue(phone string, actions []models.OutboundAction, now time.Time) error {
	if len(actions) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size+len(actions) > q.cfg.Capacity {
		q.dropped += len(actions)
		log.Printf("⚠️ Retry queue full, dropping %d messages for %s", len(actions), phone)
		return ErrRetryQueueFull
	}
	q.size += len(actions)

	if b, ok := q.batches[phone]; ok {
		b.actions = append(b.actions, actions...)
		return nil
	}
	b := &retryBatch{phone: phone, actions: append([]models.OutboundAction(nil), actions...), backoff: q.newBackoff()}
	b.nextAt = now.Add(b.backoff.NextBackOff())
	q.batches[phone] = b
	q.order = append(q.order, phone)
	return nil
}

// Pending reports whether phone has undelivered actions.
func (q *RetryQueue) Pending(phone string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.batches[phone]
	return ok || q.inflight[phone]
}

// Len returns the number of queued actions.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns the number of actions given up on.
func (q *RetryQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// due removes and returns batches whose backoff has elapsed.
func (q *RetryQueue) due(now time.Time) []*retryBatch {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []*retryBatch
	remaining := q.order[:0]
	for _, phone := range q.order {
		b := q.batches[phone]
		if !b.nextAt.After(now) {
			ready = append(ready, b)
			delete(q.batches, phone)
			q.inflight[phone] = true
			q.size -= len(b.actions)
			continue
		}
		remaining = append(remaining, phone)
	}
	q.order = remaining
	return ready
}

// putBack reschedules b, merging anything enqueued for the phone meanwhile
// behind the failed actions.
func (q *RetryQueue) putBack(b *retryBatch) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, b.phone)
	if newer, ok := q.batches[b.phone]; ok {
		q.size -= len(newer.actions)
		b.actions = append(b.actions, newer.actions...)
	} else {
		q.order = append(q.order, b.phone)
	}
	q.batches[b.phone] = b
	q.size += len(b.actions)
}

// Drain attempts every due batch once. Returns the number of delivered actions.
func (q *RetryQueue) Drain(ctx context.Context, now time.Time) int {
	delivered := 0
	for _, b := range q.due(now) {
		sent, failed := q.deliver(ctx, b)
		delivered += sent
		if !failed {
			q.done(b.phone)
			continue
		}

		b.attempts++
		if b.attempts >= q.cfg.MaxAttempts {
			q.mu.Lock()
			q.dropped += len(b.actions)
			q.mu.Unlock()
			q.done(b.phone)
			log.Printf("❌ Giving up on %d messages for %s after %d attempts", len(b.actions), b.phone, b.attempts)
			continue
		}
		b.nextAt = now.Add(b.backoff.NextBackOff())
		q.putBack(b)
	}
	return delivered
}

func (q *RetryQueue) done(phone string) {
	q.mu.Lock()
	delete(q.inflight, phone)
	q.mu.Unlock()
}

// deliver sends b's actions in order, trimming what went out. It stops at the
// first transient failure; permanent failures are logged and skipped.
func (q *RetryQueue) deliver(ctx context.Context, b *retryBatch) (int, bool) {
	sent := 0
	for len(b.actions) > 0 {
		sendCtx, cancel := context.WithTimeout(ctx, q.cfg.SendTimeout)
		err := q.transport.Send(sendCtx, b.actions[0])
		cancel()
		if err != nil && IsTransient(err) {
			log.Printf("⚠️ Retry %d for %s failed: %v", b.attempts+1, b.phone, err)
			return sent, true
		}
		if err != nil {
			log.Printf("❌ Dropping undeliverable %s to %s: %v", b.actions[0].Kind, b.phone, err)
			q.mu.Lock()
			q.dropped++
			q.mu.Unlock()
		} else {
			sent++
		}
		b.actions = b.actions[1:]
	}
	return sent, false
}

// Run drains the queue every interval until ctx is cancelled.
func (q *RetryQueue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := q.Drain(ctx, now); n > 0 {
				log.Printf("📤 Redelivered %d queued messages", n)
			}
		}
	}
}
