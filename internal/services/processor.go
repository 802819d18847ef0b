package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
	"github.com/Ananth-NQI/glamping-leads/internal/storage"
)

var (
	// ErrStoreUnavailable means the message could not be durably processed;
	// the webhook must answer non-2xx so the provider redelivers.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrSessionBusy is returned by Seed when a conversation is in progress.
	ErrSessionBusy = errors.New("session has a conversation in progress")
)

// ProcessorConfig holds the adapter's timing knobs
type ProcessorConfig struct {
	StoreTimeout    time.Duration
	OutboundTimeout time.Duration
	HandlerDeadline time.Duration
	StoreAttempts   int
}

// ProcessorStats are counters exposed on /health.
type ProcessorStats struct {
	Processed  int64 `json:"processed"`
	Duplicates int64 `json:"duplicates"`
	Leads      int64 `json:"leads"`
	Queued     int   `json:"queued_outbound"`
}

// Processor is the webhook adapter around the dialogue engine: it dedups,
// serializes per phone, loads and persists sessions, records leads and hands
// outbound actions to the transport.
type Processor struct {
	sessions  storage.SessionStore
	leads     storage.LeadStore
	dialogue  *Dialogue
	transport Transport
	retries   *RetryQueue
	dedup     *DedupCache
	locks     *KeyedMutex
	clock     Clock
	ids       IDGenerator
	cfg       ProcessorConfig
	tracer    trace.Tracer

	processed  atomic.Int64
	duplicates atomic.Int64
	leadCount  atomic.Int64
}

// ProcessorDeps bundles the collaborators of a Processor.
type ProcessorDeps struct {
	Sessions  storage.SessionStore
	Leads     storage.LeadStore
	Dialogue  *Dialogue
	Transport Transport
	Retries   *RetryQueue
	Dedup     *DedupCache
	Clock     Clock
	IDs       IDGenerator
}

// NewProcessor creates the adapter
func NewProcessor(deps ProcessorDeps, cfg ProcessorConfig) *Processor {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if cfg.OutboundTimeout <= 0 {
		cfg.OutboundTimeout = 5 * time.Second
	}
	if cfg.HandlerDeadline <= 0 {
		cfg.HandlerDeadline = 10 * time.Second
	}
	if cfg.StoreAttempts <= 0 {
		cfg.StoreAttempts = 3
	}
	if deps.Dialogue == nil {
		deps.Dialogue = NewDialogue(DialogueConfig{})
	}
	if deps.Retries == nil {
		deps.Retries = NewRetryQueue(deps.Transport, RetryConfig{})
	}
	if deps.Dedup == nil {
		deps.Dedup = NewDedupCache(0, 0)
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.IDs == nil {
		deps.IDs = UUIDGenerator{}
	}

	return &Processor{
		sessions:  deps.Sessions,
		leads:     deps.Leads,
		dialogue:  deps.Dialogue,
		transport: deps.Transport,
		retries:   deps.Retries,
		dedup:     deps.Dedup,
		locks:     NewKeyedMutex(),
		clock:     deps.Clock,
		ids:       deps.IDs,
		cfg:       cfg,
		tracer:    otel.Tracer("github.com/Ananth-NQI/glamping-leads/services"),
	}
}

// HandleEnvelope processes every message of a webhook delivery. It returns
// ErrStoreUnavailable if any message could not be persisted; messages that
// did succeed are remembered and skipped on redelivery.
func (p *Processor) HandleEnvelope(ctx context.Context, payload models.WebhookPayload) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.HandlerDeadline)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "whatsapp.webhook", trace.WithAttributes(attribute.Int("whatsapp.entries", len(payload.Entry))))
	defer span.End()

	var firstErr error
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, status := range change.Value.Statuses {
				log.Printf("📬 Delivery status %s for %s (recipient %s)", status.Status, status.ID, status.RecipientID)
			}
			for _, msg := range change.Value.Messages {
				if err := p.ProcessMessage(ctx, msg); err != nil && firstErr == nil {
					firstErr = err
					span.SetStatus(codes.Error, err.Error())
				}
			}
		}
	}
	return firstErr
}

// ProcessMessage runs one inbound message through the engine.
func (p *Processor) ProcessMessage(ctx context.Context, msg models.WebhookMessage) (err error) {
	ctx, span := p.tracer.Start(ctx, "whatsapp.process_message",
		trace.WithAttributes(
			attribute.String("whatsapp.message_id", msg.ID),
			attribute.String("whatsapp.message_type", msg.Type),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	event := Classify(msg)
	if event.FromPhone == "" {
		log.Printf("⚠️ Dropping message %s without sender", event.MessageID)
		return nil
	}
	if p.isDuplicate(event) {
		return nil
	}

	unlock, err := p.locks.Lock(ctx, event.FromPhone)
	if err != nil {
		return fmt.Errorf("%w: waiting for %s: %v", ErrStoreUnavailable, event.FromPhone, err)
	}
	defer unlock()

	// a concurrent delivery of the same id may have finished while we waited
	if p.isDuplicate(event) {
		return nil
	}

	session, err := retryStore(ctx, p, func(ctx context.Context) (models.Session, error) {
		return p.sessions.Get(ctx, event.FromPhone, p.clock.Now())
	})
	if err != nil {
		log.Printf("❌ Failed to load session for %s: %v", event.FromPhone, err)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if event.MessageID != "" && session.Context.LastInboundID == event.MessageID {
		p.dedup.Mark(event.MessageID)
		p.duplicates.Add(1)
		log.Printf("🔁 Message %s already applied to %s", event.MessageID, event.FromPhone)
		return nil
	}

	now := p.clock.Now()
	res := p.dialogue.Step(session, event, now)
	span.SetAttributes(
		attribute.String("dialogue.from_state", string(session.State)),
		attribute.String("dialogue.to_state", string(res.NextState)),
	)

	if res.Lead != nil {
		lead := *res.Lead
		lead.ID = p.ids.NewID()
		id, err := retryStore(ctx, p, func(ctx context.Context) (string, error) {
			return p.leads.Insert(ctx, lead)
		})
		if err != nil {
			log.Printf("❌ Failed to record lead for %s: %v", event.FromPhone, err)
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		p.leadCount.Add(1)
		span.SetAttributes(attribute.String("lead.id", id))
		log.Printf("🎉 Lead %s captured for %s (%s, %s → %s)", id, lead.Phone, lead.City, lead.ArrivalDate, lead.DepartureDate)
	}

	if res.Persist {
		_, err := retryStore(ctx, p, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.sessions.Put(ctx, event.FromPhone, res.NextState, res.NextContext, now)
		})
		if err != nil {
			log.Printf("❌ Failed to save session for %s: %v", event.FromPhone, err)
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if event.MessageID != "" {
		p.dedup.Mark(event.MessageID)
	}
	p.processed.Add(1)
	log.Printf("💬 %s: %s → %s (%s)", event.FromPhone, session.State, res.NextState, event.Kind)

	p.deliver(ctx, event.FromPhone, res.Outbound)
	return nil
}

func (p *Processor) isDuplicate(event models.InboundEvent) bool {
	if event.MessageID == "" || !p.dedup.Seen(event.MessageID) {
		return false
	}
	p.duplicates.Add(1)
	log.Printf("🔁 Duplicate message %s from %s ignored", event.MessageID, event.FromPhone)
	return true
}

// deliver sends actions in order. The first transient failure, or running
// out of handler time, hands the rest to the retry queue.
func (p *Processor) deliver(ctx context.Context, phone string, actions []models.OutboundAction) {
	if len(actions) == 0 {
		return
	}
	if p.retries.Pending(phone) {
		p.enqueue(phone, actions)
		return
	}

	for i, action := range actions {
		if ctx.Err() != nil {
			p.enqueue(phone, actions[i:])
			return
		}

		sendCtx, cancel := context.WithTimeout(ctx, p.cfg.OutboundTimeout)
		err := p.transport.Send(sendCtx, action)
		cancel()
		if err == nil {
			continue
		}
		if IsTransient(err) {
			log.Printf("⚠️ Send to %s failed, queueing %d messages: %v", phone, len(actions)-i, err)
			p.enqueue(phone, actions[i:])
			return
		}
		log.Printf("❌ Dropping undeliverable %s to %s: %v", action.Kind, phone, err)
	}
}

func (p *Processor) enqueue(phone string, actions []models.OutboundAction) {
	if err := p.retries.Enqueue(phone, actions, p.clock.Now()); err != nil {
		log.Printf("❌ Could not queue %d messages for %s: %v", len(actions), phone, err)
	}
}

// Seed pre-populates a session before the guest's first message, typically
// from a property page deep link. Only idle sessions (MENU or DONE) can be
// seeded; a message being processed for phone counts as busy.
func (p *Processor) Seed(ctx context.Context, phone, propertyID string, extra map[string]string) error {
	unlock, ok := p.locks.TryLock(phone)
	if !ok {
		return ErrSessionBusy
	}
	defer unlock()

	now := p.clock.Now()
	session, err := retryStore(ctx, p, func(ctx context.Context) (models.Session, error) {
		return p.sessions.Get(ctx, phone, now)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if session.State != models.StateMenu && session.State != models.StateDone {
		return ErrSessionBusy
	}

	c := models.Context{PropertyID: propertyID}
	if len(extra) > 0 {
		c.Extra = make(map[string]string, len(extra))
		for k, v := range extra {
			c.Extra[k] = v
		}
	}
	_, err = retryStore(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.sessions.Put(ctx, phone, models.StateMenu, c, now)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	log.Printf("🌱 Seeded session %s with property %q", phone, propertyID)
	return nil
}

// Stats returns the adapter counters.
func (p *Processor) Stats() ProcessorStats {
	return ProcessorStats{
		Processed:  p.processed.Load(),
		Duplicates: p.duplicates.Load(),
		Leads:      p.leadCount.Load(),
		Queued:     p.retries.Len(),
	}
}

// retryStore runs op with a per-attempt timeout, retrying a bounded number of
// times while the handler deadline allows.
func retryStore[T any](ctx context.Context, p *Processor, op func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	return backoff.Retry(ctx, func() (T, error) {
		opCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
		defer cancel()
		v, err := op(opCtx)
		if err != nil && ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(p.cfg.StoreAttempts)))
}
