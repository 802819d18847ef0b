package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
	"github.com/Ananth-NQI/glamping-leads/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("lead-%d", s.n)
}

// flakySessions fails Put/Get while failing is set.
type flakySessions struct {
	storage.SessionStore
	mu      sync.Mutex
	failing bool
	calls   int
}

var errDown = errors.New("database is down")

func (f *flakySessions) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *flakySessions) fail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.failing
}

func (f *flakySessions) Get(ctx context.Context, phone string, now time.Time) (models.Session, error) {
	if f.fail() {
		return models.Session{}, errDown
	}
	return f.SessionStore.Get(ctx, phone, now)
}

func (f *flakySessions) Put(ctx context.Context, phone string, state models.State, c models.Context, now time.Time) error {
	if f.fail() {
		return errDown
	}
	return f.SessionStore.Put(ctx, phone, state, c, now)
}

type processorFixture struct {
	proc  *Processor
	store *storage.MemoryStore
	out   *recordingTransport
	clock *fakeClock
	queue *RetryQueue
}

func newProcessorFixture(t *testing.T, sessions func(*storage.MemoryStore) storage.SessionStore) *processorFixture {
	t.Helper()
	store := storage.NewMemoryStore(storage.Options{StateTTL: 30 * time.Minute, LeadDedupWindow: 10 * time.Minute})
	var ss storage.SessionStore = store
	if sessions != nil {
		ss = sessions(store)
	}
	out := &recordingTransport{}
	clock := &fakeClock{now: testNow}
	queue := NewRetryQueue(out, RetryConfig{Initial: time.Second})
	proc := NewProcessor(ProcessorDeps{
		Sessions:  ss,
		Leads:     store,
		Dialogue:  newTestDialogue(),
		Transport: out,
		Retries:   queue,
		Dedup:     NewDedupCache(100, 24*time.Hour),
		Clock:     clock,
		IDs:       &seqIDs{},
	}, ProcessorConfig{StoreTimeout: 100 * time.Millisecond, HandlerDeadline: 2 * time.Second, StoreAttempts: 2})
	return &processorFixture{proc: proc, store: store, out: out, clock: clock, queue: queue}
}

func textMessage(id, from, body string) models.WebhookMessage {
	return models.WebhookMessage{ID: id, From: from, Type: "text", Timestamp: "1700000000", Text: &models.WebhookText{Body: body}}
}

func replyMessage(id, from, replyType, replyID string) models.WebhookMessage {
	reply := &models.WebhookReply{ID: replyID}
	msg := models.WebhookMessage{ID: id, From: from, Type: "interactive", Interactive: &models.WebhookInteractive{Type: replyType}}
	if replyType == "list_reply" {
		msg.Interactive.ListReply = reply
	} else {
		msg.Interactive.ButtonReply = reply
	}
	return msg
}

func envelope(msgs ...models.WebhookMessage) models.WebhookPayload {
	return models.WebhookPayload{
		Object: "whatsapp_business_account",
		Entry:  []models.WebhookEntry{{Changes: []models.WebhookChange{{Field: "messages", Value: models.WebhookChangeValue{Messages: msgs}}}}},
	}
}

func TestProcessorHappyPathRecordsLead(t *testing.T) {
	f := newProcessorFixture(t, nil)
	ctx := context.Background()
	from := "573001234567"

	msgs := []models.WebhookMessage{
		textMessage("m1", from, "hola"),
		replyMessage("m2", from, "button_reply", IntentReserve),
		textMessage("m3", from, "Cartagena"),
		textMessage("m4", from, "12/12/2030"),
		textMessage("m5", from, "15/12/2030"),
		replyMessage("m6", from, "list_reply", models.SourceGoogle),
		replyMessage("m7", from, "button_reply", ConfirmYes),
	}
	for _, m := range msgs {
		if err := f.proc.HandleEnvelope(ctx, envelope(m)); err != nil {
			t.Fatalf("HandleEnvelope(%s): %v", m.ID, err)
		}
	}

	if got := len(f.out.sent()); got != 7 {
		t.Fatalf("expected 7 outbound messages, got %d", got)
	}
	leads := f.store.Leads()
	if len(leads) != 1 {
		t.Fatalf("expected one lead, got %d", len(leads))
	}
	if leads[0].ID != "lead-1" || leads[0].City != "Cartagena" || leads[0].Phone != testPhone {
		t.Fatalf("unexpected lead %+v", leads[0])
	}
	session, _ := f.store.Peek(testPhone)
	if session.State != models.StateDone {
		t.Fatalf("expected DONE, got %s", session.State)
	}
	if f.proc.Stats().Leads != 1 {
		t.Fatalf("expected lead counter to be 1")
	}
}

func TestProcessorIgnoresRedelivery(t *testing.T) {
	f := newProcessorFixture(t, nil)
	ctx := context.Background()
	from := "573001234567"

	_ = f.proc.HandleEnvelope(ctx, envelope(textMessage("m1", from, "hola")))
	_ = f.proc.HandleEnvelope(ctx, envelope(replyMessage("m2", from, "button_reply", IntentReserve)))
	_ = f.proc.HandleEnvelope(ctx, envelope(textMessage("m3", from, "Cartagena")))

	writes := f.store.SessionWrites()
	sent := len(f.out.sent())

	if err := f.proc.HandleEnvelope(ctx, envelope(textMessage("m3", from, "Cartagena"))); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if f.store.SessionWrites() != writes {
		t.Fatalf("duplicate must not write the session")
	}
	if len(f.out.sent()) != sent {
		t.Fatalf("duplicate must not send messages")
	}
	session, _ := f.store.Peek(testPhone)
	if session.State != models.StateAwaitArrival {
		t.Fatalf("expected AWAIT_ARRIVAL, got %s", session.State)
	}
	if f.proc.Stats().Duplicates != 1 {
		t.Fatalf("expected one duplicate, got %d", f.proc.Stats().Duplicates)
	}
}

func TestProcessorPersistentDedupBackstop(t *testing.T) {
	f := newProcessorFixture(t, nil)
	ctx := context.Background()
	_ = f.proc.HandleEnvelope(ctx, envelope(textMessage("m1", "573001234567", "hola")))

	// a fresh processor has an empty cache but the session remembers m1
	restarted := NewProcessor(ProcessorDeps{
		Sessions: f.store, Leads: f.store, Dialogue: newTestDialogue(), Transport: f.out, Clock: f.clock,
	}, ProcessorConfig{})
	sent := len(f.out.sent())
	if err := restarted.HandleEnvelope(ctx, envelope(textMessage("m1", "573001234567", "hola"))); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}
	if len(f.out.sent()) != sent {
		t.Fatalf("restart redelivery must not re-send")
	}
}

func TestProcessorExpiredSessionRestarts(t *testing.T) {
	f := newProcessorFixture(t, nil)
	ctx := context.Background()
	from := "573001234567"

	for _, m := range []models.WebhookMessage{
		textMessage("m1", from, "hola"),
		replyMessage("m2", from, "button_reply", IntentReserve),
		textMessage("m3", from, "Cartagena"),
	} {
		_ = f.proc.HandleEnvelope(ctx, envelope(m))
	}
	f.clock.Advance(31 * time.Minute)

	if err := f.proc.HandleEnvelope(ctx, envelope(textMessage("m4", from, "12/12/2030"))); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}
	session, _ := f.store.Peek(testPhone)
	if session.State != models.StateAwaitIntent {
		t.Fatalf("expected restart at AWAIT_INTENT, got %s", session.State)
	}
	if session.Context.City != "" {
		t.Fatalf("expired context must not survive")
	}
	sent := f.out.sent()
	if sent[len(sent)-1].PromptID != PromptWelcome {
		t.Fatalf("expected welcome prompt, got %+v", sent[len(sent)-1])
	}
}

func TestProcessorSerializesPerPhone(t *testing.T) {
	f := newProcessorFixture(t, nil)
	ctx := context.Background()
	from := "573001234567"
	_ = f.proc.HandleEnvelope(ctx, envelope(textMessage("m0", from, "hola")))

	// concurrent invalid answers: each must observe the previous write
	var wg sync.WaitGroup
	for i := 1; i <= 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = f.proc.HandleEnvelope(ctx, envelope(textMessage(fmt.Sprintf("bad-%d", i), from, "pizza")))
		}(i)
	}
	wg.Wait()

	session, _ := f.store.Peek(testPhone)
	if session.State != models.StateAwaitIntent || session.Context.Reprompts != 2 {
		t.Fatalf("expected two counted reprompts, got %s/%d", session.State, session.Context.Reprompts)
	}
}

func TestProcessorQueuesOnTransientFailure(t *testing.T) {
	f := newProcessorFixture(t, nil)
	f.out.setFail(func(models.OutboundAction) error { return &SendError{StatusCode: 503} })

	if err := f.proc.HandleEnvelope(context.Background(), envelope(textMessage("m1", "573001234567", "hola"))); err != nil {
		t.Fatalf("transport failures must not fail the webhook: %v", err)
	}
	session, _ := f.store.Peek(testPhone)
	if session.State != models.StateAwaitIntent {
		t.Fatalf("state must advance regardless of delivery, got %s", session.State)
	}
	if f.queue.Len() != 1 || !f.queue.Pending(testPhone) {
		t.Fatalf("expected the welcome prompt to be queued")
	}

	// the next reply queues behind it instead of overtaking
	f.out.setFail(nil)
	_ = f.proc.HandleEnvelope(context.Background(), envelope(replyMessage("m2", "573001234567", "button_reply", IntentReserve)))
	if len(f.out.sent()) != 0 || f.queue.Len() != 2 {
		t.Fatalf("expected both prompts queued in order, sent=%d queued=%d", len(f.out.sent()), f.queue.Len())
	}

	f.queue.Drain(context.Background(), f.clock.Now().Add(time.Second))
	sent := f.out.sent()
	if len(sent) != 2 || sent[0].PromptID != PromptWelcome || sent[1].PromptID != PromptCity {
		t.Fatalf("unexpected redelivery order %+v", sent)
	}
}

func TestProcessorStoreFailureAsksForRedelivery(t *testing.T) {
	var flaky *flakySessions
	f := newProcessorFixture(t, func(m *storage.MemoryStore) storage.SessionStore {
		flaky = &flakySessions{SessionStore: m}
		return flaky
	})
	flaky.setFailing(true)

	err := f.proc.HandleEnvelope(context.Background(), envelope(textMessage("m1", "573001234567", "hola")))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(f.out.sent()) != 0 {
		t.Fatalf("nothing may be sent when the state cannot be saved")
	}

	// the provider redelivers once the store is back
	flaky.setFailing(false)
	if err := f.proc.HandleEnvelope(context.Background(), envelope(textMessage("m1", "573001234567", "hola"))); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(f.out.sent()) != 1 {
		t.Fatalf("expected the welcome prompt after recovery")
	}
}

func TestProcessorSeed(t *testing.T) {
	f := newProcessorFixture(t, nil)
	ctx := context.Background()

	if err := f.proc.Seed(ctx, testPhone, "P42", map[string]string{"utm_source": "ads"}); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	_ = f.proc.HandleEnvelope(ctx, envelope(textMessage("m1", "573001234567", "hola")))
	session, _ := f.store.Peek(testPhone)
	if session.Context.PropertyID != "P42" || session.Context.Extra["utm_source"] != "ads" {
		t.Fatalf("seeded context lost: %+v", session.Context)
	}

	if err := f.proc.Seed(ctx, testPhone, "P43", nil); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy mid-conversation, got %v", err)
	}
}

func TestProcessorSeedWhileMessageInFlight(t *testing.T) {
	f := newProcessorFixture(t, nil)
	ctx := context.Background()

	unlock, err := f.proc.locks.Lock(ctx, testPhone)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := f.proc.Seed(ctx, testPhone, "P42", nil); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy while a message holds the phone, got %v", err)
	}
	if f.store.SessionCount() != 0 {
		t.Fatalf("a refused seed must not write")
	}

	unlock()
	if err := f.proc.Seed(ctx, testPhone, "P42", nil); err != nil {
		t.Fatalf("Seed after release: %v", err)
	}
}

func TestProcessorLogsStatusesOnly(t *testing.T) {
	f := newProcessorFixture(t, nil)
	payload := models.WebhookPayload{Entry: []models.WebhookEntry{{Changes: []models.WebhookChange{{
		Value: models.WebhookChangeValue{Statuses: []models.WebhookStatus{{ID: "wamid.out", Status: "delivered"}}},
	}}}}}
	if err := f.proc.HandleEnvelope(context.Background(), payload); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}
	if f.store.SessionCount() != 0 || len(f.out.sent()) != 0 {
		t.Fatalf("status callbacks must not touch sessions")
	}
}
