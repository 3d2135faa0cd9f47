package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/outbox"
	"marketchat/internal/infra/storage/memory"
)

type published struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

type fakeProducer struct {
	mu       sync.Mutex
	failures int
	sent     []published
}

func (p *fakeProducer) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, published{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

func (p *fakeProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func recordEvent(t *testing.T, store outbox.Store, name, aggregate string, payload any) {
	t.Helper()
	rec := outbox.Recorder{Store: store}
	if err := rec.Record(context.Background(), name, aggregate, payload); err != nil {
		t.Fatalf("record event: %v", err)
	}
}

func TestProcessOncePublishesCloudEvent(t *testing.T) {
	store := memory.NewOutbox()
	producer := &fakeProducer{}
	worker := &outbox.Worker{Store: store, Producer: producer, ID: "w1", Source: "app://test"}

	recordEvent(t, store, domainchat.EventMessageSent, "conv-1", domainchat.MessageSentEvent{
		ConversationID: "conv-1",
		MessageID:      "m1",
		SenderID:       "buyer",
		RecipientID:    "owner",
	})

	if err := worker.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if producer.count() != 1 {
		t.Fatalf("published %d events, want 1", producer.count())
	}
	if store.Pending() != 0 {
		t.Fatalf("pending = %d after publish, want 0", store.Pending())
	}

	got := producer.sent[0]
	if got.topic != "chat.events.v1" {
		t.Fatalf("topic = %q, want chat.events.v1", got.topic)
	}
	if got.key != "conv-1" {
		t.Fatalf("key = %q, want the aggregate id", got.key)
	}
	if got.headers["content-type"] != "application/cloudevents+json" {
		t.Fatalf("headers = %v", got.headers)
	}

	var env map[string]any
	if err := json.Unmarshal(got.payload, &env); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if env["specversion"] != "1.0" {
		t.Fatalf("specversion = %v", env["specversion"])
	}
	if env["type"] != domainchat.EventMessageSent+".v1" {
		t.Fatalf("type = %v", env["type"])
	}
	if env["source"] != "app://test" {
		t.Fatalf("source = %v", env["source"])
	}
	data, ok := env["data"].(map[string]any)
	if !ok {
		t.Fatalf("data missing from envelope: %v", env)
	}
	if data["message_id"] != "m1" || data["sender_id"] != "buyer" {
		t.Fatalf("unexpected data: %v", data)
	}
}

func TestClaimLeasesEventToOneWorker(t *testing.T) {
	store := memory.NewOutbox()
	ctx := context.Background()

	recordEvent(t, store, domainchat.EventMessageSent, "conv-1", domainchat.MessageSentEvent{ConversationID: "conv-1"})

	first, err := store.Claim(ctx, "worker-a")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first == nil {
		t.Fatal("pending event not claimed")
	}
	// The lease holds until MarkSent or MarkFailed; a second worker must not
	// receive the same event.
	second, err := store.Claim(ctx, "worker-b")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second != nil {
		t.Fatalf("event %s claimed by two workers", second.ID)
	}

	// A failed publish releases the lease for retry once the backoff elapsed.
	if err := store.MarkFailed(ctx, first.ID, time.Now().Add(-time.Second), "broker unavailable"); err != nil {
		t.Fatal(err)
	}
	retry, err := store.Claim(ctx, "worker-b")
	if err != nil {
		t.Fatal(err)
	}
	if retry == nil || retry.ID != first.ID {
		t.Fatalf("released event not claimable again: %+v", retry)
	}

	// A sent event is gone for good.
	if err := store.MarkSent(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	if evt, err := store.Claim(ctx, "worker-a"); err != nil || evt != nil {
		t.Fatalf("sent event claimed again: %+v, %v", evt, err)
	}
}

func TestProcessOnceWithEmptyOutbox(t *testing.T) {
	worker := &outbox.Worker{Store: memory.NewOutbox(), Producer: &fakeProducer{}, ID: "w1"}
	if err := worker.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce on empty outbox: %v", err)
	}
}

func TestTopicPrefix(t *testing.T) {
	store := memory.NewOutbox()
	producer := &fakeProducer{}
	worker := &outbox.Worker{Store: store, Producer: producer, ID: "w1", TopicPrefix: "staging."}

	recordEvent(t, store, domainchat.EventConversationCreated, "conv-1", domainchat.ConversationCreatedEvent{ConversationID: "conv-1"})
	if err := worker.ProcessOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if producer.sent[0].topic != "staging.chat.events.v1" {
		t.Fatalf("topic = %q", producer.sent[0].topic)
	}
}

func TestPublishFailureBacksOffAndRetries(t *testing.T) {
	store := memory.NewOutbox()
	producer := &fakeProducer{failures: 1}
	worker := &outbox.Worker{
		Store:    store,
		Producer: producer,
		ID:       "w1",
		Backoff:  []time.Duration{10 * time.Millisecond},
	}
	ctx := context.Background()

	recordEvent(t, store, domainchat.EventConversationRead, "conv-1", domainchat.ConversationReadEvent{ConversationID: "conv-1"})

	// First pass hits the broker outage; the event stays pending with a retry
	// time in the future, so an immediate second pass claims nothing.
	if err := worker.ProcessOnce(ctx); err != nil {
		t.Fatalf("failing pass: %v", err)
	}
	if producer.count() != 0 {
		t.Fatal("event published despite broker failure")
	}
	if store.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", store.Pending())
	}
	if err := worker.ProcessOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if producer.count() != 0 {
		t.Fatal("retried before the backoff elapsed")
	}

	time.Sleep(20 * time.Millisecond)
	if err := worker.ProcessOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if producer.count() != 1 {
		t.Fatalf("published %d after backoff, want 1", producer.count())
	}
	if store.Pending() != 0 {
		t.Fatalf("pending = %d after retry, want 0", store.Pending())
	}
}

func TestRunRequiresDependencies(t *testing.T) {
	worker := &outbox.Worker{}
	if err := worker.Run(context.Background()); !errors.Is(err, outbox.ErrWorkerNotConfigured) {
		t.Fatalf("err = %v, want ErrWorkerNotConfigured", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	worker := &outbox.Worker{
		Store:    memory.NewOutbox(),
		Producer: &fakeProducer{},
		ID:       "w1",
		Interval: time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- worker.Run(ctx) }()
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
