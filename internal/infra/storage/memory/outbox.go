package memory

import (
	"context"
	"sync"
	"time"

	"marketchat/internal/infra/outbox"
)

// Outbox is an in-memory outbox.Store for the demo mode and worker tests.
type Outbox struct {
	mu    sync.Mutex
	items []outboxEntry
}

type outboxEntry struct {
	event         outbox.Event
	sent          bool
	claimed       bool
	nextAttemptAt time.Time
	claimedBy     string
	lastError     string
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Record(ctx context.Context, evt outbox.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, outboxEntry{event: evt, nextAttemptAt: evt.OccurredAt})
	return nil
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*outbox.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now().UTC()
	for i := range o.items {
		entry := &o.items[i]
		if entry.sent || entry.claimed || entry.nextAttemptAt.After(now) {
			continue
		}
		// Leased until MarkSent or MarkFailed; another worker cannot claim it.
		entry.claimed = true
		entry.event.Attempts++
		entry.claimedBy = workerID
		evt := entry.event
		return &evt, nil
	}
	return nil, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.items {
		if o.items[i].event.ID == id {
			o.items[i].sent = true
			return nil
		}
	}
	return outbox.ErrEventNotFound
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, nextRetry time.Time, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.items {
		if o.items[i].event.ID == id {
			o.items[i].claimed = false
			o.items[i].nextAttemptAt = nextRetry
			o.items[i].lastError = reason
			return nil
		}
	}
	return outbox.ErrEventNotFound
}

// Pending reports how many events still await publishing.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, entry := range o.items {
		if !entry.sent {
			n++
		}
	}
	return n
}

var _ outbox.Store = (*Outbox)(nil)
