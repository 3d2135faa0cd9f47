package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrWorkerNotConfigured = errors.New("outbox: worker missing dependencies")
	ErrEventNotFound       = errors.New("outbox: event not found")
)

// Event is one pending entry of the platform event feed.
type Event struct {
	ID         string
	Name       string
	Aggregate  string
	Payload    []byte
	OccurredAt time.Time
	Attempts   int
}

// Store persists events until the worker has published them.
type Store interface {
	Record(ctx context.Context, evt Event) error
	// Claim leases the oldest due event for workerID, bumping its attempt
	// counter. Returns (nil, nil) when nothing is due.
	Claim(ctx context.Context, workerID string) (*Event, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, nextRetry time.Time, reason string) error
}

// Recorder adapts a Store to the chat service's EventRecorder.
type Recorder struct {
	Store Store
}

func (r Recorder) Record(ctx context.Context, name, aggregateID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.Store.Record(ctx, Event{
		ID:         uuid.NewString(),
		Name:       name,
		Aggregate:  aggregateID,
		Payload:    data,
		OccurredAt: time.Now().UTC(),
	})
}
