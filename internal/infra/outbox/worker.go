package outbox

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// Worker drains the outbox and publishes chat events to the broker. Publishing
// happens strictly after the originating API call committed; a broker outage
// only delays the feed, it never fails a send.
type Worker struct {
	Store       Store
	Producer    Producer
	Interval    time.Duration
	TopicPrefix string
	Source      string
	ID          string
	Backoff     []time.Duration
}

func (w *Worker) Run(ctx context.Context) error {
	if w.Store == nil || w.Producer == nil {
		return ErrWorkerNotConfigured
	}
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// ProcessOnce claims and publishes at most one due event.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	evt, err := w.Store.Claim(ctx, w.workerID())
	if err != nil || evt == nil {
		return err
	}
	payload, headers, err := w.formatPayload(evt)
	if err != nil {
		_ = w.Store.MarkFailed(ctx, evt.ID, w.nextRetry(evt.Attempts), err.Error())
		return nil
	}
	if err := w.Producer.Publish(ctx, w.topicFor(evt.Name), evt.Aggregate, payload, headers); err != nil {
		_ = w.Store.MarkFailed(ctx, evt.ID, w.nextRetry(evt.Attempts), err.Error())
		return nil
	}
	return w.Store.MarkSent(ctx, evt.ID)
}

func (w *Worker) formatPayload(evt *Event) ([]byte, map[string]string, error) {
	data := map[string]any{}
	if err := json.Unmarshal(evt.Payload, &data); err != nil {
		return nil, nil, err
	}
	envelope := map[string]any{
		"specversion":     "1.0",
		"id":              uuid.NewString(),
		"type":            evt.Name + ".v1",
		"source":          w.source(),
		"time":            evt.OccurredAt,
		"datacontenttype": "application/json",
		"data":            data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{
		"content-type": "application/cloudevents+json",
	}
	return payload, headers, nil
}

func (w *Worker) topicFor(name string) string {
	base := name
	if idx := strings.IndexRune(name, '.'); idx > 0 {
		base = name[:idx]
	}
	topic := base + ".events.v1"
	if w.TopicPrefix != "" {
		topic = w.TopicPrefix + topic
	}
	return topic
}

func (w *Worker) workerID() string {
	if w.ID != "" {
		return w.ID
	}
	return uuid.NewString()
}

func (w *Worker) interval() time.Duration {
	if w.Interval <= 0 {
		return 500 * time.Millisecond
	}
	return w.Interval
}

func (w *Worker) nextRetry(attempts int) time.Time {
	if attempts < len(w.Backoff) {
		return time.Now().Add(w.Backoff[attempts])
	}
	if len(w.Backoff) > 0 {
		return time.Now().Add(w.Backoff[len(w.Backoff)-1])
	}
	return time.Now().Add(5 * time.Second)
}

func (w *Worker) source() string {
	if w.Source != "" {
		return w.Source
	}
	return "app://marketchat"
}
