package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketchat/internal/infra/outbox"
)

// OutboxStore keeps pending feed events in chat_outbox. Claiming flips the
// event to claimed inside one FindOneAndUpdate, so a second worker cannot
// lease it; MarkFailed releases it back to pending for the retry.
type OutboxStore struct {
	col *mongo.Collection
}

func NewOutboxStore(db *mongo.Database) *OutboxStore {
	return &OutboxStore{col: db.Collection("chat_outbox")}
}

func (s *OutboxStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_attempt_at", Value: 1}, {Key: "occurred_at", Value: 1}}},
	})
	return err
}

type outboxDocument struct {
	ID            string    `bson:"_id"`
	Name          string    `bson:"name"`
	Aggregate     string    `bson:"aggregate_id"`
	Payload       []byte    `bson:"payload"`
	OccurredAt    time.Time `bson:"occurred_at"`
	Status        string    `bson:"status"`
	Attempts      int       `bson:"attempts"`
	NextAttemptAt time.Time `bson:"next_attempt_at"`
	ClaimedBy     string    `bson:"claimed_by,omitempty"`
	ClaimedAt     time.Time `bson:"claimed_at,omitempty"`
	LastError     string    `bson:"last_error,omitempty"`
}

func (s *OutboxStore) Record(ctx context.Context, evt outbox.Event) error {
	doc := outboxDocument{
		ID:            evt.ID,
		Name:          evt.Name,
		Aggregate:     evt.Aggregate,
		Payload:       evt.Payload,
		OccurredAt:    evt.OccurredAt,
		Status:        "pending",
		NextAttemptAt: evt.OccurredAt,
	}
	_, err := s.col.InsertOne(ctx, doc)
	return err
}

func (s *OutboxStore) Claim(ctx context.Context, workerID string) (*outbox.Event, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"status":          "pending",
		"next_attempt_at": bson.M{"$lte": now},
	}
	update := bson.M{
		"$set": bson.M{"status": "claimed", "claimed_by": workerID, "claimed_at": now},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "occurred_at", Value: 1}}).
		SetReturnDocument(options.After)

	var doc outboxDocument
	if err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &outbox.Event{
		ID:         doc.ID,
		Name:       doc.Name,
		Aggregate:  doc.Aggregate,
		Payload:    doc.Payload,
		OccurredAt: doc.OccurredAt.UTC(),
		Attempts:   doc.Attempts,
	}, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"status": "sent"},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return outbox.ErrEventNotFound
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id string, nextRetry time.Time, reason string) error {
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"status": "pending", "next_attempt_at": nextRetry.UTC(), "last_error": reason},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return outbox.ErrEventNotFound
	}
	return nil
}

var _ outbox.Store = (*OutboxStore)(nil)
