package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	appchat "marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
)

// MessageRepository keeps the append-only log in chat_messages. ObjectIDs are
// time-ordered, so _id doubles as the creation-order sort key and the cursor.
type MessageRepository struct {
	col *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{col: db.Collection("chat_messages")}
}

func (r *MessageRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "sender_id", Value: 1}, {Key: "read_at", Value: 1}}},
	})
	return err
}

type messageDocument struct {
	ID             primitive.ObjectID `bson:"_id"`
	ConversationID string             `bson:"conversation_id"`
	SenderID       string             `bson:"sender_id"`
	Text           string             `bson:"text"`
	CreatedAt      time.Time          `bson:"created_at"`
	ReadAt         *time.Time         `bson:"read_at"`
}

func (d messageDocument) toDomain() domainchat.Message {
	msg := domainchat.Message{
		ID:             domainchat.MessageID(d.ID.Hex()),
		ConversationID: domainchat.ConversationID(d.ConversationID),
		SenderID:       d.SenderID,
		Text:           d.Text,
		CreatedAt:      d.CreatedAt.UTC(),
	}
	if d.ReadAt != nil {
		msg.ReadAt = d.ReadAt.UTC()
	}
	return msg
}

func (r *MessageRepository) Append(ctx context.Context, msg *domainchat.Message) (*domainchat.Message, error) {
	doc := messageDocument{
		ID:             primitive.NewObjectID(),
		ConversationID: string(msg.ConversationID),
		SenderID:       msg.SenderID,
		Text:           msg.Text,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	stored := doc.toDomain()
	return &stored, nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, convID domainchat.ConversationID, beforeID domainchat.MessageID, limit int) ([]domainchat.Message, error) {
	filter := bson.M{"conversation_id": string(convID)}
	if beforeID != "" {
		oid, err := primitive.ObjectIDFromHex(string(beforeID))
		if err != nil {
			return nil, domainchat.ErrInvalidCursor
		}
		filter["_id"] = bson.M{"$lt": oid}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	messages := make([]domainchat.Message, 0, limit)
	for cur.Next(ctx) {
		var doc messageDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		messages = append(messages, doc.toDomain())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkRead stamps every unread message addressed to readerID in one bulk
// conditional update.
func (r *MessageRepository) MarkRead(ctx context.Context, convID domainchat.ConversationID, readerID string, readAt time.Time) (int64, error) {
	filter := bson.M{
		"conversation_id": string(convID),
		"sender_id":       bson.M{"$ne": readerID},
		"read_at":         nil,
	}
	update := bson.M{"$set": bson.M{"read_at": readAt.UTC()}}
	res, err := r.col.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

var _ appchat.MessageRepository = (*MessageRepository)(nil)
