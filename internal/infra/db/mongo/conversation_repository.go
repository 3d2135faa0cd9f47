package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	appchat "marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
	domainlistings "marketchat/internal/domain/listings"
)

// ConversationRepository stores conversations in the chat_conversations
// collection. Unread counters and last-message fields are only ever touched
// through single-document conditional updates.
type ConversationRepository struct {
	col *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	return &ConversationRepository{col: db.Collection("chat_conversations")}
}

// EnsureIndexes creates the uniqueness constraint for the
// (listing, owner, interested user) triple and the list-page indexes.
func (r *ConversationRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "listing_id", Value: 1},
				{Key: "owner_id", Value: 1},
				{Key: "interested_user_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "last_message_at", Value: -1}}},
		{Keys: bson.D{{Key: "interested_user_id", Value: 1}, {Key: "last_message_at", Value: -1}}},
	})
	return err
}

type conversationDocument struct {
	ID               primitive.ObjectID `bson:"_id"`
	ListingID        string             `bson:"listing_id"`
	OwnerID          string             `bson:"owner_id"`
	InterestedUserID string             `bson:"interested_user_id"`
	LastMessageText  string             `bson:"last_message_text,omitempty"`
	LastMessageAt    *time.Time         `bson:"last_message_at"`
	UnreadOwner      int64              `bson:"unread_owner"`
	UnreadInterested int64              `bson:"unread_interested"`
	Status           string             `bson:"status"`
	CreatedAt        time.Time          `bson:"created_at"`
}

func (d conversationDocument) toDomain() *domainchat.Conversation {
	conv := &domainchat.Conversation{
		ID:               domainchat.ConversationID(d.ID.Hex()),
		ListingID:        domainlistings.ListingID(d.ListingID),
		OwnerID:          d.OwnerID,
		InterestedUserID: d.InterestedUserID,
		LastMessageText:  d.LastMessageText,
		UnreadOwner:      d.UnreadOwner,
		UnreadInterested: d.UnreadInterested,
		Status:           domainchat.Status(d.Status),
		CreatedAt:        d.CreatedAt.UTC(),
	}
	if d.LastMessageAt != nil {
		conv.LastMessageAt = d.LastMessageAt.UTC()
	}
	return conv
}

// Create attempts the insert; a duplicate-key error on the triple index means
// the conversation already exists and the caller falls back to a read.
func (r *ConversationRepository) Create(ctx context.Context, conv *domainchat.Conversation) (*domainchat.Conversation, error) {
	doc := conversationDocument{
		ID:               primitive.NewObjectID(),
		ListingID:        string(conv.ListingID),
		OwnerID:          conv.OwnerID,
		InterestedUserID: conv.InterestedUserID,
		Status:           string(domainchat.StatusActive),
		CreatedAt:        conv.CreatedAt.UTC(),
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domainchat.ErrConversationExists
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *ConversationRepository) ByTriple(ctx context.Context, listingID domainlistings.ListingID, ownerID, interestedID string) (*domainchat.Conversation, error) {
	filter := bson.M{
		"listing_id":         string(listingID),
		"owner_id":           ownerID,
		"interested_user_id": interestedID,
	}
	var doc conversationDocument
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	oid, err := parseConversationID(id)
	if err != nil {
		return nil, err
	}
	var doc conversationDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

// ListForUser pages newest-activity-first. Conversations without messages keep
// a null last_message_at, which BSON descending order sorts after every date,
// so they land on the final pages as required.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string, cursor appchat.Cursor, limit int) ([]domainchat.Conversation, error) {
	filter := bson.M{"$or": []bson.M{
		{"owner_id": userID},
		{"interested_user_id": userID},
	}}
	if !cursor.Zero() {
		oid, err := primitive.ObjectIDFromHex(cursor.ID)
		if err != nil {
			return nil, domainchat.ErrInvalidCursor
		}
		if cursor.At.IsZero() {
			// Already walking the no-messages tail.
			filter["last_message_at"] = nil
			filter["_id"] = bson.M{"$lt": oid}
		} else {
			filter["$and"] = []bson.M{{"$or": []bson.M{
				{"last_message_at": bson.M{"$lt": cursor.At}},
				{"last_message_at": cursor.At, "_id": bson.M{"$lt": oid}},
				{"last_message_at": nil},
			}}}
		}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	conversations := make([]domainchat.Conversation, 0, limit)
	for cur.Next(ctx) {
		var doc conversationDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		conversations = append(conversations, *doc.toDomain())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return conversations, nil
}

// ApplyMessage folds a freshly appended message into the conversation: one
// conditional update setting the denormalized fields, bumping the recipient's
// counter with $inc and reactivating an archived thread. Blocked threads do
// not match the filter.
func (r *ConversationRepository) ApplyMessage(ctx context.Context, id domainchat.ConversationID, msg *domainchat.Message, recipientIsOwner bool) error {
	oid, err := parseConversationID(id)
	if err != nil {
		return err
	}
	counter := "unread_interested"
	if recipientIsOwner {
		counter = "unread_owner"
	}
	at := msg.CreatedAt.UTC()
	filter := bson.M{"_id": oid, "status": bson.M{"$ne": string(domainchat.StatusBlocked)}}
	update := bson.M{
		"$set": bson.M{
			"last_message_text": domainchat.Snippet(msg.Text, appchat.SnippetRunes),
			"last_message_at":   at,
			"status":            string(domainchat.StatusActive),
		},
		"$inc": bson.M{counter: 1},
	}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Conversations are never deleted, so a miss means the status filter
		// rejected the row.
		return domainchat.ErrConversationBlocked
	}
	return nil
}

func (r *ConversationRepository) ResetUnread(ctx context.Context, id domainchat.ConversationID, readerIsOwner bool) error {
	oid, err := parseConversationID(id)
	if err != nil {
		return err
	}
	counter := "unread_interested"
	if readerIsOwner {
		counter = "unread_owner"
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{counter: 0}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domainchat.ErrConversationNotFound
	}
	return nil
}

func (r *ConversationRepository) SetStatus(ctx context.Context, id domainchat.ConversationID, status domainchat.Status) error {
	oid, err := parseConversationID(id)
	if err != nil {
		return err
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"status": string(status)}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domainchat.ErrConversationNotFound
	}
	return nil
}

// UnreadTotal sums the side of the counter belonging to userID across active
// conversations with a single aggregation round trip.
func (r *ConversationRepository) UnreadTotal(ctx context.Context, userID string) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"status": string(domainchat.StatusActive),
			"$or": []bson.M{
				{"owner_id": userID},
				{"interested_user_id": userID},
			},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id": nil,
			"total": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$owner_id", userID}},
				"$unread_owner",
				"$unread_interested",
			}}},
		}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)

	var result struct {
		Total int64 `bson:"total"`
	}
	if cur.Next(ctx) {
		if err := cur.Decode(&result); err != nil {
			return 0, err
		}
	}
	if err := cur.Err(); err != nil {
		return 0, err
	}
	return result.Total, nil
}

var _ appchat.ConversationRepository = (*ConversationRepository)(nil)

func parseConversationID(id domainchat.ConversationID) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(string(id)))
	if err != nil {
		return primitive.NilObjectID, domainchat.ErrConversationNotFound
	}
	return oid, nil
}
