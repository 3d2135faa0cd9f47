package mongo

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	appchat "marketchat/internal/app/chat"
	domainlistings "marketchat/internal/domain/listings"
)

// ListingRepository is the read-only boundary to the listings collection owned
// by the listings vertical. The chat core only resolves owners through it.
type ListingRepository struct {
	col *mongo.Collection
}

func NewListingRepository(db *mongo.Database) *ListingRepository {
	return &ListingRepository{col: db.Collection("listings")}
}

type listingDocument struct {
	ID     string `bson:"_id"`
	HostID string `bson:"host_id"`
	Title  string `bson:"title,omitempty"`
	State  string `bson:"state,omitempty"`
}

func (r *ListingRepository) OwnerOf(ctx context.Context, id domainlistings.ListingID) (string, error) {
	trimmed := strings.TrimSpace(string(id))
	if trimmed == "" {
		return "", domainlistings.ErrListingNotFound
	}
	var doc listingDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": trimmed}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", domainlistings.ErrListingNotFound
		}
		return "", err
	}
	if doc.HostID == "" {
		return "", domainlistings.ErrListingNotFound
	}
	return doc.HostID, nil
}

var _ appchat.ListingDirectory = (*ListingRepository)(nil)
