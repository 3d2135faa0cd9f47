package listings

import (
	"errors"
	"strings"
	"time"
)

var ErrListingNotFound = errors.New("listings: listing not found")

type ListingID string
type HostID string

type ListingState string

const (
	ListingDraft     ListingState = "DRAFT"
	ListingActive    ListingState = "ACTIVE"
	ListingSuspended ListingState = "SUSPENDED"
)

// Listing is the slice of the externally-owned listing aggregate the messaging
// core needs: enough to resolve the owner of a thread and label it.
type Listing struct {
	ID        ListingID
	Host      HostID
	Title     string
	State     ListingState
	CreatedAt time.Time
}

// Valid reports whether the listing carries the fields the chat core relies on.
func (l Listing) Valid() bool {
	return strings.TrimSpace(string(l.ID)) != "" && strings.TrimSpace(string(l.Host)) != ""
}
