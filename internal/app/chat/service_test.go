package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	appchat "marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
	domainlistings "marketchat/internal/domain/listings"
	"marketchat/internal/infra/storage/memory"
)

const (
	ownerID = "user-owner"
	buyerID = "user-buyer"
	otherID = "user-other"
	listing = "listing-1"
)

type sinkCall struct {
	kind     string
	convID   domainchat.ConversationID
	actorID  string
	msgID    domainchat.MessageID
	unreadAt int64
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (f *fakeSink) MessageCreated(conv *domainchat.Conversation, msg *domainchat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sinkCall{kind: "message", convID: conv.ID, actorID: msg.SenderID, msgID: msg.ID})
}

func (f *fakeSink) ConversationRead(conv *domainchat.Conversation, readerID string, readAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sinkCall{kind: "read", convID: conv.ID, actorID: readerID})
}

func (f *fakeSink) snapshot() []sinkCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sinkCall(nil), f.calls...)
}

type recordedEvent struct {
	name      string
	aggregate string
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeRecorder) Record(ctx context.Context, name, aggregateID string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{name: name, aggregate: aggregateID})
	return nil
}

func (f *fakeRecorder) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.name)
	}
	return out
}

type fixture struct {
	service  *appchat.Service
	sink     *fakeSink
	recorder *fakeRecorder
	listings *memory.ListingDirectory
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	directory := memory.NewListingDirectory()
	if err := directory.Add(domainlistings.Listing{
		ID:    listing,
		Host:  ownerID,
		Title: "City bike",
		State: domainlistings.ListingActive,
	}); err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	sink := &fakeSink{}
	recorder := &fakeRecorder{}
	service := &appchat.Service{
		Conversations: memory.NewConversationRepository(),
		Messages:      memory.NewMessageRepository(),
		Listings:      directory,
		Delivery:      sink,
		Events:        recorder,
	}
	return fixture{service: service, sink: sink, recorder: recorder, listings: directory}
}

func mustCreate(t *testing.T, f fixture) *domainchat.Conversation {
	t.Helper()
	conv, created, err := f.service.CreateOrGet(context.Background(), buyerID, listing)
	if err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}
	if !created {
		t.Fatal("expected a fresh conversation")
	}
	return conv
}

func TestCreateOrGetIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := mustCreate(t, f)
	if first.OwnerID != ownerID || first.InterestedUserID != buyerID {
		t.Fatalf("unexpected participants: %+v", first)
	}
	if first.Status != domainchat.StatusActive {
		t.Fatalf("status = %q, want active", first.Status)
	}
	if first.UnreadOwner != 0 || first.UnreadInterested != 0 {
		t.Fatal("fresh conversation must start with zero unread counters")
	}

	second, created, err := f.service.CreateOrGet(ctx, buyerID, listing)
	if err != nil {
		t.Fatalf("repeat CreateOrGet: %v", err)
	}
	if created {
		t.Fatal("repeat attempt must reuse the existing conversation")
	}
	if second.ID != first.ID {
		t.Fatalf("conversation id changed across attempts: %s vs %s", first.ID, second.ID)
	}

	page, _, err := f.service.List(ctx, buyerID, "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected exactly one conversation for the triple, got %d", len(page))
	}
}

func TestCreateOrGetRejectsSelf(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.service.CreateOrGet(context.Background(), ownerID, listing); !errors.Is(err, domainchat.ErrSelfConversation) {
		t.Fatalf("err = %v, want ErrSelfConversation", err)
	}
}

func TestCreateOrGetMissingListing(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.service.CreateOrGet(context.Background(), buyerID, "listing-missing"); !errors.Is(err, domainlistings.ErrListingNotFound) {
		t.Fatalf("err = %v, want ErrListingNotFound", err)
	}
	if _, _, err := f.service.CreateOrGet(context.Background(), buyerID, "  "); !errors.Is(err, domainlistings.ErrListingNotFound) {
		t.Fatalf("blank listing err = %v, want ErrListingNotFound", err)
	}
}

// Mirrors the end-to-end exchange: enquiry, owner reads, owner replies.
func TestConversationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := mustCreate(t, f)

	msg, err := f.service.Send(ctx, buyerID, conv.ID, "Is this available?")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Read() {
		t.Fatal("fresh message must not carry a read stamp")
	}

	got, err := f.service.Get(ctx, ownerID, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastMessageText != "Is this available?" {
		t.Fatalf("LastMessageText = %q", got.LastMessageText)
	}
	if got.LastMessageAt.IsZero() {
		t.Fatal("LastMessageAt not set after send")
	}
	if got.UnreadOwner != 1 || got.UnreadInterested != 0 {
		t.Fatalf("counters after enquiry: owner=%d interested=%d", got.UnreadOwner, got.UnreadInterested)
	}

	readAt, marked, err := f.service.MarkRead(ctx, ownerID, conv.ID)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if marked != 1 {
		t.Fatalf("marked = %d, want 1", marked)
	}
	got, _ = f.service.Get(ctx, ownerID, conv.ID)
	if got.UnreadOwner != 0 {
		t.Fatalf("UnreadOwner after read = %d", got.UnreadOwner)
	}
	history, _, err := f.service.ListMessages(ctx, ownerID, conv.ID, "", 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(history) != 1 || !history[0].Read() {
		t.Fatal("enquiry message must carry a read stamp after MarkRead")
	}
	if history[0].ReadAt.Before(history[0].CreatedAt) {
		t.Fatal("readAt must not precede createdAt")
	}
	if !history[0].ReadAt.Equal(readAt) {
		t.Fatalf("readAt mismatch: %v vs %v", history[0].ReadAt, readAt)
	}

	if _, err := f.service.Send(ctx, ownerID, conv.ID, "Yes"); err != nil {
		t.Fatalf("owner reply: %v", err)
	}
	got, _ = f.service.Get(ctx, buyerID, conv.ID)
	if got.LastMessageText != "Yes" {
		t.Fatalf("LastMessageText after reply = %q", got.LastMessageText)
	}
	if got.UnreadInterested != 1 || got.UnreadOwner != 0 {
		t.Fatalf("counters after reply: owner=%d interested=%d", got.UnreadOwner, got.UnreadInterested)
	}
}

func TestUnreadMonotonicity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := mustCreate(t, f)

	const n = 7
	for i := 0; i < n; i++ {
		if _, err := f.service.Send(ctx, buyerID, conv.ID, "ping"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	total, err := f.service.UnreadCount(ctx, ownerID)
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if total != n {
		t.Fatalf("owner unread = %d, want %d", total, n)
	}

	if _, _, err := f.service.MarkRead(ctx, ownerID, conv.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	total, _ = f.service.UnreadCount(ctx, ownerID)
	if total != 0 {
		t.Fatalf("owner unread after read = %d, want 0", total)
	}

	// Repeated reads stay at zero; the next send from the peer moves it to one.
	if _, _, err := f.service.MarkRead(ctx, ownerID, conv.ID); err != nil {
		t.Fatalf("repeat MarkRead: %v", err)
	}
	total, _ = f.service.UnreadCount(ctx, ownerID)
	if total != 0 {
		t.Fatalf("owner unread after repeat read = %d, want 0", total)
	}
	if _, err := f.service.Send(ctx, buyerID, conv.ID, "one more"); err != nil {
		t.Fatalf("send after read: %v", err)
	}
	total, _ = f.service.UnreadCount(ctx, ownerID)
	if total != 1 {
		t.Fatalf("owner unread after new send = %d, want 1", total)
	}
}

func TestMarkReadScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := mustCreate(t, f)

	if _, err := f.service.Send(ctx, buyerID, conv.ID, "from buyer"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.Send(ctx, ownerID, conv.ID, "from owner"); err != nil {
		t.Fatal(err)
	}

	// A second listing gives the buyer an unrelated conversation.
	if err := f.listings.Add(domainlistings.Listing{ID: "listing-2", Host: otherID, State: domainlistings.ListingActive}); err != nil {
		t.Fatal(err)
	}
	unrelated, _, err := f.service.CreateOrGet(ctx, buyerID, "listing-2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.Send(ctx, otherID, unrelated.ID, "hello"); err != nil {
		t.Fatal(err)
	}

	if _, marked, err := f.service.MarkRead(ctx, buyerID, conv.ID); err != nil || marked != 1 {
		t.Fatalf("MarkRead marked=%d err=%v, want 1 message stamped", marked, err)
	}

	history, _, err := f.service.ListMessages(ctx, buyerID, conv.ID, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, msg := range history {
		switch msg.SenderID {
		case ownerID:
			if !msg.Read() {
				t.Fatal("message addressed to the reader must be stamped")
			}
		case buyerID:
			if msg.Read() {
				t.Fatal("reader's own message must never be stamped by their read")
			}
		}
	}

	// The unrelated conversation is untouched.
	other, err := f.service.Get(ctx, buyerID, unrelated.ID)
	if err != nil {
		t.Fatal(err)
	}
	if other.UnreadInterested != 1 {
		t.Fatalf("unrelated conversation counter = %d, want 1", other.UnreadInterested)
	}
}

func TestForbiddenAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := mustCreate(t, f)
	if _, err := f.service.Send(ctx, buyerID, conv.ID, "hi"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.service.Get(ctx, otherID, conv.ID); !errors.Is(err, domainchat.ErrNotParticipant) {
		t.Fatalf("Get err = %v, want ErrNotParticipant", err)
	}
	if _, _, err := f.service.ListMessages(ctx, otherID, conv.ID, "", 10); !errors.Is(err, domainchat.ErrNotParticipant) {
		t.Fatalf("ListMessages err = %v, want ErrNotParticipant", err)
	}
	if _, err := f.service.Send(ctx, otherID, conv.ID, "let me in"); !errors.Is(err, domainchat.ErrNotParticipant) {
		t.Fatalf("Send err = %v, want ErrNotParticipant", err)
	}
	if _, _, err := f.service.MarkRead(ctx, otherID, conv.ID); !errors.Is(err, domainchat.ErrNotParticipant) {
		t.Fatalf("MarkRead err = %v, want ErrNotParticipant", err)
	}
	if err := f.service.Block(ctx, otherID, conv.ID); !errors.Is(err, domainchat.ErrNotParticipant) {
		t.Fatalf("Block err = %v, want ErrNotParticipant", err)
	}
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := mustCreate(t, f)

	if _, err := f.service.Send(ctx, buyerID, conv.ID, "   "); !errors.Is(err, domainchat.ErrTextRequired) {
		t.Fatalf("blank text err = %v, want ErrTextRequired", err)
	}
	long := make([]byte, 0, domainchat.MaxTextRunes+1)
	for i := 0; i <= domainchat.MaxTextRunes; i++ {
		long = append(long, 'x')
	}
	if _, err := f.service.Send(ctx, buyerID, conv.ID, string(long)); !errors.Is(err, domainchat.ErrTextTooLong) {
		t.Fatalf("long text err = %v, want ErrTextTooLong", err)
	}
}

func TestBlockStopsSends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := mustCreate(t, f)

	if err := f.service.Block(ctx, ownerID, conv.ID); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if _, err := f.service.Send(ctx, buyerID, conv.ID, "hello?"); !errors.Is(err, domainchat.ErrConversationBlocked) {
		t.Fatalf("send into blocked err = %v, want ErrConversationBlocked", err)
	}
	if _, err := f.service.Send(ctx, ownerID, conv.ID, "me neither"); !errors.Is(err, domainchat.ErrConversationBlocked) {
		t.Fatalf("owner send into blocked err = %v, want ErrConversationBlocked", err)
	}
}

func TestArchiveReactivatesOnSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := mustCreate(t, f)

	if err := f.service.Archive(ctx, buyerID, conv.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	got, _ := f.service.Get(ctx, buyerID, conv.ID)
	if got.Status != domainchat.StatusArchived {
		t.Fatalf("status = %q, want archived", got.Status)
	}
	// Archiving twice is a no-op.
	if err := f.service.Archive(ctx, buyerID, conv.ID); err != nil {
		t.Fatalf("repeat Archive: %v", err)
	}

	if _, err := f.service.Send(ctx, ownerID, conv.ID, "still interested?"); err != nil {
		t.Fatalf("send into archived: %v", err)
	}
	got, _ = f.service.Get(ctx, buyerID, conv.ID)
	if got.Status != domainchat.StatusActive {
		t.Fatalf("status after send = %q, want active", got.Status)
	}
}

func TestArchivedExcludedFromUnreadTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := mustCreate(t, f)

	if _, err := f.service.Send(ctx, buyerID, conv.ID, "hi"); err != nil {
		t.Fatal(err)
	}
	if err := f.service.Archive(ctx, ownerID, conv.ID); err != nil {
		t.Fatal(err)
	}
	total, err := f.service.UnreadCount(ctx, ownerID)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Fatalf("archived conversation leaked into unread total: %d", total)
	}
}

func TestMessagePaginationStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := mustCreate(t, f)

	send := func(n int) {
		for i := 0; i < n; i++ {
			if _, err := f.service.Send(ctx, buyerID, conv.ID, "msg"); err != nil {
				t.Fatalf("send: %v", err)
			}
		}
	}
	send(25)

	seen := map[domainchat.MessageID]bool{}
	var walk []domainchat.MessageID
	cursor := ""
	pages := 0
	for {
		page, next, err := f.service.ListMessages(ctx, buyerID, conv.ID, cursor, 10)
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		for _, msg := range page {
			if seen[msg.ID] {
				t.Fatalf("duplicate message %s across pages", msg.ID)
			}
			seen[msg.ID] = true
			walk = append(walk, msg.ID)
		}
		pages++
		if pages == 1 {
			// Concurrent appends between pages must not disturb the walk.
			send(5)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if len(walk) != 25 {
		t.Fatalf("walked %d messages, want the 25 present at walk start", len(walk))
	}
	for i := 1; i < len(walk); i++ {
		if !(walk[i] < walk[i-1]) {
			t.Fatalf("ids not strictly decreasing at %d: %s, %s", i, walk[i-1], walk[i])
		}
	}
}

func TestDeliveryAndEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := mustCreate(t, f)

	msg, err := f.service.Send(ctx, buyerID, conv.ID, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.service.MarkRead(ctx, ownerID, conv.ID); err != nil {
		t.Fatal(err)
	}

	calls := f.sink.snapshot()
	if len(calls) != 2 {
		t.Fatalf("sink calls = %d, want 2", len(calls))
	}
	if calls[0].kind != "message" || calls[0].msgID != msg.ID || calls[0].convID != conv.ID {
		t.Fatalf("unexpected first sink call: %+v", calls[0])
	}
	if calls[1].kind != "read" || calls[1].actorID != ownerID {
		t.Fatalf("unexpected second sink call: %+v", calls[1])
	}

	names := f.recorder.names()
	want := []string{
		domainchat.EventConversationCreated,
		domainchat.EventMessageSent,
		domainchat.EventConversationRead,
	}
	if len(names) != len(want) {
		t.Fatalf("recorded events = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestConversationCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	raw := appchat.BuildCursor(at, "abc")
	cursor, err := appchat.ParseCursor(raw)
	if err != nil {
		t.Fatalf("ParseCursor(%q): %v", raw, err)
	}
	if !cursor.At.Equal(at) || cursor.ID != "abc" {
		t.Fatalf("round trip lost data: %+v", cursor)
	}

	tail := appchat.BuildCursor(time.Time{}, "abc")
	cursor, err = appchat.ParseCursor(tail)
	if err != nil {
		t.Fatal(err)
	}
	if !cursor.At.IsZero() || cursor.ID != "abc" {
		t.Fatalf("tail cursor mangled: %+v", cursor)
	}

	if c, err := appchat.ParseCursor(""); err != nil || !c.Zero() {
		t.Fatalf("empty cursor should be zero, got %+v err %v", c, err)
	}
	for _, bad := range []string{"garbage", "123", "|", "x|y", "12|"} {
		if _, err := appchat.ParseCursor(bad); !errors.Is(err, domainchat.ErrInvalidCursor) {
			t.Fatalf("ParseCursor(%q) err = %v, want ErrInvalidCursor", bad, err)
		}
	}
}
