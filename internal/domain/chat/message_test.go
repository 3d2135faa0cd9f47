package chat

import (
	"strings"
	"testing"
)

func TestValidateText(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "plain", in: "Is this available?", want: "Is this available?"},
		{name: "trimmed", in: "  hello \n", want: "hello"},
		{name: "empty", in: "", wantErr: ErrTextRequired},
		{name: "whitespace only", in: " \t\n ", wantErr: ErrTextRequired},
		{name: "at limit", in: strings.Repeat("a", MaxTextRunes), want: strings.Repeat("a", MaxTextRunes)},
		{name: "over limit", in: strings.Repeat("a", MaxTextRunes+1), wantErr: ErrTextTooLong},
		{name: "multibyte at limit", in: strings.Repeat("ж", MaxTextRunes), want: strings.Repeat("ж", MaxTextRunes)},
		{name: "multibyte over limit", in: strings.Repeat("ж", MaxTextRunes+1), wantErr: ErrTextTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateText(tc.in)
			if err != tc.wantErr {
				t.Fatalf("ValidateText error = %v, want %v", err, tc.wantErr)
			}
			if err == nil && got != tc.want {
				t.Fatalf("ValidateText = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	if got := Snippet("  hello world  ", 500); got != "hello world" {
		t.Fatalf("Snippet = %q", got)
	}
	if got := Snippet(strings.Repeat("x", 600), 500); len([]rune(got)) != 500 {
		t.Fatalf("Snippet length = %d, want 500", len([]rune(got)))
	}
	if got := Snippet("anything", 0); got != "" {
		t.Fatalf("Snippet with max 0 = %q, want empty", got)
	}
}

func TestConversationHelpers(t *testing.T) {
	conv := &Conversation{
		OwnerID:          "owner",
		InterestedUserID: "buyer",
		UnreadOwner:      3,
		UnreadInterested: 1,
	}
	if !conv.IsParticipant("owner") || !conv.IsParticipant("buyer") {
		t.Fatal("participants not recognized")
	}
	if conv.IsParticipant("stranger") || conv.IsParticipant("") {
		t.Fatal("non-participant recognized")
	}
	if peer, ok := conv.PeerOf("owner"); !ok || peer != "buyer" {
		t.Fatalf("PeerOf(owner) = %q, %v", peer, ok)
	}
	if peer, ok := conv.PeerOf("buyer"); !ok || peer != "owner" {
		t.Fatalf("PeerOf(buyer) = %q, %v", peer, ok)
	}
	if _, ok := conv.PeerOf("stranger"); ok {
		t.Fatal("PeerOf(stranger) succeeded")
	}
	if conv.UnreadFor("owner") != 3 || conv.UnreadFor("buyer") != 1 {
		t.Fatal("UnreadFor returned wrong side")
	}
}
