package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/crawler-manager/internal/crawler"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	msg := crawler.AddressSuppliedMessage{CrawlerID: "c-1", Address: "https://www.google.com"}
	id1, err := pub.Publish(context.Background(), "topic-a", msg)
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "topic-a" || msgs[1].Topic != "topic-b" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}
	if msgs[0].Payload != msg {
		t.Fatalf("payload not recorded: %+v", msgs[0].Payload)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherFailures(t *testing.T) {
	t.Parallel()

	pub := New()
	refused := errors.New("sink unavailable")
	pub.FailWith(func(_ string, payload any) error {
		if m, ok := payload.(crawler.AddressSuppliedMessage); ok && m.Address == "https://bad.example" {
			return refused
		}
		return nil
	})

	if _, err := pub.Publish(context.Background(), "t", crawler.AddressSuppliedMessage{Address: "https://bad.example"}); !errors.Is(err, refused) {
		t.Fatalf("expected refused error, got %v", err)
	}
	if _, err := pub.Publish(context.Background(), "t", crawler.AddressSuppliedMessage{Address: "https://ok.example"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(pub.Messages()); got != 1 {
		t.Fatalf("expected only the accepted message to be recorded, got %d", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pub.Publish(ctx, "t", "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}

	pub.Reset()
	if len(pub.Messages()) != 0 {
		t.Fatal("expected Reset to clear messages")
	}
}

func TestBoundedPublisherKeepsNewest(t *testing.T) {
	t.Parallel()

	pub := NewBounded(2)
	var lastID string
	for _, payload := range []string{"a", "b", "c", "d"} {
		id, err := pub.Publish(context.Background(), "t", payload)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lastID = id
	}
	if lastID != "memory-4" {
		t.Fatalf("expected ids to keep counting, got %s", lastID)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 || msgs[0].Payload != "c" || msgs[1].Payload != "d" {
		t.Fatalf("expected the two newest messages, got %+v", msgs)
	}
	if msgs[0].ID != "memory-3" {
		t.Fatalf("expected retained ids to be preserved, got %s", msgs[0].ID)
	}
}

func TestBoundedPublisherZeroKeepsAll(t *testing.T) {
	t.Parallel()

	pub := NewBounded(0)
	for i := 0; i < 5; i++ {
		if _, err := pub.Publish(context.Background(), "t", i); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := len(pub.Messages()); got != 5 {
		t.Fatalf("expected every message to be kept, got %d", got)
	}
}
