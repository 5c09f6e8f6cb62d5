package store

import (
	"testing"

	"github.com/dukerupert/daybook/internal/database"
)

func setupPushTestDB(t *testing.T) *PushStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPushStore(db)
}

func TestCreateSubscription(t *testing.T) {
	s := setupPushTestDB(t)

	sub, err := s.CreateSubscription("https://push.example.com/ep1", "p256dh-key", "auth-key", "Pixel")
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if sub == nil || sub.ID == 0 {
		t.Fatal("expected stored subscription with id")
	}
	if sub.Endpoint != "https://push.example.com/ep1" || sub.DeviceName != "Pixel" {
		t.Errorf("subscription = %+v", sub)
	}
}

func TestCreateSubscriptionUpdatesKeysOnConflict(t *testing.T) {
	s := setupPushTestDB(t)

	if _, err := s.CreateSubscription("https://push.example.com/ep1", "old-p256", "old-auth", "Pixel"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	sub, err := s.CreateSubscription("https://push.example.com/ep1", "new-p256", "new-auth", "Pixel 2")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if sub.P256dhKey != "new-p256" || sub.AuthKey != "new-auth" {
		t.Errorf("keys not updated: %+v", sub)
	}

	subs, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 {
		t.Errorf("subscription count = %d, want 1", len(subs))
	}
}

func TestDeleteByEndpoint(t *testing.T) {
	s := setupPushTestDB(t)

	if _, err := s.CreateSubscription("https://push.example.com/ep1", "p", "a", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeleteByEndpoint("https://push.example.com/ep1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	subs, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("subscription count = %d, want 0", len(subs))
	}
}
