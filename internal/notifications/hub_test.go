package notifications_test

import (
	"context"
	"testing"

	"curator/internal/logging"
	"curator/internal/notifications"
)

func TestHubPublishWithoutClients(t *testing.T) {
	hub := notifications.NewHub(logging.NewNop())
	if hub.ClientCount() != 0 {
		t.Fatalf("fresh hub should have no clients, got %d", hub.ClientCount())
	}
	err := hub.Publish(context.Background(), notifications.EventJobStarted, notifications.Payload{"job_id": 1})
	if err != nil {
		t.Fatalf("publish without clients must not error: %v", err)
	}
}
