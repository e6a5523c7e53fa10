package storage

import (
	"testing"
	"time"
)

func TestLogAndQueryEvents(t *testing.T) {
	store := newTestStore(t)

	now := nowUnixMilli()
	peer := "10.0.0.7:51234"

	if err := store.LogEvent(Event{
		Kind:         "connect_failed",
		PeerIdentity: &peer,
		Details:      `{"host":"10.0.0.7","port":9000}`,
		Severity:     SeverityWarning,
		Timestamp:    now - 1_000,
	}); err != nil {
		t.Fatalf("LogEvent connect_failed failed: %v", err)
	}
	if err := store.LogEvent(Event{
		Kind:         "decryption_failed",
		PeerIdentity: &peer,
		Details:      `{"error":"bad box"}`,
		Severity:     SeverityCritical,
		Timestamp:    now,
	}); err != nil {
		t.Fatalf("LogEvent decryption_failed failed: %v", err)
	}

	all, err := store.GetEvents(EventFilter{PeerIdentity: peer, Limit: 10})
	if err != nil {
		t.Fatalf("GetEvents all failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 events, got %d", len(all))
	}
	if all[0].Kind != "decryption_failed" {
		t.Fatalf("expected newest event decryption_failed, got %q", all[0].Kind)
	}
	if all[1].Kind != "connect_failed" {
		t.Fatalf("expected older event connect_failed, got %q", all[1].Kind)
	}
	if all[0].SessionID != store.SessionID() {
		t.Fatalf("expected store session %q, got %q", store.SessionID(), all[0].SessionID)
	}

	filtered, err := store.GetEvents(EventFilter{
		Kind:     "connect_failed",
		Severity: SeverityWarning,
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("GetEvents filtered failed: %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("expected 1 filtered event, got %d", len(filtered))
	}
	if filtered[0].Details != `{"host":"10.0.0.7","port":9000}` {
		t.Fatalf("unexpected filtered event details: %q", filtered[0].Details)
	}
	if filtered[0].PeerIdentity == nil || *filtered[0].PeerIdentity != peer {
		t.Fatalf("unexpected peer identity: %v", filtered[0].PeerIdentity)
	}
}

func TestLogEventValidation(t *testing.T) {
	store := newTestStore(t)

	if err := store.LogEvent(Event{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if err := store.LogEvent(Event{Kind: "x", Severity: "loud"}); err == nil {
		t.Fatalf("expected error for invalid severity")
	}
	if err := store.LogEvent(Event{Kind: "x", Details: "not json"}); err == nil {
		t.Fatalf("expected error for invalid details")
	}
	if _, err := store.GetEvents(EventFilter{Severity: "loud"}); err == nil {
		t.Fatalf("expected error for invalid severity filter")
	}
}

func TestLogEventDetailsEncodesJSON(t *testing.T) {
	store := newTestStore(t)

	if err := store.LogEventDetails("peer_connected", "127.0.0.1:4000", "", map[string]any{"direction": "inbound"}); err != nil {
		t.Fatalf("LogEventDetails failed: %v", err)
	}
	if err := store.LogEventDetails("exit_requested", "", SeverityInfo, nil); err != nil {
		t.Fatalf("LogEventDetails without details failed: %v", err)
	}

	events, err := store.GetEvents(EventFilter{SessionID: store.SessionID()})
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	for _, event := range events {
		switch event.Kind {
		case "peer_connected":
			if event.Details != `{"direction":"inbound"}` {
				t.Fatalf("unexpected details: %q", event.Details)
			}
			if event.Severity != SeverityInfo {
				t.Fatalf("expected default severity info, got %q", event.Severity)
			}
		case "exit_requested":
			if event.Details != "{}" {
				t.Fatalf("expected empty details object, got %q", event.Details)
			}
			if event.PeerIdentity != nil {
				t.Fatalf("expected no peer identity, got %q", *event.PeerIdentity)
			}
		default:
			t.Fatalf("unexpected event kind %q", event.Kind)
		}
	}
}

func TestEventRetentionPrunesOldRows(t *testing.T) {
	store := newTestStore(t)
	store.SetEventRetention(1 * time.Second)

	now := nowUnixMilli()

	if err := store.LogEvent(Event{
		Kind:      "old_event",
		Details:   `{"state":"old"}`,
		Timestamp: now - 10_000,
	}); err != nil {
		t.Fatalf("LogEvent old_event failed: %v", err)
	}
	if err := store.LogEvent(Event{
		Kind:      "new_event",
		Details:   `{"state":"new"}`,
		Timestamp: now,
	}); err != nil {
		t.Fatalf("LogEvent new_event failed: %v", err)
	}

	events, err := store.GetEvents(EventFilter{Limit: 10})
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event after retention prune, got %d", len(events))
	}
	if events[0].Kind != "new_event" {
		t.Fatalf("expected retained event new_event, got %q", events[0].Kind)
	}
}

func TestPruneEventsRejectsInvalidCutoff(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.PruneEvents(0); err == nil {
		t.Fatalf("expected error for zero cutoff")
	}
}
