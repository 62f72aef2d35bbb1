package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: TypeAnchorSpawned, Workspace: "lab", Data: map[string]string{"record_id": "r1"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: anchor.spawned") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"record_id":"r1"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestWorkspaceFilter(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	lab := b.Subscribe("lab")
	defer b.Unsubscribe(lab)

	b.Publish(Event{Type: TypeStatus, Workspace: "attic", Data: map[string]string{"message": "attic"}})
	b.Publish(Event{Type: TypeStatus, Workspace: "lab", Data: map[string]string{"message": "lab"}})
	b.Publish(Event{Type: TypeCatalogUpdated, Data: map[string]string{}})

	time.Sleep(50 * time.Millisecond)
	var got []string
loop:
	for {
		select {
		case msg := <-lab:
			got = append(got, string(msg))
		default:
			break loop
		}
	}
	if len(got) != 2 {
		t.Fatalf("lab subscriber got %d events, want 2: %q", len(got), got)
	}
	if strings.Contains(got[0], "attic") {
		t.Errorf("event for another workspace delivered: %q", got[0])
	}
}

func TestPublishWorkspaceEvent_CatalogThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	// First event should trigger catalog.updated.
	b.PublishWorkspaceEvent("created", "lab")
	// Second event immediately should NOT trigger another catalog.updated.
	b.PublishWorkspaceEvent("updated", "attic")

	// Drain and count events.
	time.Sleep(50 * time.Millisecond)
	catalogCount := 0
	workspaceCount := 0
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, TypeCatalogUpdated) {
				catalogCount++
			} else {
				workspaceCount++
			}
		default:
			break loop
		}
	}

	if workspaceCount != 2 {
		t.Errorf("workspace events = %d, want 2", workspaceCount)
	}
	if catalogCount != 1 {
		t.Errorf("catalog events = %d, want 1 (throttled)", catalogCount)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?workspace=lab", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: TypeStatus, Workspace: "lab", Data: map[string]string{"message": "Anchor saved."}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: status") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: TypeStatus, Data: map[string]string{"message": "x"}})
	b.PublishWorkspaceEvent("updated", "lab")
}
