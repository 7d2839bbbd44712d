package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func TestShouldSendAllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventTransaction, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSendEventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []string{EventTransaction, EventLowBalance},
	}}

	if !h.shouldSend(client, &Event{Type: EventTransaction}) {
		t.Error("Should receive transaction events")
	}
	if !h.shouldSend(client, &Event{Type: EventLowBalance}) {
		t.Error("Should receive low balance events")
	}
	if h.shouldSend(client, &Event{Type: EventAutoTopupEligible}) {
		t.Error("Should NOT receive unsubscribed event types")
	}
}

func TestShouldSendUserFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		UserIDs: []string{"user_1"},
	}}

	matching := &Event{
		Type: EventTransaction,
		Data: map[string]interface{}{"user_id": "user_1", "amount_wc": 10.0},
	}
	notMatching := &Event{
		Type: EventTransaction,
		Data: map[string]interface{}{"user_id": "user_2", "amount_wc": 10.0},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on user_id")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match other users")
	}
}

func TestShouldSendMinAmountFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinAmountWC: 50,
	}}

	large := &Event{
		Type: EventTransaction,
		Data: map[string]interface{}{"amount_wc": 100.0},
	}
	debit := &Event{
		Type: EventTransaction,
		Data: map[string]interface{}{"amount_wc": -80.0},
	}
	small := &Event{
		Type: EventTransaction,
		Data: map[string]interface{}{"amount_wc": 20.0},
	}
	alert := &Event{
		Type: EventLowBalance,
		Data: map[string]interface{}{"balance_wc": 5.0},
	}

	if !h.shouldSend(client, large) {
		t.Error("Should receive large transaction")
	}
	if !h.shouldSend(client, debit) {
		t.Error("Amount filter compares magnitude, debits count")
	}
	if h.shouldSend(client, small) {
		t.Error("Should NOT receive small transaction")
	}
	if !h.shouldSend(client, alert) {
		t.Error("Amount filter only applies to transactions")
	}
}

func TestShouldSendEmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{}}

	// No filters set means everything passes.
	if !h.shouldSend(client, &Event{Type: EventTransaction}) {
		t.Error("Empty subscription should receive events")
	}
}

func TestHubBroadcastToClient(t *testing.T) {
	hub := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait until the hub has registered the client.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if hub.Stats()["connected_clients"].(int) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.BroadcastTransaction(map[string]interface{}{
		"user_id":   "user_1",
		"type":      "credit",
		"amount_wc": 100,
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var event Event
	if err := json.Unmarshal(message, &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.Type != EventTransaction {
		t.Errorf("expected transaction event, got %s", event.Type)
	}
	data := event.Data.(map[string]interface{})
	if data["user_id"] != "user_1" {
		t.Errorf("expected user_1, got %v", data["user_id"])
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// Upgrades after shutdown are refused.
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after shutdown, got %d", resp.StatusCode)
	}
}
