package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketHubBroadcast(t *testing.T) {
	hub := NewWebSocketHub()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		hub.AddClient(conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("Expected 1 client, got %d", hub.ClientCount())
	}

	hub.Broadcast(WebSocketEvent{Type: EventVolumeChanged, Payload: VolumePayload{Level: 42}})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type    string        `json:"type"`
		Payload VolumePayload `json:"payload"`
	}
	if err := client.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got.Type != EventVolumeChanged || got.Payload.Level != 42 {
		t.Errorf("Unexpected event %+v", got)
	}

	hub.CloseAll()
	if hub.ClientCount() != 0 {
		t.Errorf("Expected no clients after CloseAll, got %d", hub.ClientCount())
	}
}
