package status

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roman-kulish/awg-sweeper/internal/sequencer"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", n, h.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	var msg Message
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHub_BroadcastsTransitionsAndPoints(t *testing.T) {
	h := NewHub()
	conn := dial(t, h)
	waitClients(t, h, 1)

	h.OnTransition(sequencer.Transition{Channel: 1, From: sequencer.StateEnabled, To: sequencer.StateRunning, Point: 3, Amplitude: 0.5})

	msg := read(t, conn)
	if msg.Type != TypeTransition || msg.From != "enabled" || msg.To != "running" || msg.Point != 3 {
		t.Errorf("unexpected transition message %+v", msg)
	}

	h.OnPoint(sequencer.PointResult{
		Channel:   1,
		Index:     3,
		Point:     sequencer.Point{Label: "lfm", File: "C:/CH/lfm_003.csv"},
		Amplitude: 0.5,
		Err:       errors.New("abort: timeout"),
	})

	msg = read(t, conn)
	if msg.Type != TypePoint || msg.Label != "lfm" || msg.Error != "abort: timeout" {
		t.Errorf("unexpected point message %+v", msg)
	}
}

func TestHub_SendsLastStateOnConnect(t *testing.T) {
	h := NewHub()
	h.OnTransition(sequencer.Transition{Channel: 2, From: sequencer.StateIdle, To: sequencer.StateConnected, Point: -1})

	conn := dial(t, h)

	msg := read(t, conn)
	if msg.Channel != 2 || msg.To != "connected" {
		t.Errorf("expected snapshot of channel 2, got %+v", msg)
	}
}

func TestHub_UnsubscribesOnDisconnect(t *testing.T) {
	h := NewHub()
	conn := dial(t, h)
	waitClients(t, h, 1)

	conn.Close()
	waitClients(t, h, 0)

	// broadcasting without subscribers must not block
	h.OnPoint(sequencer.PointResult{Channel: 1})
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	conn := dial(t, h)
	waitClients(t, h, 1)

	h.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure, got %v", err)
	}
	if h.Clients() != 0 {
		t.Errorf("expected no subscribers after close, got %d", h.Clients())
	}
}
