package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestTrySendOverflow(t *testing.T) {
	ws := New(nil, Options{QueueSize: 2})
	if !ws.TrySend([]byte("a"), false) || !ws.TrySend([]byte("b"), false) {
		t.Fatalf("expected the first two frames to be queued")
	}
	if ws.TrySend([]byte("c"), false) {
		t.Errorf("expected overflow on the third frame")
	}
}

func TestEcho(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := NewServer(w, r, Options{QueueSize: 4, PingPong: true})
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ws.OnMessage = func(data []byte, binary bool) { ws.TrySend(data, binary) }
		ws.Listen()
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	tests := []struct {
		kind int
		data string
	}{
		{websocket.TextMessage, `{"t":1}`},
		{websocket.BinaryMessage, "\x01\x02"},
	}
	for _, test := range tests {
		if err := conn.WriteMessage(test.kind, []byte(test.data)); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if kind != test.kind || string(data) != test.data {
			t.Errorf("expected %v %q, got %v %q", test.kind, test.data, kind, data)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	done := make(chan *WS, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := NewServer(w, r, Options{})
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ws.Listen()
		done <- ws
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ws := <-done
	ws.Close()
	ws.Close()
	if ws.TrySend([]byte("x"), false) {
		t.Errorf("expected no sends after close")
	}
	// the client answers the close frame
	_, _, _ = conn.ReadMessage()
	_ = conn.Close()

	select {
	case <-ws.Done:
	case <-time.After(15 * time.Second):
		t.Fatalf("connection did not shut down")
	}
}

func TestNoMessagesAfterClose(t *testing.T) {
	conns := make(chan *WS, 1)
	got := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := NewServer(w, r, Options{PingPong: true})
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ws.OnMessage = func(data []byte, _ bool) { got <- string(data) }
		ws.Listen()
		conns <- ws
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	ws := <-conns

	if err = conn.WriteMessage(websocket.TextMessage, []byte("before")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case m := <-got:
		if m != "before" {
			t.Fatalf("unexpected message %q", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message before close")
	}

	ws.Close()
	for range 3 {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("after"))
	}
	select {
	case m := <-got:
		t.Errorf("got %q after close", m)
	case <-time.After(200 * time.Millisecond):
	}
}
