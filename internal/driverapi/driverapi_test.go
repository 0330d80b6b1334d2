package driverapi

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"transwacom/internal/config"
	"transwacom/internal/supervisor"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	cfg := config.NewManagerAt(t.TempDir() + "/config.yaml")
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sv, err := supervisor.New(cfg)
	if err != nil {
		t.Fatalf("supervisor.New: %v", err)
	}
	t.Cleanup(sv.Stop)

	srv := NewServer(sv)
	// Start binds its own listener and doesn't hand the chosen address
	// back, so tests need a fixed, known port rather than "127.0.0.1:0".
	addr := testAddr()
	if err := srv.Start(addr); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv, addr
}

var portCounter = 18800

func testAddr() string {
	portCounter++
	return "127.0.0.1:" + strconv.Itoa(portCounter)
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	var conn *websocket.Conn
	var err error
	// Start's http.Server begins Serving asynchronously; retry briefly
	// rather than sleeping a fixed guess.
	for i := 0; i < 50; i++ {
		conn, _, err = websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Dial: %v", err)
	return nil
}

func TestListSessionsCommandReturnsEmptySessions(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dial(t, addr)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "list_sessions"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp reply
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if resp.Type != "list_sessions" || !resp.OK {
		t.Fatalf("unexpected reply: %+v", resp)
	}
	if len(resp.Sessions) != 0 {
		t.Fatalf("Sessions = %v, want empty", resp.Sessions)
	}
}

func TestUnknownCommandRepliesWithError(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dial(t, addr)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "bogus"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp reply
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if resp.Type != "error" || resp.Error == "" {
		t.Fatalf("unexpected reply: %+v", resp)
	}
}

func TestStopUnknownSessionRepliesNotOK(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dial(t, addr)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "stop", "session_id": "nope"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp reply
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if resp.Type != "stop" || resp.OK {
		t.Fatalf("unexpected reply: %+v", resp)
	}
}

func TestMalformedCommandRepliesWithError(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dial(t, addr)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp reply
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if resp.Type != "error" {
		t.Fatalf("unexpected reply: %+v", resp)
	}
}

func TestBroadcastReachesEveryConnectedClient(t *testing.T) {
	srv, addr := newTestServer(t)
	a := dial(t, addr)
	defer a.Close()
	b := dial(t, addr)
	defer b.Close()

	// Give the hub a moment to register both clients before broadcasting.
	time.Sleep(50 * time.Millisecond)
	srv.broadcast(reply{Type: "event", Event: &supervisor.Event{Type: supervisor.EventError}})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		var resp reply
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if resp.Type != "event" || resp.Event == nil || resp.Event.Type != supervisor.EventError {
			t.Fatalf("unexpected broadcast: %+v", resp)
		}
	}
}
