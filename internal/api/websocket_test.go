package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, srv *Server) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ts.Close()
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()

	return conn, func() {
		conn.Close()
		ts.Close()
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decoding %s: %v", data, err)
	}
	return msg
}

func TestWebSocket_InitialStatus(t *testing.T) {
	srv := newTestServer(t, testDeps())
	conn, done := dialWS(t, srv)
	defer done()

	msg := readMessage(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != EventStatus {
		t.Fatalf("msg = %+v, want status event", msg)
	}

	payload, _ := json.Marshal(msg.Payload)
	var status StatusResponse
	if err := json.Unmarshal(payload, &status); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if status.North.Position != 42 {
		t.Errorf("North.Position = %d, want 42", status.North.Position)
	}
}

func TestWebSocket_PingPong(t *testing.T) {
	srv := newTestServer(t, testDeps())
	conn, done := dialWS(t, srv)
	defer done()

	readMessage(t, conn) // initial status

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != WSTypePong || msg.ID != "1" {
		t.Errorf("msg = %+v, want pong with id 1", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: "subscribe", ID: "2"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg = readMessage(t, conn)
	if msg.Type != WSTypeError || msg.ID != "2" {
		t.Errorf("msg = %+v, want error with id 2", msg)
	}
}

func TestWebSocket_PeriodicPush(t *testing.T) {
	srv := newTestServer(t, testDeps())
	conn, done := dialWS(t, srv)
	defer done()

	readMessage(t, conn) // initial status

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.pushStatus(ctx)

	msg := readMessage(t, conn)
	if msg.EventType != EventStatus {
		t.Errorf("EventType = %q, want %q", msg.EventType, EventStatus)
	}
}

func TestHub_RunClosesClients(t *testing.T) {
	srv := newTestServer(t, testDeps())
	conn, done := dialWS(t, srv)
	defer done()

	readMessage(t, conn)

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := srv.hub.ClientCount(); got != 1 {
		t.Fatalf("ClientCount() = %d, want 1", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		srv.hub.Run(ctx)
		close(finished)
	}()
	cancel()
	<-finished

	if got := srv.hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() after Run = %d, want 0", got)
	}

	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("read after hub shutdown succeeded, want error")
	}
}

func TestWebSocket_RequiresTokenWhenConfigured(t *testing.T) {
	deps := testDeps()
	deps.Config.Auth.JWTSecret = testSecret
	srv := newTestServer(t, deps)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Errorf("response = %v, want 401", resp)
	}

	token, err := GenerateToken(testSecret, "grafana", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	resp.Body.Close()
	conn.Close()
}
