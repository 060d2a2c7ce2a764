package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"youth-mis/internal/wire"
)

func dialRealtime(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime/v1/websocket?apikey=" + testPublicKey + "&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wire.ServerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg wire.ServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

func TestWebSocketPingPong(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t, "ada@example.com", "student")
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialRealtime(t, srv, token)
	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.TypePing}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != wire.TypePong {
		t.Fatalf("expected pong, got %+v", msg)
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime/v1/websocket?apikey=" + testPublicKey + "&token=nope"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %v", resp)
	}
}

func TestWebSocketDeliversChanges(t *testing.T) {
	env := newTestEnv(t)
	staff := env.signUp(t, "staff@example.com", "staff")
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialRealtime(t, srv, staff)
	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.TypeSubscribe, Table: "students", Events: nil}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != wire.TypeSubscribed || msg.Table != "students" {
		t.Fatalf("expected subscribed, got %+v", msg)
	}

	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.TypeSubscribe, Table: "nope"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != wire.TypeError {
		t.Fatalf("expected error for unknown table, got %+v", msg)
	}

	w := env.do(t, http.MethodPost, "/rest/v1/students", staff, map[string]any{"id": "s1", "full_name": "Ada"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	msg := readMessage(t, conn)
	if msg.Type != wire.TypeChange || msg.Table != "students" || msg.Op != "INSERT" || msg.ID != "s1" {
		t.Fatalf("unexpected change message: %+v", msg)
	}

	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.TypeUnsubscribe, Table: "students"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != wire.TypeUnsubscribed {
		t.Fatalf("expected unsubscribed, got %+v", msg)
	}
	if n := env.core.Hub.Subscribers("students"); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestWebSocketRefusesUnreadableTable(t *testing.T) {
	env := newTestEnv(t)
	student := env.signUp(t, "kid@example.com", "student")
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialRealtime(t, srv, student)
	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.TypeSubscribe, Table: "employees"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != wire.TypeError || msg.Table != "employees" || msg.Code != "permission_denied" {
		t.Fatalf("expected permission_denied error frame, got %+v", msg)
	}

	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.TypeSubscribe, Table: "programs"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != wire.TypeSubscribed || msg.Table != "programs" {
		t.Fatalf("expected subscribed, got %+v", msg)
	}
}
