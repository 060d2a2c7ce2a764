package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"youth-mis/internal/access"
	"youth-mis/internal/hub"
	"youth-mis/internal/logger"
	"youth-mis/internal/middleware"
	"youth-mis/internal/model"
	"youth-mis/internal/wire"
)

const (
	pongWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

// RealtimeHandler serves the change feed. The caller is authenticated by
// middleware before the upgrade.
type RealtimeHandler struct {
	Hub *hub.Hub
	// Rows refuses subscriptions to tables the caller may not read.
	Rows   *access.Service
	Logger *logger.Logger
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsWriter serializes writes: the hub and the read loop both write.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

func (w *wsWriter) send(msg wire.ServerMessage) error {
	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.Write(out)
}

func parseMask(events []model.Op) (model.EventMask, bool) {
	mask := make(model.EventMask, 0, len(events))
	for _, e := range events {
		op, ok := model.ParseOp(string(e))
		if !ok {
			return nil, false
		}
		mask = append(mask, op)
	}
	return mask, true
}

func (h *RealtimeHandler) Serve(c *gin.Context) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, wire.ErrorBody{Error: "Invalid authentication token", Code: "auth"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	w := &wsWriter{conn: ws}
	conn := &hub.Connection{UserID: caller.UserID, Writer: w}
	h.Hub.Register(conn)
	h.Logger.Debug("realtime connected", "user", caller.UserID)
	defer func() {
		h.Hub.Unregister(conn)
		_ = ws.Close()
		h.Logger.Debug("realtime disconnected", "user", caller.UserID)
	}()

	ws.SetReadLimit(1024 * 1024)
	pingPeriod := (pongWait * 9) / 10

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() {
		closeOnce.Do(func() {
			close(done)
		})
	}
	defer closeDone()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := w.Ping(); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg wire.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = w.send(wire.ServerMessage{Type: wire.TypeError, Message: "invalid message"})
			continue
		}

		switch msg.Type {
		case wire.TypePing:
			_ = w.send(wire.ServerMessage{Type: wire.TypePong})
		case wire.TypeSubscribe:
			if !model.IsTable(msg.Table) {
				_ = w.send(wire.ServerMessage{Type: wire.TypeError, Table: msg.Table, Message: "unknown table"})
				continue
			}
			mask, ok := parseMask(msg.Events)
			if !ok {
				_ = w.send(wire.ServerMessage{Type: wire.TypeError, Table: msg.Table, Message: "unknown event"})
				continue
			}
			if err := h.Rows.CheckRead(c.Request.Context(), caller, msg.Table); err != nil {
				_ = w.send(wire.ErrorFrame(msg.Table, err))
				continue
			}
			h.Hub.Subscribe(conn, msg.Table, mask)
			_ = w.send(wire.ServerMessage{Type: wire.TypeSubscribed, Table: msg.Table})
		case wire.TypeUnsubscribe:
			h.Hub.Unsubscribe(conn, msg.Table)
			_ = w.send(wire.ServerMessage{Type: wire.TypeUnsubscribed, Table: msg.Table})
		default:
			_ = w.send(wire.ServerMessage{Type: wire.TypeError, Message: "unknown message type " + msg.Type})
		}
	}
}
