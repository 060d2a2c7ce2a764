package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"youth-mis/internal/apperr"
	"youth-mis/internal/backend"
	"youth-mis/internal/model"
	"youth-mis/internal/wire"
)

const writeWait = 10 * time.Second

type wsConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	frames  chan wire.ServerMessage
	done    chan struct{}
	err     error
	close   sync.Once
}

// Dial opens the realtime websocket. Frames are read by a background
// goroutine and handed out by Next.
func (c *Client) Dial(ctx context.Context, token string) (backend.Conn, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.base.Path + "/realtime/v1/websocket"
	u.RawQuery = url.Values{"apikey": {c.key}, "token": {token}}.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: c.timeout, Proxy: http.ProxyFromEnvironment}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, apperr.FromStatus("realtime dial", resp.StatusCode, "", "")
		}
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.KindTimeout, "realtime dial", ctx.Err())
		}
		return nil, apperr.Wrap(apperr.KindNetwork, "realtime dial", err)
	}
	// Answering pings is gorilla's default; the server's ping keeps the
	// read deadline moving on its side.
	conn := &wsConn{ws: ws, frames: make(chan wire.ServerMessage, 64), done: make(chan struct{})}
	go conn.readLoop()
	return conn, nil
}

func (c *wsConn) readLoop() {
	defer close(c.frames)
	for {
		var msg wire.ServerMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.err = err
			return
		}
		select {
		case c.frames <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) write(msg wire.ClientMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		return apperr.Wrap(apperr.KindNetwork, "realtime write", err)
	}
	return nil
}

func (c *wsConn) Subscribe(table string, events ...model.Op) error {
	return c.write(wire.ClientMessage{Type: wire.TypeSubscribe, Table: table, Events: events})
}

func (c *wsConn) Unsubscribe(table string) error {
	return c.write(wire.ClientMessage{Type: wire.TypeUnsubscribe, Table: table})
}

func (c *wsConn) Next(ctx context.Context) (wire.ServerMessage, error) {
	select {
	case <-ctx.Done():
		return wire.ServerMessage{}, ctx.Err()
	case msg, ok := <-c.frames:
		if !ok {
			err := c.err
			if err == nil {
				err = websocket.ErrCloseSent
			}
			return wire.ServerMessage{}, apperr.Wrap(apperr.KindNetwork, "realtime read", err)
		}
		return msg, nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.close.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
