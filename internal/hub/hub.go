package hub

import (
	"context"
	"encoding/json"
	"sync"

	"youth-mis/internal/logger"
	"youth-mis/internal/model"
	"youth-mis/internal/wire"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

// Connection is one realtime client. A connection receives events only for
// the tables it subscribed to.
type Connection struct {
	UserID string
	Writer Writer
}

// Relay carries change events between backend instances.
type Relay interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
	Run(ctx context.Context, deliver func(model.ChangeEvent)) error
}

type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Connection]model.EventMask
	connections map[*Connection]struct{}

	relay   Relay
	metrics *Metrics
	log     *logger.Logger
}

type Options struct {
	Relay   Relay
	Metrics *Metrics
	Logger  *logger.Logger
}

func New() *Hub {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Hub {
	h := &Hub{
		subscribers: make(map[string]map[*Connection]model.EventMask),
		connections: make(map[*Connection]struct{}),
		relay:       opts.Relay,
		metrics:     opts.Metrics,
		log:         opts.Logger,
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	if h.log == nil {
		h.log = logger.Discard()
	}
	return h
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[conn]; ok {
		return
	}
	h.connections[conn] = struct{}{}
	h.metrics.Connections.Inc()
}

// Unregister drops conn and all of its subscriptions.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[conn]; !ok {
		return
	}
	delete(h.connections, conn)
	h.metrics.Connections.Dec()
	for table, set := range h.subscribers {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.subscribers, table)
		}
	}
}

// Subscribe replaces conn's subscription to table. Subscribing again with a
// different mask is how a client changes the operations it receives.
func (h *Hub) Subscribe(conn *Connection, table string, mask model.EventMask) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers[table] == nil {
		h.subscribers[table] = make(map[*Connection]model.EventMask)
	}
	h.subscribers[table][conn] = mask
}

func (h *Hub) Unsubscribe(conn *Connection, table string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subscribers[table]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.subscribers, table)
	}
}

func (h *Hub) Subscribers(table string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[table])
}

// Publish delivers ev to local subscribers and hands it to the relay, if any.
// Relay failures are logged; local delivery never depends on the relay.
func (h *Hub) Publish(ctx context.Context, ev model.ChangeEvent) {
	h.Broadcast(ev)
	if h.relay == nil {
		return
	}
	if err := h.relay.Publish(ctx, ev); err != nil {
		h.log.Warn("realtime relay publish failed", "table", ev.Table, "error", err)
	}
}

// Broadcast delivers ev to local subscribers only. Writers that fail are
// closed and unregistered.
func (h *Hub) Broadcast(ev model.ChangeEvent) {
	h.mu.RLock()
	set := h.subscribers[ev.Table]
	conns := make([]*Connection, 0, len(set))
	for c, mask := range set {
		if mask.Matches(ev.Op) {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	h.metrics.Events.WithLabelValues(ev.Table, string(ev.Op)).Inc()
	if len(conns) == 0 {
		return
	}

	message, err := json.Marshal(wire.ChangeMessage(ev))
	if err != nil {
		h.log.Error("realtime encode failed", "error", err)
		return
	}

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}

// RunRelay feeds events published by other instances into local delivery
// until ctx ends.
func (h *Hub) RunRelay(ctx context.Context) error {
	if h.relay == nil {
		return nil
	}
	return h.relay.Run(ctx, h.Broadcast)
}
