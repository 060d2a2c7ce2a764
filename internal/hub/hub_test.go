package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"youth-mis/internal/model"
	"youth-mis/internal/wire"
)

type testWriter struct {
	mu     sync.Mutex
	writes [][]byte
	fail   bool
	closed bool
}

func (w *testWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, message)
	if w.fail {
		return errTest
	}
	return nil
}

func (w *testWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *testWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

var errTest = errors.New("test")

func insert(table string) model.ChangeEvent {
	return model.ChangeEvent{Table: table, Op: model.OpInsert, RowID: "r1", At: 1}
}

func TestHub_SubscribePublishUnsubscribe(t *testing.T) {
	h := New()
	w1 := &testWriter{}
	c1 := &Connection{UserID: "u", Writer: w1}

	h.Register(c1)
	h.Subscribe(c1, "students", nil)
	h.Publish(context.Background(), insert("students"))
	if w1.count() != 1 {
		t.Fatalf("expected 1 write, got %d", w1.count())
	}

	var msg wire.ServerMessage
	if err := json.Unmarshal(w1.writes[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != wire.TypeChange || msg.Table != "students" || msg.Op != model.OpInsert || msg.ID != "r1" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	h.Publish(context.Background(), insert("employees"))
	if w1.count() != 1 {
		t.Fatalf("expected no write for an unwatched table, got %d", w1.count())
	}

	h.Unsubscribe(c1, "students")
	h.Publish(context.Background(), insert("students"))
	if w1.count() != 1 {
		t.Fatalf("expected no more writes, got %d", w1.count())
	}
}

func TestHub_EventMask(t *testing.T) {
	h := New()
	w := &testWriter{}
	c := &Connection{UserID: "u", Writer: w}
	h.Register(c)
	h.Subscribe(c, "jobs", model.EventMask{model.OpDelete})

	h.Broadcast(insert("jobs"))
	h.Broadcast(model.ChangeEvent{Table: "jobs", Op: model.OpDelete, RowID: "r1"})
	if w.count() != 1 {
		t.Fatalf("expected only the delete to be delivered, got %d writes", w.count())
	}
}

func TestHub_RemovesFailedConnections(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewWithOptions(Options{Metrics: NewMetrics(reg)})
	w1 := &testWriter{fail: true}
	c1 := &Connection{UserID: "u", Writer: w1}
	h.Register(c1)
	h.Subscribe(c1, "students", nil)

	h.Broadcast(insert("students"))
	h.Broadcast(insert("students"))
	if w1.count() != 1 {
		t.Fatalf("expected only 1 write before removal, got %d", w1.count())
	}
	if !w1.closed {
		t.Fatalf("expected failed writer to be closed")
	}
	if h.Subscribers("students") != 0 {
		t.Fatalf("expected subscription to be dropped")
	}
	if got := testutil.ToFloat64(h.metrics.Connections); got != 0 {
		t.Fatalf("expected 0 connections, got %v", got)
	}
}

type fakeRelay struct {
	published []model.ChangeEvent
	incoming  chan model.ChangeEvent
	err       error
}

func (r *fakeRelay) Publish(_ context.Context, ev model.ChangeEvent) error {
	r.published = append(r.published, ev)
	return r.err
}

func (r *fakeRelay) Run(ctx context.Context, deliver func(model.ChangeEvent)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.incoming:
			deliver(ev)
		}
	}
}

func TestHub_Relay(t *testing.T) {
	relay := &fakeRelay{incoming: make(chan model.ChangeEvent), err: errTest}
	h := NewWithOptions(Options{Relay: relay})
	w := &testWriter{}
	c := &Connection{UserID: "u", Writer: w}
	h.Register(c)
	h.Subscribe(c, "students", nil)

	h.Publish(context.Background(), insert("students"))
	if len(relay.published) != 1 {
		t.Fatalf("expected event handed to relay")
	}
	if w.count() != 1 {
		t.Fatalf("expected local delivery despite relay error, got %d", w.count())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.RunRelay(ctx)
	}()
	relay.incoming <- insert("students")
	cancel()
	<-done
	if w.count() != 2 {
		t.Fatalf("expected relayed event delivered, got %d writes", w.count())
	}
}
