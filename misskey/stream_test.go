package misskey

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"runtime"
	"sync"
	"testing"
	"time"
)

type fakeStreamConn struct {
	frames   chan []byte
	writeErr error

	mu     sync.Mutex
	writes []StreamControl

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeStreamConn() *fakeStreamConn {
	return &fakeStreamConn{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeStreamConn) ReadMessage() (int, []byte, error) {
	select {
	case raw, ok := <-c.frames:
		if !ok {
			return 0, nil, errors.New("stream closed by peer")
		}
		return 1, raw, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeStreamConn) WriteJSON(v any) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	msg, ok := v.(StreamControl)
	if !ok {
		return errors.New("unexpected write payload")
	}
	c.mu.Lock()
	c.writes = append(c.writes, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeStreamConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeStreamConn) controlWrites(msgType string) []StreamControl {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []StreamControl
	for _, w := range c.writes {
		if w.Type == msgType {
			out = append(out, w)
		}
	}
	return out
}

func (c *fakeStreamConn) pushFrame(t *testing.T, frame StreamFrame) {
	t.Helper()
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	c.frames <- raw
}

func TestSessionSubscribe(t *testing.T) {
	conn := newFakeStreamConn()
	sess := NewSession(conn, time.Second, nil)
	if err := sess.Subscribe("c1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	connects := conn.controlWrites("connect")
	if len(connects) != 2 {
		t.Fatalf("expected 2 connect messages, got %d", len(connects))
	}
	if connects[0].Body.Channel != "main" || connects[0].Body.ID != "main" {
		t.Fatalf("first connect must target the main feed, got %+v", connects[0].Body)
	}
	if connects[1].Body.ID != "channel_c1" || connects[1].Body.Params["channelId"] != "c1" {
		t.Fatalf("unexpected channel connect: %+v", connects[1].Body)
	}
}

func TestSessionSubscribe_MainFeedOnly(t *testing.T) {
	conn := newFakeStreamConn()
	sess := NewSession(conn, time.Second, nil)
	if err := sess.Subscribe(""); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if got := len(conn.controlWrites("connect")); got != 1 {
		t.Fatalf("expected 1 connect message, got %d", got)
	}
}

func TestSessionConsume_HeartbeatOnIdle(t *testing.T) {
	conn := newFakeStreamConn()
	sess := NewSession(conn, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sess.Consume(ctx, func(StreamFrame) {})
	}()

	// Two idle windows pass; each one must produce a heartbeat, and
	// neither counts as a transport failure.
	deadline := time.After(2 * time.Second)
	for {
		if len(conn.controlWrites("ping")) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 2 heartbeats, got %d", len(conn.controlWrites("ping")))
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Consume() error = %v, want context.Canceled", err)
	}
}

func TestSessionConsume_DispatchesFrames(t *testing.T) {
	conn := newFakeStreamConn()
	sess := NewSession(conn, time.Second, nil)

	got := make(chan StreamFrame, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sess.Consume(ctx, func(f StreamFrame) { got <- f })
	}()

	conn.frames <- []byte(`{not json`) // dropped, not fatal
	conn.pushFrame(t, StreamFrame{Type: "channel", Body: StreamFrameBody{Type: "mention"}})

	select {
	case f := <-got:
		if f.Type != "channel" || f.Body.Type != "mention" {
			t.Fatalf("unexpected frame: %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never received the frame")
	}
	cancel()
	<-done
}

func TestSessionConsume_HeartbeatWriteErrorReleasesReader(t *testing.T) {
	before := runtime.NumGoroutine()

	// A failing heartbeat write ends Consume while the context stays
	// alive; the reader must still exit once the connection is closed.
	for i := 0; i < 20; i++ {
		conn := newFakeStreamConn()
		conn.writeErr = errors.New("write failed")
		sess := NewSession(conn, time.Millisecond, nil)
		if err := sess.Consume(context.Background(), func(StreamFrame) {}); err == nil {
			t.Fatalf("expected heartbeat write error")
		}
		_ = conn.Close()
	}

	deadline := time.After(2 * time.Second)
	for runtime.NumGoroutine() > before {
		select {
		case <-deadline:
			t.Fatalf("reader goroutines leaked: before=%d after=%d", before, runtime.NumGoroutine())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSessionConsume_ReturnsTransportError(t *testing.T) {
	conn := newFakeStreamConn()
	sess := NewSession(conn, time.Second, nil)

	close(conn.frames)
	err := sess.Consume(context.Background(), func(StreamFrame) {})
	if err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("Consume() error = %v, want transport error", err)
	}
}

func TestStreamURL(t *testing.T) {
	cases := []struct {
		instance string
		want     string
	}{
		{instance: "https://misskey.example", want: "wss://misskey.example/streaming?i=tok"},
		{instance: "http://localhost:3000", want: "ws://localhost:3000/streaming?i=tok"},
	}
	for _, tc := range cases {
		got, err := StreamURL(tc.instance, "tok")
		if err != nil {
			t.Fatalf("StreamURL(%q) error = %v", tc.instance, err)
		}
		if got != tc.want {
			t.Fatalf("StreamURL(%q) = %s, want %s", tc.instance, got, tc.want)
		}
	}
	if _, err := StreamURL("://bad", "tok"); err == nil {
		t.Fatalf("expected error for invalid instance url")
	}
}
