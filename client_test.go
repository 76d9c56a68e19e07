package collabcore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teamgrid/collabcore/internal/config"
	"github.com/teamgrid/collabcore/internal/transport"
)

// testBackend fakes the REST surface and the socket broker in one server.
type testBackend struct {
	t   *testing.T
	srv *httptest.Server

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
	sent  []transport.Frame

	connCh chan *websocket.Conn
}

func newTestBackend(t *testing.T) *testBackend {
	b := &testBackend{t: t, connCh: make(chan *websocket.Conn, 4)}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWS)
	mux.HandleFunc("/channels/ch1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "ch1", "name": "general", "type": "TEXT", "memberIds": ["me", "u2"]}`))
	})
	mux.HandleFunc("/channels/ch1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id": "m1", "channelId": "ch1", "text": "welcome", "type": "TEXT", "createdAt": "2026-03-04T10:00:00Z"},
			{"id": "m2", "channelId": "ch1", "text": "hello", "type": "TEXT", "createdAt": "2026-03-04T10:01:00Z"}
		]`))
	})
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.shutdown)
	return b
}

func (b *testBackend) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.mu.Unlock()
	b.connCh <- conn
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f transport.Frame
		if json.Unmarshal(raw, &f) == nil {
			b.mu.Lock()
			b.sent = append(b.sent, f)
			b.mu.Unlock()
		}
	}
}

func (b *testBackend) config() config.Config {
	cfg := config.Default()
	cfg.Server.APIBase = b.srv.URL
	cfg.Server.SocketURL = "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws"
	cfg.Transport.ReconnectSec = 1
	cfg.Transport.HeartbeatSec = 1
	return cfg
}

func (b *testBackend) waitConn() *websocket.Conn {
	b.t.Helper()
	select {
	case c := <-b.connCh:
		return c
	case <-time.After(3 * time.Second):
		b.t.Fatal("client never connected")
		return nil
	}
}

func (b *testBackend) framesFor(destination string) []transport.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []transport.Frame
	for _, f := range b.sent {
		if f.Destination == destination {
			out = append(out, f)
		}
	}
	return out
}

func (b *testBackend) shutdown() {
	b.mu.Lock()
	for _, c := range b.conns {
		c.Close()
	}
	b.mu.Unlock()
	b.srv.Close()
}

func newTestClient(t *testing.T, b *testBackend) *Client {
	t.Helper()
	c, err := New(b.config(), "tok-123", "me", "Me")
	if err != nil {
		t.Fatal(err)
	}
	c.OnError = func(err error) { t.Logf("client error: %v", err) }
	t.Cleanup(func() { c.Close() })
	return c
}

func TestJoinChannelLoadsAndStreams(t *testing.T) {
	b := newTestBackend(t)
	c := newTestClient(t, b)

	view, err := c.JoinChannel(context.Background(), "ch1")
	if err != nil {
		t.Fatal(err)
	}
	defer view.Leave(context.Background())
	conn := b.waitConn()

	if view.Store().Len() != 2 {
		t.Fatalf("initial page not loaded: len=%d", view.Store().Len())
	}

	// A broadcast on the message topic lands in the store.
	events, cancel := view.Store().Subscribe()
	defer cancel()
	frame := transport.Frame{
		Destination: "/topic/messages.ch1",
		Body:        json.RawMessage(`{"id": "m3", "channelId": "ch1", "text": "live", "type": "TEXT", "createdAt": "2026-03-04T10:02:00Z"}`),
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatal(err)
	}
	select {
	case <-events:
	case <-time.After(3 * time.Second):
		t.Fatal("broadcast message never reached the store")
	}
	if got, ok := view.Store().Get("m3"); !ok || got.Text != "live" {
		t.Fatalf("streamed message: %+v ok=%v", got, ok)
	}
}

func TestActiveCallTracking(t *testing.T) {
	b := newTestBackend(t)
	c := newTestClient(t, b)

	view, err := c.JoinChannel(context.Background(), "ch1")
	if err != nil {
		t.Fatal(err)
	}
	defer view.Leave(context.Background())
	conn := b.waitConn()

	push := func(body string) {
		t.Helper()
		if err := conn.WriteJSON(transport.Frame{
			Destination: "/topic/calls.ch1",
			Body:        json.RawMessage(body),
		}); err != nil {
			t.Fatal(err)
		}
	}

	push(`{"id": "call-9", "channelId": "ch1", "status": "INITIATED", "type": "VOICE"}`)
	waitFor(t, func() bool { _, ok := view.ActiveCall(); return ok })
	if got, _ := view.ActiveCall(); got.ID != "call-9" {
		t.Fatalf("active call: %+v", got)
	}

	push(`{"id": "call-9", "channelId": "ch1", "status": "ENDED", "type": "VOICE"}`)
	waitFor(t, func() bool { _, ok := view.ActiveCall(); return !ok })
}

func TestSendTextPublishes(t *testing.T) {
	b := newTestBackend(t)
	c := newTestClient(t, b)

	view, err := c.JoinChannel(context.Background(), "ch1")
	if err != nil {
		t.Fatal(err)
	}
	defer view.Leave(context.Background())
	b.waitConn()
	waitFor(t, view.Connected)

	if err := view.SendText("  ", ""); err == nil {
		t.Fatal("whitespace-only text must be refused")
	}
	if err := view.SendText("hello there", ""); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(b.framesFor("/app/send-message")) == 1 })
	var payload map[string]any
	json.Unmarshal(b.framesFor("/app/send-message")[0].Body, &payload)
	if payload["text"] != "hello there" || payload["channelId"] != "ch1" {
		t.Fatalf("published payload: %v", payload)
	}
}

func TestLeaveIsIdempotentAndStopsDelivery(t *testing.T) {
	b := newTestBackend(t)
	c := newTestClient(t, b)

	view, err := c.JoinChannel(context.Background(), "ch1")
	if err != nil {
		t.Fatal(err)
	}
	conn := b.waitConn()

	view.Leave(context.Background())
	view.Leave(context.Background()) // second leave is a no-op

	before := view.Store().Len()
	conn.WriteJSON(transport.Frame{
		Destination: "/topic/messages.ch1",
		Body:        json.RawMessage(`{"id": "late", "text": "x", "type": "TEXT"}`),
	})
	time.Sleep(100 * time.Millisecond)
	if view.Store().Len() != before {
		t.Fatal("frame applied after leave")
	}
	if view.Connected() {
		t.Fatal("socket still up after leave")
	}
}

func TestKindForMime(t *testing.T) {
	cases := map[string]string{
		"image/png":       "IMAGE",
		"video/mp4":       "VIDEO",
		"audio/ogg":       "AUDIO",
		"application/pdf": "FILE",
	}
	for mime, want := range cases {
		if got := string(kindForMime(mime)); got != want {
			t.Errorf("kindForMime(%q) = %q, want %q", mime, got, want)
		}
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
