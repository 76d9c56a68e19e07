package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	sendBufSize = 256
)

// Options configures a Session. Zero-value callbacks are allowed.
type Options struct {
	URL   string // ws:// or wss:// endpoint
	Token string // bearer token presented at connect time

	ReconnectDelay time.Duration // fixed delay between reconnect attempts
	Heartbeat      time.Duration // ping interval; read deadline is 2x this

	// OnError receives transport-level errors. Publish and Subscribe never
	// fail into the caller's control flow; everything lands here.
	OnError func(error)

	// OnConnected is invoked with the new state on every transition.
	OnConnected func(bool)
}

// Handler receives one inbound frame for a subscribed topic. Handlers for
// the same topic run sequentially in network arrival order.
type Handler func(Frame)

type subscription struct {
	id      uint64
	pattern string
	fn      Handler
}

// Session is one logical connection per mounted collaboration view. It is
// the only writer of connection-level state. Construct with New, start with
// Connect, and always Close on view unmount.
type Session struct {
	opts Options

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	subs      []subscription
	nextSubID uint64
	closed    bool

	send chan Frame
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates an unconnected Session.
func New(opts Options) *Session {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 4 * time.Second
	}
	return &Session{
		opts: opts,
		send: make(chan Frame, sendBufSize),
		done: make(chan struct{}),
	}
}

// Connect starts the connection manager. It returns immediately; connection
// state is observable via Connected and Options.OnConnected. ctx cancels the
// manager the same way Close does.
func (s *Session) Connect(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Connected reports the current link state.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Subscribe registers a handler for a topic pattern and returns a cancel
// function. Multiple subscriptions may coexist; delivery order per topic is
// network arrival order. Subscribe never fails; if the link is down the
// subscription is announced on the next (re)connect.
func (s *Session) Subscribe(pattern string, fn Handler) (cancel func()) {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, subscription{id: id, pattern: pattern, fn: fn})
	connected := s.connected
	s.mu.Unlock()

	if connected {
		s.Publish(destSubscribe, subscribeBody{Topic: pattern}, nil)
	}

	return func() {
		s.mu.Lock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		stillWanted := false
		for _, sub := range s.subs {
			if sub.pattern == pattern {
				stillWanted = true
				break
			}
		}
		connected := s.connected
		s.mu.Unlock()
		if connected && !stillWanted {
			s.Publish(destUnsubscribe, subscribeBody{Topic: pattern}, nil)
		}
	}
}

// Publish sends one frame to destination. Fire-and-forget: no ack is
// tracked, and failures (marshal error, buffer full, session closed) are
// reported through OnError rather than returned.
func (s *Session) Publish(destination string, payload any, headers map[string]string) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.reportError(fmt.Errorf("transport: marshal for %s: %w", destination, err))
		return
	}
	f := Frame{Destination: destination, Headers: headers, Body: body}
	// Checked on its own: with done closed and buffer room both ready, a
	// combined select would pick at random and enqueue frames nobody will
	// ever write.
	select {
	case <-s.done:
		s.reportError(fmt.Errorf("transport: publish to %s after close", destination))
		return
	default:
	}
	select {
	case s.send <- f:
	default:
		s.reportError(fmt.Errorf("transport: send buffer full, dropping frame for %s", destination))
	}
}

// Close tears the session down. After Close returns no handler is invoked
// again. Safe to call multiple times.
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn := s.conn
		s.mu.Unlock()
		close(s.done)
		if conn != nil {
			conn.Close()
		}
	})
	s.wg.Wait()
}

// run is the connection manager: dial, pump until failure, wait the fixed
// reconnect delay, repeat. Exits when the session is closed or ctx is done.
func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn, err := s.dial(ctx)
		if err != nil {
			s.reportError(fmt.Errorf("transport: connect: %w", err))
			if !s.sleep(ctx) {
				return
			}
			continue
		}

		s.setConn(conn, true)
		s.announceSubscriptions()
		s.pump(ctx, conn)
		s.setConn(nil, false)

		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}
		log.Printf("TRANSPORT: link lost, reconnecting in %s", s.opts.ReconnectDelay)
		if !s.sleep(ctx) {
			return
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	hdr := http.Header{}
	if s.opts.Token != "" {
		hdr.Set("Authorization", "Bearer "+s.opts.Token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.opts.URL, hdr)
	return conn, err
}

// pump runs the read loop in the current goroutine and the write/heartbeat
// loop in a second one. Returns when either side fails.
func (s *Session) pump(ctx context.Context, conn *websocket.Conn) {
	readDeadline := 2 * s.opts.Heartbeat
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	writerDone := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(writerDone)
		s.writeLoop(ctx, conn)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.reportError(fmt.Errorf("transport: read: %w", err))
			}
			conn.Close()
			<-writerDone
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.reportError(fmt.Errorf("transport: bad frame: %w", err))
			continue
		}
		s.dispatch(f)
	}
}

// writeLoop drains the send channel and emits pings every heartbeat interval.
func (s *Session) writeLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(time.Second))
			conn.Close()
			return
		case <-ctx.Done():
			conn.Close()
			return
		case f := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				s.reportError(fmt.Errorf("transport: write %s: %w", f.Destination, err))
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// dispatch invokes matching handlers synchronously, so two frames on the
// same topic are never interleaved with each other's processing.
func (s *Session) dispatch(f Frame) {
	s.mu.Lock()
	matched := make([]Handler, 0, 2)
	for _, sub := range s.subs {
		if topicMatches(sub.pattern, f.Destination) {
			matched = append(matched, sub.fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range matched {
		fn(f)
	}
}

// announceSubscriptions replays all registered topic patterns to the broker.
// Called once per successful (re)connect, before any frames are dispatched.
func (s *Session) announceSubscriptions() {
	s.mu.Lock()
	patterns := make(map[string]struct{}, len(s.subs))
	for _, sub := range s.subs {
		patterns[sub.pattern] = struct{}{}
	}
	s.mu.Unlock()
	for p := range patterns {
		s.Publish(destSubscribe, subscribeBody{Topic: p}, nil)
	}
}

func (s *Session) setConn(conn *websocket.Conn, connected bool) {
	s.mu.Lock()
	s.conn = conn
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()
	if changed && s.opts.OnConnected != nil {
		s.opts.OnConnected(connected)
	}
}

// sleep waits the reconnect delay. Returns false if the session closed while
// waiting.
func (s *Session) sleep(ctx context.Context) bool {
	select {
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(s.opts.ReconnectDelay):
		return true
	}
}

func (s *Session) reportError(err error) {
	if s.opts.OnError != nil {
		s.opts.OnError(err)
		return
	}
	log.Printf("TRANSPORT: %v", err)
}
