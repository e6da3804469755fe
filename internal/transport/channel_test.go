package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxlate/voxlate/pkg/logger"
)

var upgrader = websocket.Upgrader{}

// stateRecorder collects state transitions for assertions.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(state State) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *stateRecorder) waitFor(t *testing.T, kind StateKind, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, s := range r.states {
			if s.Kind == kind {
				r.mu.Unlock()
				return
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state %v never reached; saw %v", kind, r.kinds())
}

func (r *stateRecorder) kinds() []StateKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]StateKind, len(r.states))
	for i, s := range r.states {
		kinds[i] = s.Kind
	}
	return kinds
}

// echoServer upgrades and echoes every text message back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConnectSendReceive(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	received := make(chan []byte, 1)
	rec := &stateRecorder{}
	channel := NewChannel(Config{}, Callbacks{
		OnMessage: func(data []byte) { received <- data },
		OnState:   rec.record,
	}, logger.NewNop())

	if err := channel.Connect(context.Background(), wsURL(server), nil); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer channel.Disconnect()

	if err := channel.Send([]byte(`{"type":"session.update"}`)); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg) != `{"type":"session.update"}` {
			t.Errorf("received %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("echo never arrived")
	}

	if channel.CurrentState().Kind != StateConnected {
		t.Errorf("state = %v, want connected", channel.CurrentState().Kind)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	channel := NewChannel(Config{}, Callbacks{}, logger.NewNop())
	if err := channel.Send([]byte("x")); err == nil {
		t.Fatal("expected error sending on a disconnected channel")
	}
}

func TestReconnectDelayProgression(t *testing.T) {
	channel := NewChannel(Config{BackoffBase: time.Second}, Callbacks{}, logger.NewNop())

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	for i, expected := range want {
		if got := channel.reconnectDelay(i + 1); got != expected {
			t.Errorf("delay(%d) = %v, want %v", i+1, got, expected)
		}
	}
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	var mu sync.Mutex
	accepts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		accepts++
		first := accepts == 1
		mu.Unlock()
		if first {
			// Drop the first connection immediately to force the
			// reconnect path.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	rec := &stateRecorder{}
	channel := NewChannel(Config{BackoffBase: 5 * time.Millisecond}, Callbacks{
		OnState: rec.record,
	}, logger.NewNop())

	if err := channel.Connect(context.Background(), wsURL(server), nil); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer channel.Disconnect()

	// First connection drops, then the channel reconnects by itself.
	deadline := time.Now().Add(5 * time.Second)
	reconnected := false
	for time.Now().Before(deadline) {
		mu.Lock()
		n := accepts
		mu.Unlock()
		if n >= 2 && channel.CurrentState().Kind == StateConnected {
			reconnected = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !reconnected {
		t.Fatalf("never reconnected; accepts=%d state=%v", accepts, channel.CurrentState().Kind)
	}

	// The successful open resets the retry budget: the next failure
	// starts the backoff progression over from the first attempt.
	channel.mu.Lock()
	attempts := channel.attempts
	channel.mu.Unlock()
	if attempts != 0 {
		t.Errorf("attempts = %d after successful reconnect, want 0", attempts)
	}
}

func TestIntentionalDisconnectSuppressesReconnect(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	rec := &stateRecorder{}
	channel := NewChannel(Config{BackoffBase: 5 * time.Millisecond}, Callbacks{
		OnState: rec.record,
	}, logger.NewNop())

	if err := channel.Connect(context.Background(), wsURL(server), nil); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := channel.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}

	// Give any stray reconnect a window to fire, then check nothing
	// moved the state off disconnected.
	time.Sleep(100 * time.Millisecond)
	if got := channel.CurrentState().Kind; got != StateDisconnected {
		t.Errorf("state = %v after intentional close, want disconnected", got)
	}

	rec.mu.Lock()
	last := rec.states[len(rec.states)-1]
	rec.mu.Unlock()
	if last.Kind != StateDisconnected {
		t.Errorf("last transition = %v, want disconnected", last.Kind)
	}
}

func TestFailsAfterMaxAttempts(t *testing.T) {
	rec := &stateRecorder{}
	channel := NewChannel(Config{
		BackoffBase:          time.Millisecond,
		MaxReconnectAttempts: 2,
		HandshakeTimeout:     100 * time.Millisecond,
	}, Callbacks{
		OnState: rec.record,
	}, logger.NewNop())

	// Nothing listens on this port; every dial fails fast.
	err := channel.Connect(context.Background(), "ws://127.0.0.1:1", nil)
	if err == nil {
		t.Fatal("expected initial connect error")
	}

	rec.waitFor(t, StateFailed, 5*time.Second)
}
