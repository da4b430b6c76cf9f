package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockpit-project/cockpit-ws-go/internal/clock"
	"github.com/cockpit-project/cockpit-ws-go/internal/frame"
	"github.com/cockpit-project/cockpit-ws-go/internal/problem"
	"github.com/cockpit-project/cockpit-ws-go/internal/transport"
)

type fakeSender struct {
	mu       sync.Mutex
	data     []frame.ChannelID
	controls []frame.Control
}

func (s *fakeSender) SendData(ch frame.ChannelID, payload []byte) {
	s.mu.Lock()
	s.data = append(s.data, ch)
	s.mu.Unlock()
}

func (s *fakeSender) SendControl(ctrl frame.Control) {
	s.mu.Lock()
	s.controls = append(s.controls, ctrl)
	s.mu.Unlock()
}

func (s *fakeSender) closeFor(ch frame.ChannelID) (frame.Control, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.controls {
		if c.Command == "close" && c.Channel != nil && *c.Channel == ch {
			return c, true
		}
	}
	return frame.Control{}, false
}

type fakeTransport struct {
	mu        sync.Mutex
	sent      []frame.Control
	recv      chan transport.RecvEvent
	control   chan transport.ControlEvent
	closedC   chan transport.ClosedEvent
	closeOnce sync.Once
	closeProb problem.Problem
	didClose  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		recv:    make(chan transport.RecvEvent, 16),
		control: make(chan transport.ControlEvent, 16),
		closedC: make(chan transport.ClosedEvent, 1),
	}
}

func (f *fakeTransport) Send(_ context.Context, channel frame.ChannelID, payload []byte) error {
	if channel == 0 {
		ctrl, err := frame.ParseControl(payload)
		if err == nil {
			f.mu.Lock()
			f.sent = append(f.sent, ctrl)
			f.mu.Unlock()
		}
	}
	return nil
}

func (f *fakeTransport) Close(prob problem.Problem) {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closeProb = prob
		f.didClose = true
		f.mu.Unlock()
		f.closedC <- transport.ClosedEvent{Problem: prob}
		close(f.closedC)
	})
}

func (f *fakeTransport) Recv() <-chan transport.RecvEvent       { return f.recv }
func (f *fakeTransport) Control() <-chan transport.ControlEvent { return f.control }
func (f *fakeTransport) Closed() <-chan transport.ClosedEvent   { return f.closedC }

func (f *fakeTransport) closedWithin(t *testing.T, d time.Duration) problem.Problem {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		done := f.didClose
		prob := f.closeProb
		f.mu.Unlock()
		if done {
			return prob
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("transport never closed")
	return ""
}

func newTestManager(clk clock.Clock, dial func(Credentials) (transport.Transport, error)) (*Manager, *fakeSender) {
	cfg := DefaultConfig()
	cfg.Clock = clk
	cfg.dialLocal = dial
	sender := &fakeSender{}
	return NewManager(cfg, sender, Credentials{User: "alice"}), sender
}

// TestIdleSessionReapedAfterTimeout exercises the 30-second idle-reaping
// rule: once a relayed session's last channel closes, its transport is
// allowed to idle for cfg.IdleTimeout before being torn down, using a
// virtual clock so the test never sleeps in wall-clock time.
func TestIdleSessionReapedAfterTimeout(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	ft := newFakeTransport()
	mgr, _ := newTestManager(clk, func(Credentials) (transport.Transport, error) { return ft, nil })

	id := frame.ChannelID(5)
	mgr.HandleControl(frame.Control{
		Command: "open",
		Channel: &id,
		Extra:   map[string]any{"payload": "dbus-json3", "host": "localhost"},
	})

	// The bridge acknowledges the channel closing; this is what actually
	// detaches it from the session and arms the idle timer.
	ft.control <- transport.ControlEvent{Control: frame.Control{Command: "close", Channel: &id}}

	time.Sleep(20 * time.Millisecond) // let the pump goroutine process the control event

	mgr.mu.Lock()
	_, stillTracked := mgr.owners[id]
	mgr.mu.Unlock()
	if stillTracked {
		t.Fatal("channel still tracked after bridge close echo")
	}

	// Advancing short of the timeout must not reap the session.
	clk.Advance(29 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if ft.didClose {
		t.Fatal("session reaped before its idle timeout elapsed")
	}

	clk.Advance(2 * time.Second)
	prob := ft.closedWithin(t, time.Second)
	if prob != problem.Timeout {
		t.Fatalf("close problem = %q, want %q", prob, problem.Timeout)
	}

	mgr.mu.Lock()
	_, sessionStillTracked := mgr.sessions[sessionKey{Host: "localhost", User: "alice"}]
	mgr.mu.Unlock()
	if sessionStillTracked {
		t.Fatal("session map still holds the reaped session")
	}
}

// TestIdleTimerCanceledByNewChannel exercises the cancel-on-attach half of
// the idle rule: a channel opened against an already-idling session must
// stop the pending reap.
func TestIdleTimerCanceledByNewChannel(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	ft := newFakeTransport()
	mgr, _ := newTestManager(clk, func(Credentials) (transport.Transport, error) { return ft, nil })

	first := frame.ChannelID(1)
	mgr.HandleControl(frame.Control{Command: "open", Channel: &first, Extra: map[string]any{"payload": "dbus-json3"}})
	ft.control <- transport.ControlEvent{Control: frame.Control{Command: "close", Channel: &first}}
	time.Sleep(20 * time.Millisecond)

	clk.Advance(29 * time.Second)
	time.Sleep(10 * time.Millisecond)

	second := frame.ChannelID(2)
	mgr.HandleControl(frame.Control{Command: "open", Channel: &second, Extra: map[string]any{"payload": "dbus-json3"}})

	clk.Advance(5 * time.Second) // would have fired the original 30s deadline
	time.Sleep(20 * time.Millisecond)
	if ft.didClose {
		t.Fatal("session reaped even though a channel attached before the timer fired")
	}
}

// TestUnknownChannelSpoofingClosesOnlyOffendingSession exercises the
// cross-session spoofing defense: a bridge emitting frames on a channel id
// that belongs to a different session's space gets its own session torn
// down with a protocol error, without disturbing the other session.
func TestUnknownChannelSpoofingClosesOnlyOffendingSession(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	ftA := newFakeTransport()
	ftB := newFakeTransport()

	dialN := 0
	mgr, sender := newTestManager(clk, func(Credentials) (transport.Transport, error) {
		dialN++
		if dialN == 1 {
			return ftA, nil
		}
		return ftB, nil
	})

	chanA := frame.ChannelID(5)
	mgr.HandleControl(frame.Control{
		Command: "open", Channel: &chanA,
		Extra: map[string]any{"payload": "dbus-json3", "host": "localhost", "user": "alice"},
	})
	chanB := frame.ChannelID(7)
	mgr.HandleControl(frame.Control{
		Command: "open", Channel: &chanB,
		Extra: map[string]any{"payload": "dbus-json3", "host": "localhost", "user": "bob"},
	})

	// ftB (bob's bridge) forges a frame on chanA, which belongs to alice's
	// session.
	ftB.recv <- transport.RecvEvent{Channel: chanA, Payload: []byte("spoofed")}

	prob := ftB.closedWithin(t, time.Second)
	if prob != problem.ProtocolError {
		t.Fatalf("offending transport closed with %q, want %q", prob, problem.ProtocolError)
	}

	closeCtrl, ok := sender.closeFor(chanB)
	if !ok || closeCtrl.Problem != string(problem.ProtocolError) {
		t.Fatalf("browser close for channel 7 = %+v, ok=%v", closeCtrl, ok)
	}

	time.Sleep(20 * time.Millisecond)
	if ftA.didClose {
		t.Fatal("unrelated session's transport was torn down by the other session's spoofing attempt")
	}
}
