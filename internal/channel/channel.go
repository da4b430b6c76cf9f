// Package channel provides the state machine every payload channel (stream,
// HTTP, and future kinds) embeds: open/close control emission and the
// opening→ready→closing→closed lifecycle shared across all of them.
package channel

import (
	"sync"

	"github.com/cockpit-project/cockpit-ws-go/internal/frame"
	"github.com/cockpit-project/cockpit-ws-go/internal/problem"
)

// State is a channel's lifecycle position.
type State int

const (
	Opening State = iota
	Ready
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Payload is what a concrete channel kind (stream, HTTP, ...) implements on
// top of Base.
type Payload interface {
	// Recv handles a data frame addressed to this channel.
	Recv(payload []byte)
	// Done handles the browser's "done" control command (half-close of the
	// inbound direction).
	Done()
	// Close tears the payload down; called at most once, always from
	// Base.Close.
	Close(p problem.Problem, extra map[string]any)
}

// Sender is the minimal surface Base needs to emit frames and control
// commands toward the browser (or bridge, depending on which side owns this
// channel). A session.Manager or transport.Transport both satisfy it.
type Sender interface {
	SendData(channel frame.ChannelID, payload []byte)
	SendControl(ctrl frame.Control)
}

// Base is the embeddable state machine every concrete channel kind shares.
type Base struct {
	ID      frame.ChannelID
	sender  Sender
	payload Payload

	mu    sync.Mutex
	state State
}

// NewBase constructs a Base in the Opening state. Callers transition to
// Ready once any channel-kind-specific setup (spawn, dial) succeeds.
func NewBase(id frame.ChannelID, sender Sender, payload Payload) *Base {
	return &Base{ID: id, sender: sender, payload: payload, state: Opening}
}

// State returns the current lifecycle position.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Ready transitions Opening -> Ready and emits the "ready" control command
// that tells the peer this channel may now receive data. It is a no-op if
// called more than once or after closing has started.
func (b *Base) Ready(extra map[string]any) {
	b.mu.Lock()
	if b.state != Opening {
		b.mu.Unlock()
		return
	}
	b.state = Ready
	b.mu.Unlock()

	ch := b.ID
	b.sender.SendControl(frame.Control{Command: "ready", Channel: &ch, Extra: extra})
}

// Recv forwards a data frame to the payload unless the channel is already
// closing or closed.
func (b *Base) Recv(payload []byte) {
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()
	if state == Closing || state == Closed {
		return
	}
	b.payload.Recv(payload)
}

// HandleDone forwards the browser's half-close unless the channel is
// already closing or closed.
func (b *Base) HandleDone() {
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()
	if state == Closing || state == Closed {
		return
	}
	b.payload.Done()
}

// Close tears the channel down exactly once: it moves to Closing, invokes
// the payload's Close so it can release its resources, then moves to Closed
// and emits the "close" control command with prob and any extra fields
// (exit-status, exit-signal, host-key, ...).
func (b *Base) Close(prob problem.Problem, extra map[string]any) {
	b.mu.Lock()
	if b.state == Closing || b.state == Closed {
		b.mu.Unlock()
		return
	}
	b.state = Closing
	b.mu.Unlock()

	b.payload.Close(prob, extra)

	b.mu.Lock()
	b.state = Closed
	b.mu.Unlock()

	ch := b.ID
	ctrl := frame.Control{Command: "close", Channel: &ch, Extra: extra}
	if !prob.Clean() {
		ctrl.Problem = string(prob)
	}
	b.sender.SendControl(ctrl)
}
