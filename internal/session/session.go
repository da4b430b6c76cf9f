// Package session implements the gateway's per-connection channel router
// (C7). Every browser WebSocket connection owns one Manager: it decides, for
// each inbound "open" control, whether the named payload kind is one this
// process implements directly (stream, http-stream1) or must be relayed to a
// bridge process reached over a C3 transport, and it keeps one transport
// alive per (host, user) pair so repeated opens to the same target share a
// session instead of spawning or dialing afresh every time.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cockpit-project/cockpit-ws-go/internal/channel"
	"github.com/cockpit-project/cockpit-ws-go/internal/clock"
	"github.com/cockpit-project/cockpit-ws-go/internal/frame"
	"github.com/cockpit-project/cockpit-ws-go/internal/httpchannel"
	"github.com/cockpit-project/cockpit-ws-go/internal/knownhosts"
	"github.com/cockpit-project/cockpit-ws-go/internal/observability"
	"github.com/cockpit-project/cockpit-ws-go/internal/problem"
	"github.com/cockpit-project/cockpit-ws-go/internal/secret"
	"github.com/cockpit-project/cockpit-ws-go/internal/streamchannel"
	"github.com/cockpit-project/cockpit-ws-go/internal/transport"
)

// Config controls how a Manager dials bridges and reaps idle sessions.
type Config struct {
	// IdleTimeout is how long a relayed session may sit with zero attached
	// channels before its transport is torn down.
	IdleTimeout time.Duration

	// LocalBridgeProgram is the argv used to spawn a bridge for host ""/"localhost".
	LocalBridgeProgram []string
	// AgentProgram is the remote command run over SSH for any other host.
	AgentProgram string
	// SSHPort is used when an open's "host" option carries no port of its own.
	SSHPort int

	KnownHosts *knownhosts.Store
	Clock      clock.Clock
	Observer   observability.GatewayObserver

	// dialLocal and dialSSH are overridden in tests to avoid spawning or
	// dialing anything real.
	dialLocal func(Credentials) (transport.Transport, error)
	dialSSH   func(sessionKey, Credentials, Config) (transport.Transport, error)
}

// DefaultConfig returns the conservative defaults used in production.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:        30 * time.Second,
		LocalBridgeProgram: transport.DefaultBridgeProgram,
		AgentProgram:       "cockpit-bridge",
		SSHPort:            22,
		Clock:              clock.Real{},
		Observer:           observability.NoopGatewayObserver,
	}
}

// Credentials identifies the caller whose session this is, for opens that
// don't override "user"/"password" of their own.
type Credentials struct {
	User     string
	Password *secret.String
}

type sessionKey struct {
	Host string
	User string
}

// ownedChannel is the subset of *channel.Base's method set a concrete
// channel kind gets for free by embedding it; stream and HTTP channels
// satisfy it without any adapter.
type ownedChannel interface {
	Recv(payload []byte)
	HandleDone()
	Close(prob problem.Problem, extra map[string]any)
}

// liveSession is one (host, user) bridge connection and the channels
// currently relayed across it.
type liveSession struct {
	key       sessionKey
	transport transport.Transport
	creds     Credentials

	mu        sync.Mutex
	channels  map[frame.ChannelID]struct{}
	idleTimer clock.Timer
	stopCh    chan struct{}
	closed    bool
}

// Manager routes browser-facing channel-0 control and channel-n data frames
// for one connection to either a locally-implemented payload channel or a
// relayed bridge session.
type Manager struct {
	cfg     Config
	browser channel.Sender
	creds   Credentials

	mu       sync.Mutex
	sessions map[sessionKey]*liveSession
	owners   map[frame.ChannelID]*liveSession
	owned    map[frame.ChannelID]ownedChannel
}

// NewManager returns a Manager that emits frames for this connection through
// browser and defaults opens with no "user"/"password" of their own to creds.
func NewManager(cfg Config, browser channel.Sender, creds Credentials) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.NoopGatewayObserver
	}
	return &Manager{
		cfg:      cfg,
		browser:  browser,
		creds:    creds,
		sessions: make(map[sessionKey]*liveSession),
		owners:   make(map[frame.ChannelID]*liveSession),
		owned:    make(map[frame.ChannelID]ownedChannel),
	}
}

// SendData implements channel.Sender, forwarding a locally-owned channel's
// data frames straight to the browser.
func (m *Manager) SendData(id frame.ChannelID, payload []byte) {
	m.browser.SendData(id, payload)
}

// SendControl implements channel.Sender. A "close" passing through here
// means a locally-owned channel finished; untrack it before forwarding so
// its id can be reused by a later open.
func (m *Manager) SendControl(ctrl frame.Control) {
	if ctrl.Command == "close" && ctrl.Channel != nil {
		m.untrack(*ctrl.Channel)
	}
	m.browser.SendControl(ctrl)
}

// HandleControl dispatches one channel-0 frame from the browser.
func (m *Manager) HandleControl(ctrl frame.Control) {
	switch ctrl.Command {
	case "open":
		m.handleOpen(ctrl)
	case "close":
		m.handleBrowserClose(ctrl)
	case "done":
		m.handleBrowserDone(ctrl)
	case "ping":
		m.browser.SendControl(frame.Control{Command: "pong"})
	default:
		// Forward-compatible: unrecognized channel-0 commands are ignored
		// rather than treated as a protocol error.
	}
}

// HandleData routes one channel-n data frame from the browser to whichever
// channel owns id. An id with no owner is a protocol violation: the browser
// either never opened it or it already closed.
func (m *Manager) HandleData(id frame.ChannelID, payload []byte) {
	m.mu.Lock()
	oc, ok := m.owned[id]
	ls, relayed := m.owners[id]
	m.mu.Unlock()
	switch {
	case ok:
		oc.Recv(payload)
	case relayed:
		_ = ls.transport.Send(context.Background(), id, payload)
	default:
		m.browser.SendControl(frame.Control{Command: "close", Channel: &id, Problem: string(problem.ProtocolError)})
	}
}

func (m *Manager) handleOpen(ctrl frame.Control) {
	if ctrl.Channel == nil {
		return
	}
	id := *ctrl.Channel

	m.mu.Lock()
	_, ownedExists := m.owned[id]
	_, relayedExists := m.owners[id]
	m.mu.Unlock()
	if ownedExists || relayedExists {
		m.browser.SendControl(frame.Control{Command: "close", Channel: &id, Problem: string(problem.ProtocolError)})
		return
	}

	payloadKind, _ := ctrl.Extra["payload"].(string)

	var err error
	switch payloadKind {
	case "stream":
		err = m.openStream(id, ctrl.Extra)
	case "http-stream1":
		err = m.openHTTP(id, ctrl.Extra)
	default:
		err = m.openRelayed(id, ctrl)
	}
	if err != nil {
		ctrl := frame.Control{Command: "close", Channel: &id, Problem: string(classifyOpenError(err))}
		var unknown *transport.ErrUnknownHostKey
		if errors.As(err, &unknown) {
			ctrl.Extra = map[string]any{"host-key": unknown.Key, "host-fingerprint": unknown.Fingerprint}
		}
		m.browser.SendControl(ctrl)
	}
}

func (m *Manager) openStream(id frame.ChannelID, extra map[string]any) error {
	opts := parseStreamOptions(extra)
	ch, err := streamchannel.Open(id, m, m.cfg.Clock, opts)
	if err != nil {
		return err
	}
	m.trackLocal(id, ch)
	m.cfg.Observer.ChannelOpened(observability.ChannelStream)
	return nil
}

func (m *Manager) openHTTP(id frame.ChannelID, extra map[string]any) error {
	opts := parseHTTPOptions(extra)
	ch, err := httpchannel.Open(id, m, opts)
	if err != nil {
		return err
	}
	m.trackLocal(id, ch)
	m.cfg.Observer.ChannelOpened(observability.ChannelHTTP)
	return nil
}

func (m *Manager) trackLocal(id frame.ChannelID, ch ownedChannel) {
	m.mu.Lock()
	m.owned[id] = ch
	m.mu.Unlock()
}

// untrack drops bookkeeping for a channel that just closed, whether it was
// locally-owned or relayed through a liveSession.
func (m *Manager) untrack(id frame.ChannelID) {
	m.mu.Lock()
	delete(m.owned, id)
	ls := m.owners[id]
	delete(m.owners, id)
	m.mu.Unlock()

	if ls != nil {
		m.detach(ls, id)
	}
}

func (m *Manager) handleBrowserClose(ctrl frame.Control) {
	if ctrl.Channel == nil {
		return
	}
	id := *ctrl.Channel
	m.mu.Lock()
	oc, ok := m.owned[id]
	ls, relayed := m.owners[id]
	m.mu.Unlock()
	switch {
	case ok:
		oc.Close(problem.Terminated, nil)
	case relayed:
		// The bridge echoes its own "close" back once it tears the channel
		// down; that echo (handleBridgeControl) is what actually untracks it.
		_ = ls.transport.Send(context.Background(), 0, encodeControl(ctrl))
	}
}

func (m *Manager) handleBrowserDone(ctrl frame.Control) {
	if ctrl.Channel == nil {
		return
	}
	id := *ctrl.Channel
	m.mu.Lock()
	oc, ok := m.owned[id]
	ls, relayed := m.owners[id]
	m.mu.Unlock()
	switch {
	case ok:
		oc.HandleDone()
	case relayed:
		_ = ls.transport.Send(context.Background(), 0, encodeControl(ctrl))
	}
}

// Close tears down every locally-owned channel and relayed session this
// connection holds, e.g. when the browser's WebSocket disconnects.
func (m *Manager) Close() {
	m.mu.Lock()
	owned := make([]ownedChannel, 0, len(m.owned))
	for _, oc := range m.owned {
		owned = append(owned, oc)
	}
	sessions := make([]*liveSession, 0, len(m.sessions))
	for _, ls := range m.sessions {
		sessions = append(sessions, ls)
	}
	m.mu.Unlock()

	for _, oc := range owned {
		oc.Close(problem.Terminated, nil)
	}
	for _, ls := range sessions {
		m.teardownSession(ls, problem.Terminated, nil)
	}
}

func classifyOpenError(err error) problem.Problem {
	if ue, ok := asUntrustedServer(err); ok && ue != nil {
		return problem.UnknownHostKey
	}
	if _, ok := err.(*unknownHostKeyOpenError); ok {
		return problem.UnknownHostKey
	}
	return problem.InternalError
}

func asUntrustedServer(err error) (*httpchannel.UntrustedServerError, bool) {
	for err != nil {
		if u, ok := err.(*httpchannel.UntrustedServerError); ok {
			return u, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}
