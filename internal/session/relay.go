package session

import (
	"context"
	"encoding/json"
	"net"
	"strconv"

	"github.com/cockpit-project/cockpit-ws-go/internal/authorize"
	"github.com/cockpit-project/cockpit-ws-go/internal/frame"
	"github.com/cockpit-project/cockpit-ws-go/internal/observability"
	"github.com/cockpit-project/cockpit-ws-go/internal/problem"
	"github.com/cockpit-project/cockpit-ws-go/internal/transport"
)

// openRelayed handles any payload kind this process does not implement
// itself: it gets a (possibly freshly-dialed) session for the open's target
// and forwards the whole "open" control onto that session's transport
// unchanged, so the bridge on the other end sees exactly what the browser
// asked for.
func (m *Manager) openRelayed(id frame.ChannelID, ctrl frame.Control) error {
	key, creds := m.relayCredentials(ctrl.Extra)

	ls, err := m.sessionFor(key, creds)
	if err != nil {
		return err
	}

	ls.mu.Lock()
	ls.channels[id] = struct{}{}
	ls.idleTimer.Stop()
	ls.mu.Unlock()

	m.mu.Lock()
	m.owners[id] = ls
	m.mu.Unlock()

	b := encodeControl(ctrl)
	if err := ls.transport.Send(context.Background(), 0, b); err != nil {
		m.mu.Lock()
		delete(m.owners, id)
		m.mu.Unlock()
		m.detach(ls, id)
		return err
	}
	return nil
}

// sessionFor returns the live session for key, dialing (spawning locally, or
// connecting over SSH) one if none is running yet.
func (m *Manager) sessionFor(key sessionKey, creds Credentials) (*liveSession, error) {
	m.mu.Lock()
	if ls, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return ls, nil
	}
	m.mu.Unlock()

	t, err := m.dial(key, creds)
	if err != nil {
		return nil, err
	}

	ls := &liveSession{
		key:       key,
		transport: t,
		creds:     creds,
		channels:  make(map[frame.ChannelID]struct{}),
		stopCh:    make(chan struct{}),
	}
	ls.idleTimer = m.cfg.Clock.NewTimer(m.cfg.IdleTimeout)
	ls.idleTimer.Stop() // a channel is about to attach; arm only once the count drops back to zero

	m.mu.Lock()
	m.sessions[key] = ls
	count := len(m.sessions)
	m.mu.Unlock()
	m.cfg.Observer.SessionCount(count)

	go m.pumpTransport(ls)
	go m.idleLoop(ls)
	return ls, nil
}

// dial picks the local-pipe or SSH transport depending on whether key.Host
// names this machine, matching the "host == localhost ⇒ spawn local bridge"
// rule.
func (m *Manager) dial(key sessionKey, creds Credentials) (transport.Transport, error) {
	if m.cfg.dialLocal != nil && (key.Host == "" || key.Host == "localhost") {
		t, err := m.cfg.dialLocal(creds)
		m.cfg.Observer.TransportDialed(observability.TransportLocal, err == nil)
		return t, err
	}
	if m.cfg.dialSSH != nil && key.Host != "localhost" && key.Host != "" {
		t, err := m.cfg.dialSSH(key, creds, m.cfg)
		m.cfg.Observer.TransportDialed(observability.TransportSSH, err == nil)
		return t, err
	}

	if key.Host == "" || key.Host == "localhost" {
		t, err := transport.NewLocalPipeTransport(transport.LocalConfig{BridgeProgram: m.cfg.LocalBridgeProgram})
		m.cfg.Observer.TransportDialed(observability.TransportLocal, err == nil)
		return t, err
	}

	host, port := key.Host, m.cfg.SSHPort
	if h, p, err := net.SplitHostPort(key.Host); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			host, port = h, n
		}
	}
	t, err := transport.Dial(transport.SSHConfig{
		Host:         host,
		Port:         port,
		User:         creds.User,
		Password:     creds.Password,
		KnownHosts:   m.cfg.KnownHosts,
		AgentProgram: m.cfg.AgentProgram,
	})
	m.cfg.Observer.TransportDialed(observability.TransportSSH, err == nil)
	if err != nil {
		if unknown, ok := err.(*transport.ErrUnknownHostKey); ok {
			return nil, &unknownHostKeyOpenError{err: unknown}
		}
		return nil, err
	}
	return t, nil
}

type unknownHostKeyOpenError struct{ err error }

func (e *unknownHostKeyOpenError) Error() string { return e.err.Error() }
func (e *unknownHostKeyOpenError) Unwrap() error { return e.err }

// detach drops id from ls's channel set and, if that empties it, arms the
// idle timer. A channel attaching before the timer fires calls this same
// session's idleTimer.Stop() from openRelayed, which is the cancel-on-attach
// half of the same rule.
func (m *Manager) detach(ls *liveSession, id frame.ChannelID) {
	ls.mu.Lock()
	delete(ls.channels, id)
	empty := len(ls.channels) == 0
	closed := ls.closed
	timer := ls.idleTimer
	ls.mu.Unlock()

	if empty && !closed {
		timer.Reset(m.cfg.IdleTimeout)
	}
}

func (m *Manager) idleLoop(ls *liveSession) {
	for {
		select {
		case <-ls.idleTimer.C():
			ls.mu.Lock()
			empty := len(ls.channels) == 0
			ls.mu.Unlock()
			if !empty {
				continue
			}
			m.teardownSession(ls, problem.Timeout, nil)
			return
		case <-ls.stopCh:
			return
		}
	}
}

func (m *Manager) pumpTransport(ls *liveSession) {
	t := ls.transport
	for {
		select {
		case ev, ok := <-t.Recv():
			if !ok {
				return
			}
			m.handleBridgeData(ls, ev.Channel, ev.Payload)
		case ev, ok := <-t.Control():
			if !ok {
				return
			}
			m.handleBridgeControl(ls, ev.Control)
		case ev, ok := <-t.Closed():
			if !ok {
				return
			}
			m.teardownSession(ls, ev.Problem, ev.Extra)
			return
		case <-ls.stopCh:
			return
		}
	}
}

// handleBridgeData relays one data frame from ls's transport to the
// browser, after checking that the channel id is actually one this session
// owns. A bridge trying to emit on a channel belonging to a different
// session's space is a protocol violation, not a forwarding target.
func (m *Manager) handleBridgeData(ls *liveSession, id frame.ChannelID, payload []byte) {
	m.mu.Lock()
	owner, ok := m.owners[id]
	m.mu.Unlock()
	if !ok || owner != ls {
		m.teardownSession(ls, problem.ProtocolError, nil)
		return
	}
	m.browser.SendData(id, payload)
}

func (m *Manager) handleBridgeControl(ls *liveSession, ctrl frame.Control) {
	switch {
	case ctrl.Command == "authorize":
		req, err := authorize.Parse(ctrl, ls.creds.User)
		if err != nil {
			m.cfg.Observer.AuthorizeAttempt(false)
			m.teardownSession(ls, problem.ProtocolError, nil)
			return
		}
		resp := authorize.Respond(req, ls.creds.Password)
		m.cfg.Observer.AuthorizeAttempt(true)
		_ = ls.transport.Send(context.Background(), 0, encodeControl(resp))

	case ctrl.Command == "ping":
		_ = ls.transport.Send(context.Background(), 0, encodeControl(frame.Control{Command: "pong"}))

	case ctrl.Channel != nil:
		id := *ctrl.Channel
		m.mu.Lock()
		owner, ok := m.owners[id]
		m.mu.Unlock()
		if !ok || owner != ls {
			m.teardownSession(ls, problem.ProtocolError, nil)
			return
		}
		if ctrl.Command == "close" {
			m.untrack(id)
		}
		m.browser.SendControl(ctrl)

	default:
		// Session-scoped commands with no channel and no dedicated handling
		// above are dropped rather than forwarded blind to the browser.
	}
}

// teardownSession closes ls's transport (if it hasn't already gone away on
// its own) and reports prob to the browser for every channel still attached,
// carrying extra (host-key/fingerprint diagnostics) through unchanged.
func (m *Manager) teardownSession(ls *liveSession, prob problem.Problem, extra map[string]any) {
	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		return
	}
	ls.closed = true
	ids := make([]frame.ChannelID, 0, len(ls.channels))
	for id := range ls.channels {
		ids = append(ids, id)
	}
	ls.mu.Unlock()

	close(ls.stopCh)

	m.mu.Lock()
	if m.sessions[ls.key] == ls {
		delete(m.sessions, ls.key)
	}
	for _, id := range ids {
		delete(m.owners, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()
	m.cfg.Observer.SessionCount(count)

	ls.transport.Close(prob)

	for _, id := range ids {
		cid := id
		ctrl := frame.Control{Command: "close", Channel: &cid, Extra: extra}
		if !prob.Clean() {
			ctrl.Problem = string(prob)
		}
		m.browser.SendControl(ctrl)
	}
}

func encodeControl(ctrl frame.Control) []byte {
	b, err := json.Marshal(ctrl)
	if err != nil {
		return []byte(`{"command":"` + ctrl.Command + `"}`)
	}
	return b
}
