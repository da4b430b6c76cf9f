// Package observability defines the metrics surface the gateway reports
// through: channel and session lifecycle counts, close reasons, and
// transport dial outcomes. A GatewayObserver is threaded through
// internal/session and internal/transport instead of reaching for global
// Prometheus collectors directly, the way flowersec-go/observability
// decouples its tunnel server from any particular metrics backend.
package observability

import (
	"sync"
	"sync/atomic"

	"github.com/cockpit-project/cockpit-ws-go/internal/problem"
)

// TransportKind identifies which C3 transport variant a dial outcome is for.
type TransportKind string

const (
	TransportLocal TransportKind = "local"
	TransportSSH   TransportKind = "ssh"
)

// ChannelKind identifies which channel implementation opened or closed.
type ChannelKind string

const (
	ChannelStream ChannelKind = "stream"
	ChannelHTTP   ChannelKind = "http"
)

// GatewayObserver receives gateway-wide metric events. Every method must be
// safe to call from arbitrary goroutines (session and channel lifecycle runs
// concurrently across many connections).
type GatewayObserver interface {
	// SessionCount reports the number of live bridge/SSH sessions.
	SessionCount(n int)
	// ChannelOpened reports a channel of kind reaching the ready state.
	ChannelOpened(kind ChannelKind)
	// ChannelClosed reports a channel closing with the given problem (empty
	// for a clean close).
	ChannelClosed(kind ChannelKind, prob problem.Problem)
	// TransportDialed reports the outcome of establishing a C3 transport.
	TransportDialed(kind TransportKind, ok bool)
	// AuthorizeAttempt reports an authorize round-trip outcome.
	AuthorizeAttempt(ok bool)
}

type noopGatewayObserver struct{}

func (noopGatewayObserver) SessionCount(int)                             {}
func (noopGatewayObserver) ChannelOpened(ChannelKind)                    {}
func (noopGatewayObserver) ChannelClosed(ChannelKind, problem.Problem)    {}
func (noopGatewayObserver) TransportDialed(TransportKind, bool)          {}
func (noopGatewayObserver) AuthorizeAttempt(bool)                        {}

// NoopGatewayObserver is a zero-cost observer used when metrics are disabled.
var NoopGatewayObserver GatewayObserver = noopGatewayObserver{}

// AtomicGatewayObserver swaps its delegate at runtime, so a running gateway
// can toggle metrics export on and off (SIGUSR1/SIGUSR2 in cmd/cockpit-ws)
// without restarting.
type AtomicGatewayObserver struct {
	once sync.Once
	v    atomic.Value
}

type gatewayObserverHolder struct {
	obs GatewayObserver
}

// NewAtomicGatewayObserver returns an initialized atomic observer, defaulting
// to the no-op delegate.
func NewAtomicGatewayObserver() *AtomicGatewayObserver {
	a := &AtomicGatewayObserver{}
	a.init()
	return a
}

func (a *AtomicGatewayObserver) init() {
	a.once.Do(func() { a.v.Store(&gatewayObserverHolder{obs: NoopGatewayObserver}) })
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicGatewayObserver) Set(obs GatewayObserver) {
	if obs == nil {
		obs = NoopGatewayObserver
	}
	a.init()
	a.v.Store(&gatewayObserverHolder{obs: obs})
}

func (a *AtomicGatewayObserver) load() GatewayObserver {
	a.init()
	return a.v.Load().(*gatewayObserverHolder).obs
}

func (a *AtomicGatewayObserver) SessionCount(n int) { a.load().SessionCount(n) }
func (a *AtomicGatewayObserver) ChannelOpened(kind ChannelKind) {
	a.load().ChannelOpened(kind)
}
func (a *AtomicGatewayObserver) ChannelClosed(kind ChannelKind, prob problem.Problem) {
	a.load().ChannelClosed(kind, prob)
}
func (a *AtomicGatewayObserver) TransportDialed(kind TransportKind, ok bool) {
	a.load().TransportDialed(kind, ok)
}
func (a *AtomicGatewayObserver) AuthorizeAttempt(ok bool) { a.load().AuthorizeAttempt(ok) }
