// Package transport frames a byte-oriented connection to a bridge process —
// spawned locally or reached over SSH — with internal/frame's channel-id
// codec, and exposes it as the single multiplexed duplex every session in
// internal/session holds onto.
package transport

import (
	"context"

	"github.com/cockpit-project/cockpit-ws-go/internal/frame"
	"github.com/cockpit-project/cockpit-ws-go/internal/problem"
)

// RecvEvent is a single demultiplexed frame read off the transport.
type RecvEvent struct {
	Channel frame.ChannelID
	Payload []byte
}

// ControlEvent is a demultiplexed frame on channel 0.
type ControlEvent struct {
	Control frame.Control
}

// ClosedEvent reports why the transport ended. Extra carries additional
// diagnostic fields (e.g. "host-key"/"host-fingerprint" for an SSH host key
// mismatch) that a caller should fold into the session's fan-out close.
type ClosedEvent struct {
	Problem problem.Problem
	Extra   map[string]any
}

// Transport is a single framed duplex connection to a bridge. Send is safe
// for concurrent use; callers are expected to range over Recv/Control until
// Closed fires exactly once.
type Transport interface {
	Send(ctx context.Context, channel frame.ChannelID, payload []byte) error
	Close(problem problem.Problem)
	Recv() <-chan RecvEvent
	Control() <-chan ControlEvent
	Closed() <-chan ClosedEvent
}

// ErrUnknownHostKey is returned by Dial when the known-hosts callback
// rejected the presented key and so aborted the SSH handshake. It carries
// the key and fingerprint the callback recorded, so the caller can translate
// it into a problem.UnknownHostKey close instead of a bare dial failure.
type ErrUnknownHostKey struct {
	Key         string // base64-encoded raw host public key
	Fingerprint string // SHA256 fingerprint, "SHA256:<base64>" form
}

func (e *ErrUnknownHostKey) Error() string {
	return "unknown host key: " + e.Fingerprint
}
