// Package problem enumerates the short "problem" tokens carried in close
// control commands, per the taxonomy every channel and session close uses
// to tell the browser why it ended.
package problem

// Problem is a stable close-reason token. An empty Problem denotes a clean close.
type Problem string

const (
	// ProtocolError marks a malformed frame, unknown channel reference, or type confusion.
	ProtocolError Problem = "protocol-error"
	// InternalError marks a local resource failure (bind/connect/spawn/TLS).
	InternalError Problem = "internal-error"
	// Terminated marks a channel or session torn down by an administrative action.
	Terminated Problem = "terminated"
	// Timeout marks an idle session or a stalled handshake.
	Timeout Problem = "timeout"
	// NoSession marks a reference to a session that does not exist.
	NoSession Problem = "no-session"
	// NotAuthenticated marks a channel opened before the browser authenticated.
	NotAuthenticated Problem = "not-authenticated"
	// UnknownHostKey marks an SSH host key, or TLS server certificate, that failed trust verification.
	UnknownHostKey Problem = "unknown-hostkey"
	// AuthenticationFailed marks bad credentials presented to a bridge or remote host.
	AuthenticationFailed Problem = "authentication-failed"
	// PermissionDenied marks an operation rejected for lack of privilege.
	PermissionDenied Problem = "permission-denied"
	// NotFound marks a missing local resource (socket path, binary, certificate).
	NotFound Problem = "not-found"
)

// String implements fmt.Stringer.
func (p Problem) String() string { return string(p) }

// Clean reports whether p denotes the absence of a problem (a successful close).
func (p Problem) Clean() bool { return p == "" }
