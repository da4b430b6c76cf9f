// Package secret holds short-lived sensitive values (passwords, PSKs) that
// must never be logged and must be overwritten once no longer needed.
package secret

// String is a password-like value that redacts itself in logs and can be
// explicitly zeroed once every holder has dropped it.
//
// It is not safe for concurrent Close/Bytes calls without external
// synchronization; callers that share a *String across goroutines (as
// session credentials do across the channels of one session) must guard it
// with their own lock.
type String struct {
	b []byte
}

// New copies v into a new String. The caller's copy of v is not touched.
func New(v string) *String {
	if v == "" {
		return nil
	}
	b := make([]byte, len(v))
	copy(b, v)
	return &String{b: b}
}

// Bytes returns the underlying bytes. The returned slice must not be retained
// past a subsequent Close.
func (s *String) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// String redacts the value; it exists so a *String accidentally passed to
// log.Printf or fmt.Sprintf never leaks the secret. Use Bytes (e.g. for
// computing an HMAC) or Reveal for the rare call site that genuinely needs
// the plaintext.
func (s *String) String() string { return "<redacted>" }

// Reveal returns the plaintext value. Prefer Bytes for hashing/HMAC use so a
// second copy isn't made.
func (s *String) Reveal() string {
	if s == nil {
		return ""
	}
	return string(s.b)
}

// GoString redacts the value for %#v and debugger inspection.
func (s *String) GoString() string { return "<redacted>" }

// Close overwrites the backing bytes with zeros. Safe to call on a nil
// receiver or more than once.
func (s *String) Close() {
	if s == nil {
		return
	}
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = nil
}
