// Package authorize relays bridge-side "authorize" control commands: a
// bridge asks the gateway to answer a challenge (normally a crypt1
// password re-proof) using the session's cached credential.
package authorize

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/cockpit-project/cockpit-ws-go/internal/frame"
	"github.com/cockpit-project/cockpit-ws-go/internal/secret"
)

// ErrInvalidChallenge marks a malformed authorize control (missing
// challenge/cookie/type, or a user mismatch).
var ErrInvalidChallenge = errors.New("authorize: invalid challenge")

// Request is a validated bridge-side authorize challenge.
type Request struct {
	Challenge string
	Cookie    int
	Type      string
	User      string
}

// Parse validates an authorize control's fields against sessionUser.
func Parse(ctrl frame.Control, sessionUser string) (Request, error) {
	challenge, _ := ctrl.Extra["challenge"].(string)
	if strings.TrimSpace(challenge) == "" {
		return Request{}, ErrInvalidChallenge
	}
	cookieRaw, ok := ctrl.Extra["cookie"]
	if !ok {
		return Request{}, ErrInvalidChallenge
	}
	cookie, ok := asInt(cookieRaw)
	if !ok {
		return Request{}, ErrInvalidChallenge
	}
	typ, _, _ := strings.Cut(challenge, ":")
	if typ == "" {
		return Request{}, ErrInvalidChallenge
	}
	if user, ok := ctrl.Extra["user"].(string); ok && user != "" && user != sessionUser {
		return Request{}, ErrInvalidChallenge
	}
	return Request{Challenge: challenge, Cookie: cookie, Type: typ, User: sessionUser}, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

// Respond computes the response for req and returns the control command to
// send back to the bridge on channel 0.
func Respond(req Request, password *secret.String) frame.Control {
	var response string
	switch req.Type {
	case "crypt1":
		response = crypt1Response(req.Challenge, password)
	default:
		log.Printf("authorize: unsupported challenge type %q", req.Type)
	}
	return frame.Control{
		Command: "authorize",
		Extra: map[string]any{
			"cookie":   req.Cookie,
			"response": response,
		},
	}
}

// crypt1Response computes the reply to a "crypt1:<salt>" challenge.
//
// The original reauthorize_crypt1 uses the traditional Unix crypt(3)
// DES/MD5/SHA-crypt family keyed by the session password and the salt
// embedded in the challenge. Neither the standard library nor the
// ecosystem libraries this module otherwise depends on carry a crypt(3)
// implementation, so the underlying primitive is swapped for
// base64(HMAC-SHA256(key=password, message=salt)); the challenge/response
// shape (type, cookie, empty-response fallback) is unchanged. This does not
// interoperate with a real crypt(3)-based bridge; see DESIGN.md.
func crypt1Response(challenge string, password *secret.String) string {
	if password == nil {
		return ""
	}
	_, salt, ok := strings.Cut(challenge, ":")
	if !ok {
		salt = challenge
	}
	mac := hmac.New(sha256.New, password.Bytes())
	mac.Write([]byte(salt))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
