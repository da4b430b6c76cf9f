package authorize

import (
	"testing"

	"github.com/cockpit-project/cockpit-ws-go/internal/frame"
	"github.com/cockpit-project/cockpit-ws-go/internal/secret"
)

func TestParseValid(t *testing.T) {
	ctrl := frame.Control{Extra: map[string]any{
		"challenge": "crypt1:abc123",
		"cookie":    float64(9),
		"user":      "alice",
	}}
	req, err := Parse(ctrl, "alice")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if req.Type != "crypt1" || req.Cookie != 9 {
		t.Fatalf("req = %+v", req)
	}
}

func TestParseRejectsUserMismatch(t *testing.T) {
	ctrl := frame.Control{Extra: map[string]any{
		"challenge": "crypt1:abc123",
		"cookie":    float64(1),
		"user":      "mallory",
	}}
	if _, err := Parse(ctrl, "alice"); err != ErrInvalidChallenge {
		t.Fatalf("err = %v", err)
	}
}

func TestParseRejectsMissingFields(t *testing.T) {
	cases := []map[string]any{
		{"cookie": float64(1)},
		{"challenge": "crypt1:x"},
		{"challenge": "", "cookie": float64(1)},
	}
	for _, extra := range cases {
		if _, err := Parse(frame.Control{Extra: extra}, "alice"); err != ErrInvalidChallenge {
			t.Fatalf("extra=%v err = %v", extra, err)
		}
	}
}

func TestRespondWithCachedPassword(t *testing.T) {
	req := Request{Challenge: "crypt1:saltvalue", Cookie: 4, Type: "crypt1", User: "alice"}
	ctrl := Respond(req, secret.New("hunter2"))
	if ctrl.Command != "authorize" {
		t.Fatalf("command = %q", ctrl.Command)
	}
	if ctrl.Extra["cookie"] != 4 {
		t.Fatalf("cookie = %v", ctrl.Extra["cookie"])
	}
	resp, _ := ctrl.Extra["response"].(string)
	if resp == "" {
		t.Fatal("expected non-empty response")
	}
	// Deterministic for the same challenge/password pair.
	ctrl2 := Respond(req, secret.New("hunter2"))
	if ctrl2.Extra["response"] != resp {
		t.Fatal("response should be deterministic")
	}
}

func TestRespondWithoutCachedPasswordIsEmpty(t *testing.T) {
	req := Request{Challenge: "crypt1:saltvalue", Cookie: 4, Type: "crypt1"}
	ctrl := Respond(req, nil)
	if ctrl.Extra["response"] != "" {
		t.Fatalf("response = %v, want empty", ctrl.Extra["response"])
	}
}
