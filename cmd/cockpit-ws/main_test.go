package main

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRun_VersionFlag(t *testing.T) {
	oldVersion := version
	t.Cleanup(func() { version = oldVersion })
	version = "v7.8.9"

	var stdout, stderr bytes.Buffer
	code := run([]string{"--version"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr=%q)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "v7.8.9") {
		t.Fatalf("expected version in output, got %q", stdout.String())
	}
}

func TestRun_RequiresOriginAllowlistOrOptOut(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--listen", "127.0.0.1:0"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit 2, got %d (stderr=%q)", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "allow-origin") {
		t.Fatalf("expected an allow-origin error, got %q", stderr.String())
	}
}

func TestRun_TLSFlagsMustBePaired(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--allow-no-origin", "--tls-cert-file", "cert.pem"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit 2, got %d (stderr=%q)", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "--tls-cert-file and --tls-key-file") {
		t.Fatalf("expected a paired-flags error, got %q", stderr.String())
	}
}

func TestSwitchHandlerDefaultsToNotFound(t *testing.T) {
	h := newSwitchHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != 404 {
		t.Fatalf("expected 404 before Set, got %d", rr.Code)
	}
}
