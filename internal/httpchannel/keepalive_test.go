package httpchannel

import "testing"

func TestParseKeepAlive(t *testing.T) {
	cases := []struct {
		proto, conn string
		want        bool
	}{
		{"HTTP/1.1", "", true},
		{"HTTP/1.1", "close", false},
		{"HTTP/1.1", "Close", false},
		{"HTTP/1.1", "keep-alive", true},
		{"HTTP/1.0", "", false},
		{"HTTP/1.0", "keep-alive", true},
		{"HTTP/1.0", "Keep-Alive", true},
		{"HTTP/1.0", "close", false},
	}
	for _, c := range cases {
		if got := ParseKeepAlive(c.proto, c.conn); got != c.want {
			t.Errorf("ParseKeepAlive(%q, %q) = %v, want %v", c.proto, c.conn, got, c.want)
		}
	}
}
