package httpchannel

import "strings"

// ParseKeepAlive implements the HTTP/1.0 vs HTTP/1.1 keep-alive defaults:
// HTTP/1.1 connections are kept alive unless "Connection: close" is present;
// HTTP/1.0 connections are closed unless "Connection: keep-alive" is present.
func ParseKeepAlive(proto string, connHeader string) bool {
	ch := strings.ToLower(strings.TrimSpace(connHeader))
	switch strings.TrimSpace(proto) {
	case "HTTP/1.1":
		return ch != "close"
	case "HTTP/1.0":
		return ch == "keep-alive"
	default:
		return false
	}
}
