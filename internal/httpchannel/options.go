// Package httpchannel implements the "http-stream1" channel payload: a
// single raw HTTP/1.x request/response exchange carried over the channel's
// data frames, with its own status-line/header/chunk decoder (rather than
// net/http.Transport) so the gateway can hand the browser the bytes exactly
// as the target served them, and so TLS client-certificate identity and
// custom trust anchors are under the gateway's own control.
//
// Grounded on flowersec-go/proxy/http1.go's dialer and request/response
// plumbing, adapted to speak raw HTTP/1.x rather than delegating to
// net/http.Transport, and on flowersec-go/proxy/chunk.go for the
// chunk-size-line parsing shape.
package httpchannel

import "time"

// Options mirrors an "http-stream1" channel's open options.
type Options struct {
	Host string // target host for TCP dialing; defaults to "localhost"
	Port int    // TCP port; mutually exclusive with Unix
	Unix string // UNIX socket path; mutually exclusive with Port

	Method  string
	Path    string
	Headers map[string]string

	TLS *TLSOptions

	// Connection, when non-empty, is the keep-alive pool key the browser
	// supplied; its presence requests keep-alive for this request.
	Connection string

	DialTimeout time.Duration
}

func (o Options) targetHost() string {
	if o.Host != "" {
		return o.Host
	}
	return "localhost"
}
