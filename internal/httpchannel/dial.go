package httpchannel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

const defaultDialTimeout = 10 * time.Second

// dial resolves opts' target, reusing a pooled keep-alive connection when
// opts.Connection names one and a matching idle connection exists.
func dial(opts Options) (net.Conn, poolKey, error) {
	serverName := opts.targetHost()
	tlsCfg, fingerprint, err := buildTLSConfig(serverName, opts.TLS)
	if err != nil {
		return nil, poolKey{}, err
	}

	key := poolKey{Host: opts.targetHost(), Port: opts.Port, Unix: opts.Unix, Fingerprint: fingerprint}
	if opts.Connection != "" {
		if conn := defaultPool.get(key); conn != nil {
			return conn, key, nil
		}
	}

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	if opts.Unix != "" {
		conn, err = dialer.Dial("unix", opts.Unix)
	} else {
		addr := net.JoinHostPort(opts.targetHost(), strconv.Itoa(opts.Port))
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, poolKey{}, fmt.Errorf("httpchannel: dial: %w", err)
	}

	if opts.TLS != nil {
		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			conn.Close()
			var verr *tls.CertificateVerificationError
			if opts.TLS.validate() && errors.As(err, &verr) {
				return nil, poolKey{}, &UntrustedServerError{Err: err}
			}
			return nil, poolKey{}, fmt.Errorf("httpchannel: tls handshake: %w", err)
		}
		conn = tlsConn
	}

	return conn, key, nil
}
