package httpchannel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/cockpit-project/cockpit-ws-go/internal/channel"
	"github.com/cockpit-project/cockpit-ws-go/internal/frame"
	"github.com/cockpit-project/cockpit-ws-go/internal/problem"
)

// Channel is one "http-stream1" request/response exchange.
type Channel struct {
	*channel.Base
	payload *httpPayload
}

// Open validates opts, dials (or reuses a pooled) connection, and writes the
// request line and headers. It returns once the request head is on the
// wire; the caller continues feeding the request body via data frames and a
// trailing "done" control, same as every other channel payload.
func Open(id frame.ChannelID, sender channel.Sender, opts Options) (*Channel, error) {
	if (opts.Port == 0) == (opts.Unix == "") {
		return nil, fmt.Errorf("httpchannel: exactly one of port or unix must be set")
	}
	if strings.TrimSpace(opts.Method) == "" {
		return nil, fmt.Errorf("httpchannel: method is required")
	}

	conn, key, err := dial(opts)
	if err != nil {
		return nil, err
	}

	payload := &httpPayload{
		conn:          conn,
		sender:        sender,
		id:            id,
		poolKey:       key,
		wantKeepAlive: opts.Connection != "",
	}
	base := channel.NewBase(id, sender, payload)
	payload.base = base

	if err := payload.writeRequestHead(opts); err != nil {
		conn.Close()
		return nil, err
	}

	c := &Channel{Base: base, payload: payload}
	c.Ready(nil)
	return c, nil
}

// httpPayload implements channel.Payload as an unexported type distinct
// from Channel, so Channel's embedded *channel.Base.Close keeps orchestrating
// the close handshake instead of being shadowed by Payload's own Close.
type httpPayload struct {
	mu            sync.Mutex
	conn          net.Conn
	bodyWriter    io.WriteCloser
	base          *channel.Base
	sender        channel.Sender
	id            frame.ChannelID
	poolKey       poolKey
	wantKeepAlive bool
	responded     bool
}

func (p *httpPayload) writeRequestHead(opts Options) error {
	var b strings.Builder
	reqPath := opts.Path
	if reqPath == "" {
		reqPath = "/"
	}
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", strings.ToUpper(opts.Method), reqPath)

	if !hasHeader(opts.Headers, "Host") {
		fmt.Fprintf(&b, "Host: %s\r\n", opts.targetHost())
	}
	for k, v := range opts.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	if !hasHeader(opts.Headers, "Connection") {
		if opts.Connection != "" {
			b.WriteString("Connection: keep-alive\r\n")
		} else {
			b.WriteString("Connection: close\r\n")
		}
	}

	chunkedBody := !hasHeader(opts.Headers, "Content-Length") && !hasHeader(opts.Headers, "Transfer-Encoding")
	if chunkedBody {
		b.WriteString("Transfer-Encoding: chunked\r\n")
	}
	b.WriteString("\r\n")

	if _, err := io.WriteString(p.conn, b.String()); err != nil {
		return fmt.Errorf("httpchannel: write request head: %w", err)
	}

	if chunkedBody {
		p.bodyWriter = &chunkedBodyWriter{w: p.conn}
	} else {
		p.bodyWriter = &plainBodyWriter{w: p.conn}
	}
	return nil
}

func (p *httpPayload) Recv(b []byte) {
	p.mu.Lock()
	w := p.bodyWriter
	p.mu.Unlock()
	if w == nil {
		return
	}
	if _, err := w.Write(b); err != nil {
		p.base.Close(problem.InternalError, nil)
	}
}

func (p *httpPayload) Done() {
	p.mu.Lock()
	w := p.bodyWriter
	p.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
	go p.readResponse()
}

func (p *httpPayload) Close(prob problem.Problem, extra map[string]any) {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	keepAlive := p.wantKeepAlive && prob.Clean()
	key := p.poolKey
	p.mu.Unlock()
	if conn == nil {
		return
	}
	if keepAlive {
		defaultPool.put(key, conn)
		return
	}
	_ = conn.Close()
}

func (p *httpPayload) readResponse() {
	br := bufio.NewReader(p.conn)

	status, err := readStatusLine(br)
	if err != nil {
		p.base.Close(problem.ProtocolError, nil)
		return
	}
	headers, err := readResponseHeaders(br)
	if err != nil {
		p.base.Close(problem.ProtocolError, nil)
		return
	}

	meta := map[string]any{
		"status":  status.Status,
		"reason":  status.Reason,
		"headers": flattenHeaders(headers),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		p.base.Close(problem.InternalError, nil)
		return
	}
	p.sender.SendData(p.id, metaBytes)

	te := strings.TrimSpace(headers.Get("Transfer-Encoding"))
	cl := strings.TrimSpace(headers.Get("Content-Length"))

	var bodyReader io.Reader
	poolable := true
	switch {
	case strings.EqualFold(te, "chunked"):
		bodyReader = newChunkedReader(br)
	case cl != "":
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil {
			p.base.Close(problem.ProtocolError, nil)
			return
		}
		bodyReader = io.LimitReader(br, n)
	default:
		bodyReader = br
		poolable = false
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := bodyReader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.sender.SendData(p.id, chunk)
		}
		if rerr != nil {
			break
		}
	}

	p.mu.Lock()
	p.wantKeepAlive = p.wantKeepAlive && poolable && ParseKeepAlive(status.Proto, headers.Get("Connection"))
	p.mu.Unlock()

	p.base.Close("", nil)
}
