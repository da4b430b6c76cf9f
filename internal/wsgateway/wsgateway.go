// Package wsgateway upgrades a browser HTTP connection to a WebSocket and
// pumps its frames into a per-connection internal/session.Manager: one
// goroutine reads, decodes, and dispatches inbound frames
// (internal/frame.Decode plus Manager.HandleControl/HandleData); outbound
// frames are written from whichever goroutine emits them, one at a time
// under a mutex, through a write path that applies the write-side
// high/low-water throttle of the concurrency model.
//
// Grounded on flowersec-go/realtime/ws (the Conn this package pumps) and
// cmd/flowersec-tunnel/main.go's HTTP server wiring.
package wsgateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/cockpit-project/cockpit-ws-go/internal/frame"
	"github.com/cockpit-project/cockpit-ws-go/internal/logging"
	"github.com/cockpit-project/cockpit-ws-go/internal/pipe"
	"github.com/cockpit-project/cockpit-ws-go/internal/problem"
	"github.com/cockpit-project/cockpit-ws-go/internal/realtime/ws"
	"github.com/cockpit-project/cockpit-ws-go/internal/secret"
	"github.com/cockpit-project/cockpit-ws-go/internal/session"
	"github.com/gorilla/websocket"
)

// Config controls how Handler upgrades and services browser connections.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageBytes int64

	AllowedOrigins []string
	AllowNoOrigin  bool

	// WriteHighWaterBytes/WriteLowWaterBytes bound how much outbound data
	// may sit queued for the browser before SendData/SendControl calls
	// start blocking their caller (a session channel's own read pump),
	// the same watermark shape internal/pipe.Pipe uses for its own
	// read-side pressure.
	WriteHighWaterBytes int
	WriteLowWaterBytes  int

	Session session.Config
	Logger  *log.Logger
}

// DefaultConfig returns the conservative defaults used in production.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:      4096,
		WriteBufferSize:     4096,
		MaxMessageBytes:     32 << 20,
		WriteHighWaterBytes: pipe.DefaultHighWaterBytes,
		WriteLowWaterBytes:  pipe.DefaultLowWaterBytes,
		Session:             session.DefaultConfig(),
		Logger:              logging.Discard("wsgateway"),
	}
}

// Handler upgrades every request it serves to a websocket and runs one
// connection's session.Manager until the socket closes.
type Handler struct {
	cfg Config
}

// NewHandler returns a Handler using cfg. A zero-value field that matters
// (buffer sizes, watermarks, Session.Clock/Observer) is filled from
// DefaultConfig.
func NewHandler(cfg Config) *Handler {
	def := DefaultConfig()
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = def.WriteBufferSize
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.WriteHighWaterBytes <= 0 {
		cfg.WriteHighWaterBytes = def.WriteHighWaterBytes
	}
	if cfg.WriteLowWaterBytes <= 0 || cfg.WriteLowWaterBytes >= cfg.WriteHighWaterBytes {
		cfg.WriteLowWaterBytes = def.WriteLowWaterBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return &Handler{cfg: cfg}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Upgrade(w, r, ws.UpgraderOptions{
		ReadBufferSize:  h.cfg.ReadBufferSize,
		WriteBufferSize: h.cfg.WriteBufferSize,
		CheckOrigin:     ws.NewOriginChecker(h.cfg.AllowedOrigins, h.cfg.AllowNoOrigin),
	})
	if err != nil {
		h.cfg.Logger.Printf("upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	creds := credentialsFromRequest(r)
	c := newConn(conn, h.cfg)
	c.mgr = session.NewManager(h.cfg.Session, c, creds)

	c.run(r.Context())
}

// credentialsFromRequest reads HTTP Basic auth off the upgrade request,
// the one-shot credential hand-off a fronting login page (out of scope
// here) would otherwise perform over a separate /cockpit/login exchange.
func credentialsFromRequest(r *http.Request) session.Credentials {
	user, password, ok := r.BasicAuth()
	if !ok || user == "" {
		return session.Credentials{}
	}
	return session.Credentials{User: user, Password: secret.New(password)}
}

// conn is one upgraded browser connection: a read pump decoding inbound
// frames into mgr, and a write path enforcing the watermark throttle on
// mgr's outbound frames.
type conn struct {
	ws  *ws.Conn
	cfg Config
	mgr *session.Manager

	writeMu sync.Mutex
	pending int
	high    chan struct{} // closed while pending < WriteHighWaterBytes

	sendMu sync.Mutex // serializes WriteMessage; the websocket allows one writer at a time
}

func newConn(c *ws.Conn, cfg Config) *conn {
	cn := &conn{ws: c, cfg: cfg, high: make(chan struct{})}
	close(cn.high) // starts open: no backlog yet
	return cn
}

func (c *conn) run(ctx context.Context) {
	defer c.mgr.Close()
	defer c.ws.Close()

	for {
		mt, payload, err := c.ws.ReadMessage(ctx)
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		id, body, err := frame.Decode(payload)
		if err != nil {
			c.SendControl(frame.Control{Command: "close", Problem: string(problem.ProtocolError)})
			return
		}
		if id == 0 {
			ctrl, err := frame.ParseControl(body)
			if err != nil {
				c.SendControl(frame.Control{Command: "close", Problem: string(problem.ProtocolError)})
				return
			}
			c.mgr.HandleControl(ctrl)
			continue
		}
		c.mgr.HandleData(id, body)
	}
}

// SendData implements channel.Sender on behalf of mgr's locally-owned and
// relayed channels: every frame they emit for the browser ultimately
// reaches here.
func (c *conn) SendData(id frame.ChannelID, payload []byte) {
	c.write(frame.Encode(id, payload))
}

// SendControl implements channel.Sender.
func (c *conn) SendControl(ctrl frame.Control) {
	b, err := json.Marshal(ctrl)
	if err != nil {
		return
	}
	c.write(frame.Encode(0, b))
}

// write enqueues b for delivery, blocking the caller — a session channel's
// own read pump, several layers up the call stack — while WriteHighWaterBytes
// worth of output is already queued for the browser. This is the
// connection's half of the concurrency model's back-pressure rule: the
// browser being slow to drain its socket propagates into every channel
// feeding this connection without any of them needing to know about
// websockets.
func (c *conn) write(b []byte) {
	c.writeMu.Lock()
	for c.pending >= c.cfg.WriteHighWaterBytes {
		gate := c.high
		c.writeMu.Unlock()
		<-gate
		c.writeMu.Lock()
	}
	c.pending += len(b)
	if c.pending >= c.cfg.WriteHighWaterBytes && c.gateOpen() {
		c.high = make(chan struct{})
	}
	c.writeMu.Unlock()

	c.sendMu.Lock()
	err := c.ws.WriteMessage(context.Background(), websocket.BinaryMessage, b)
	c.sendMu.Unlock()

	c.writeMu.Lock()
	c.pending -= len(b)
	if c.pending < 0 {
		c.pending = 0
	}
	if c.pending <= c.cfg.WriteLowWaterBytes && !c.gateOpen() {
		close(c.high)
	}
	c.writeMu.Unlock()

	if err != nil {
		_ = c.ws.Close()
	}
}

// gateOpen reports whether c.high is currently the open (closed-channel)
// state. Must be called with writeMu held.
func (c *conn) gateOpen() bool {
	select {
	case <-c.high:
		return true
	default:
		return false
	}
}
