// Package streamchannel implements the generic byte-stream payload channel
// (payload kind "stream"): arbitrary bytes bridged between the browser and a
// local UNIX socket or spawned process, with read-side batching and
// half-close handling.
package streamchannel

import (
	"errors"
	"net"
	"os/exec"
	"time"
	"unicode/utf8"

	"github.com/cockpit-project/cockpit-ws-go/internal/channel"
	"github.com/cockpit-project/cockpit-ws-go/internal/clock"
	"github.com/cockpit-project/cockpit-ws-go/internal/frame"
	"github.com/cockpit-project/cockpit-ws-go/internal/pipe"
	"github.com/cockpit-project/cockpit-ws-go/internal/problem"
)

// batchDelay is the ≈75ms coalescing window for sub-threshold batched reads.
const batchDelay = 75 * time.Millisecond

// Options mirrors the "open" JSON fields accepted by a stream channel.
type Options struct {
	Unix  string   // path to a local stream socket
	Spawn []string // argv of a process to run; mutually exclusive with Unix

	Environ     []string // "KEY=VALUE" entries
	Directory   string
	PTY         bool
	MergeStderr bool // open option "error": "output"
	Batch       int  // coalescing threshold in bytes, 0 disables batching

	// RequireUTF8 opts into the older agent variant's strict behavior:
	// inbound payload that is not valid UTF-8 closes the channel with
	// "protocol-error" instead of being written through verbatim.
	RequireUTF8 bool
}

// Channel is the stream payload channel. It embeds *channel.Base, which
// gives it the shared Ready/Recv/HandleDone/Close/State surface; Channel
// itself only adds the read-side pump.
type Channel struct {
	*channel.Base

	pipe   *pipe.Pipe
	sender channel.Sender
	clk    clock.Clock
	batch  int
}

// Open starts (or dials) the local resource and returns a ready channel.
func Open(id frame.ChannelID, sender channel.Sender, clk clock.Clock, opts Options) (*Channel, error) {
	if (opts.Unix == "") == (len(opts.Spawn) == 0) {
		return nil, errors.New("streamchannel: exactly one of unix or spawn is required")
	}

	p, err := openPipe(opts)
	if err != nil {
		return nil, err
	}

	payload := &streamPayload{pipe: p, requireUTF8: opts.RequireUTF8}
	base := channel.NewBase(id, sender, payload)
	payload.base = base

	c := &Channel{Base: base, pipe: p, sender: sender, clk: clk, batch: opts.Batch}
	c.Ready(nil)
	go c.pump()
	return c, nil
}

func openPipe(opts Options) (*pipe.Pipe, error) {
	if opts.Unix != "" {
		conn, err := net.Dial("unix", opts.Unix)
		if err != nil {
			return nil, err
		}
		return pipe.New(conn, conn, pipe.Options{}), nil
	}

	cmd := exec.Command(opts.Spawn[0], opts.Spawn[1:]...)
	if len(opts.Environ) > 0 {
		cmd.Env = opts.Environ
	}
	if opts.Directory != "" {
		cmd.Dir = opts.Directory
	}
	if opts.PTY {
		return pipe.NewPTYCommand(cmd, pipe.Options{})
	}
	return pipe.NewCommand(cmd, opts.MergeStderr, pipe.Options{})
}

// pump forwards pipe.Reads() events to the browser with batching, and turns
// the pipe's terminal CloseEvent into the channel's own Close.
func (c *Channel) pump() {
	var timer clock.Timer
	var timerC <-chan time.Time
	var latest []byte

	armIfNeeded := func() {
		if timerC != nil {
			return // already counting down for this batch
		}
		if timer == nil {
			timer = c.clk.NewTimer(batchDelay)
		} else {
			timer.Reset(batchDelay)
		}
		timerC = timer.C()
	}
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timerC = nil
	}
	flush := func() {
		disarm()
		if len(latest) == 0 {
			return
		}
		c.sender.SendData(c.ID, latest)
		c.pipe.Consume(len(latest))
		latest = nil
	}

	for {
		select {
		case ev, ok := <-c.pipe.Reads():
			if !ok {
				flush()
				return
			}
			latest = ev.Buffer
			if ev.EOF {
				flush()
				// Closing the pipe reaps a spawned child and produces the
				// CloseEvent handled below.
				c.pipe.Close("")
				continue
			}
			if c.batch <= 0 || len(latest) >= c.batch {
				flush()
			} else {
				armIfNeeded()
			}
		case <-timerC:
			flush()
		case ev, ok := <-c.pipe.Closed():
			if !ok {
				return
			}
			extra := map[string]any{}
			if ev.ExitStatus != nil {
				extra["exit-status"] = *ev.ExitStatus
			}
			if ev.ExitSignal != "" {
				extra["exit-signal"] = ev.ExitSignal
			}
			if len(extra) == 0 {
				extra = nil
			}
			c.Close(ev.Problem, extra)
			return
		}
	}
}

// streamPayload implements channel.Payload for a stream channel. It is kept
// separate from Channel so Channel's embedded *channel.Base can promote its
// own lifecycle Close without colliding with the payload-level Close that
// Base calls internally.
type streamPayload struct {
	pipe        *pipe.Pipe
	requireUTF8 bool
	base        *channel.Base
}

func (p *streamPayload) Recv(b []byte) {
	if p.requireUTF8 && !utf8.Valid(b) {
		p.base.Close(problem.ProtocolError, nil)
		return
	}
	p.pipe.Write(b)
}

func (p *streamPayload) Done() {
	p.pipe.CloseWrite()
}

func (p *streamPayload) Close(prob problem.Problem, extra map[string]any) {
	p.pipe.Close(prob)
}
