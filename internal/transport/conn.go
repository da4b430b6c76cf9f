package transport

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"sync"

	"github.com/cockpit-project/cockpit-ws-go/internal/frame"
	"github.com/cockpit-project/cockpit-ws-go/internal/problem"
)

// framedConn implements the read/write pump shared by every Transport
// variant. A pipe or SSH channel is a raw byte stream with no message
// boundaries of its own, unlike a WebSocket connection, so each
// internal/frame-encoded message is additionally wrapped in an ASCII
// decimal byte count and a newline before it hits the wire: "<size>\n" then
// exactly size bytes of "<channel>\n<payload>". Decoding peels this outer
// length prefix off before handing the inner bytes to frame.Decode.
type framedConn struct {
	rwc io.ReadWriteCloser
	br  *bufio.Reader

	writeMu sync.Mutex

	recv    chan RecvEvent
	control chan ControlEvent
	closedC chan ClosedEvent

	closeOnce sync.Once
}

func newFramedConn(rwc io.ReadWriteCloser) *framedConn {
	c := &framedConn{
		rwc:     rwc,
		br:      bufio.NewReaderSize(rwc, 64*1024),
		recv:    make(chan RecvEvent, 64),
		control: make(chan ControlEvent, 16),
		closedC: make(chan ClosedEvent, 1),
	}
	go c.readLoop()
	return c
}

func (c *framedConn) Send(ctx context.Context, channel frame.ChannelID, payload []byte) error {
	inner := frame.Encode(channel, payload)
	outer := append(strconv.AppendUint(nil, uint64(len(inner)), 10), '\n')
	outer = append(outer, inner...)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := c.rwc.Write(outer)
		done <- result{err}
	}()
	select {
	case r := <-done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *framedConn) Recv() <-chan RecvEvent       { return c.recv }
func (c *framedConn) Control() <-chan ControlEvent { return c.control }
func (c *framedConn) Closed() <-chan ClosedEvent   { return c.closedC }

func (c *framedConn) closeWith(ev ClosedEvent) {
	c.closeOnce.Do(func() {
		_ = c.rwc.Close()
		c.closedC <- ev
		close(c.closedC)
	})
}

func (c *framedConn) readLoop() {
	for {
		sizeLine, err := c.br.ReadString('\n')
		if err != nil {
			c.closeWith(closedEventFor(err))
			return
		}
		size, perr := strconv.ParseUint(sizeLine[:len(sizeLine)-1], 10, 32)
		if perr != nil {
			c.closeWith(ClosedEvent{Problem: problem.ProtocolError})
			return
		}
		inner := make([]byte, size)
		if _, err := io.ReadFull(c.br, inner); err != nil {
			c.closeWith(closedEventFor(err))
			return
		}
		channel, payload, decErr := frame.Decode(inner)
		if decErr != nil {
			c.closeWith(ClosedEvent{Problem: problem.ProtocolError})
			return
		}
		if channel == 0 {
			ctrl, ctrlErr := frame.ParseControl(payload)
			if ctrlErr != nil {
				c.closeWith(ClosedEvent{Problem: problem.ProtocolError})
				return
			}
			c.control <- ControlEvent{Control: ctrl}
		} else {
			c.recv <- RecvEvent{Channel: channel, Payload: payload}
		}
	}
}

func closedEventFor(err error) ClosedEvent {
	if err == io.EOF {
		return ClosedEvent{Problem: problem.Terminated}
	}
	return ClosedEvent{Problem: problem.InternalError}
}
