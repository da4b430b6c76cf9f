package channel

import (
	"testing"

	"github.com/cockpit-project/cockpit-ws-go/internal/frame"
	"github.com/cockpit-project/cockpit-ws-go/internal/problem"
)

type fakeSender struct {
	data     [][]byte
	controls []frame.Control
}

func (f *fakeSender) SendData(channel frame.ChannelID, payload []byte) {
	f.data = append(f.data, payload)
}

func (f *fakeSender) SendControl(ctrl frame.Control) {
	f.controls = append(f.controls, ctrl)
}

type fakePayload struct {
	recvd   [][]byte
	done    bool
	closed  bool
	closeP  problem.Problem
	closeEx map[string]any
}

func (p *fakePayload) Recv(b []byte) { p.recvd = append(p.recvd, b) }
func (p *fakePayload) Done()         { p.done = true }
func (p *fakePayload) Close(prob problem.Problem, extra map[string]any) {
	p.closed = true
	p.closeP = prob
	p.closeEx = extra
}

func TestBaseReadyThenClose(t *testing.T) {
	sender := &fakeSender{}
	payload := &fakePayload{}
	base := NewBase(frame.ChannelID(3), sender, payload)

	if base.State() != Opening {
		t.Fatalf("initial state = %v", base.State())
	}
	base.Ready(nil)
	if base.State() != Ready {
		t.Fatalf("state after Ready = %v", base.State())
	}
	if len(sender.controls) != 1 || sender.controls[0].Command != "ready" {
		t.Fatalf("controls = %+v", sender.controls)
	}

	base.Recv([]byte("hi"))
	if len(payload.recvd) != 1 || string(payload.recvd[0]) != "hi" {
		t.Fatalf("recvd = %+v", payload.recvd)
	}

	base.Close(problem.Terminated, map[string]any{"exit-status": 1})
	if base.State() != Closed {
		t.Fatalf("state after Close = %v", base.State())
	}
	if !payload.closed || payload.closeP != problem.Terminated {
		t.Fatalf("payload close = %+v", payload)
	}
	if len(sender.controls) != 2 || sender.controls[1].Command != "close" || sender.controls[1].Problem != "terminated" {
		t.Fatalf("controls = %+v", sender.controls)
	}

	// Second Close must not re-invoke the payload or re-emit a control.
	base.Close(problem.Terminated, nil)
	if len(sender.controls) != 2 {
		t.Fatalf("close should be idempotent, controls = %+v", sender.controls)
	}
}

func TestBaseRecvIgnoredAfterClose(t *testing.T) {
	sender := &fakeSender{}
	payload := &fakePayload{}
	base := NewBase(frame.ChannelID(1), sender, payload)
	base.Ready(nil)
	base.Close(problem.Problem(""), nil)
	base.Recv([]byte("late"))
	if len(payload.recvd) != 0 {
		t.Fatalf("recv after close should be dropped, got %+v", payload.recvd)
	}
}

func TestBaseCleanCloseOmitsProblem(t *testing.T) {
	sender := &fakeSender{}
	payload := &fakePayload{}
	base := NewBase(frame.ChannelID(2), sender, payload)
	base.Ready(nil)
	base.Close(problem.Problem(""), nil)
	if sender.controls[1].Problem != "" {
		t.Fatalf("expected clean close, got problem=%q", sender.controls[1].Problem)
	}
}
