package pipe

import (
	"os/exec"
	"testing"
	"time"

	"github.com/cockpit-project/cockpit-ws-go/internal/problem"
)

func TestCommandEchoAndExitStatus(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "echo hi; exit 7")
	p, err := NewCommand(cmd, false, Options{})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}

	var lastBuf []byte
	sawEOF := false
loop:
	for {
		select {
		case ev := <-p.Reads():
			lastBuf = ev.Buffer
			if ev.EOF {
				sawEOF = true
				break loop
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for EOF")
		}
	}
	if !sawEOF {
		t.Fatal("never saw EOF")
	}
	if string(lastBuf) != "hi\n" {
		t.Fatalf("buffer = %q, want %q", lastBuf, "hi\n")
	}

	p.Close(problem.Problem(""))
	select {
	case ev := <-p.Closed():
		if ev.ExitStatus == nil || *ev.ExitStatus != 7 {
			t.Fatalf("exit status = %v, want 7", ev.ExitStatus)
		}
		if ev.ExitSignal != "" {
			t.Fatalf("unexpected exit signal %q", ev.ExitSignal)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for close event")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	p, err := NewCommand(cmd, false, Options{})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	for range 2 {
		select {
		case ev := <-p.Reads():
			if !ev.EOF {
				continue
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out")
		}
	}
	p.Close(problem.Terminated)
	p.Close(problem.Terminated) // must not panic or block
	<-p.Closed()
}

func TestConsumeTrimsBuffer(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "printf abcdef")
	p, err := NewCommand(cmd, false, Options{})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	ev := <-p.Reads()
	if string(ev.Buffer) == "" {
		t.Fatal("expected data")
	}
	p.Consume(3)
	// Drain remaining events.
	for {
		select {
		case e := <-p.Reads():
			if e.EOF {
				p.Close(problem.Problem(""))
				<-p.Closed()
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out")
		}
	}
}

func TestCloseWriteLeavesReadSideOpen(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "cat; echo done")
	p, err := NewCommand(cmd, false, Options{})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	p.Write([]byte("x"))
	p.CloseWrite()
	// A second CloseWrite, or a Write after CloseWrite, must not panic.
	p.CloseWrite()
	p.Write([]byte("dropped"))

	var saw string
	for {
		ev := <-p.Reads()
		saw += string(ev.Buffer)
		p.Consume(len(ev.Buffer))
		if ev.EOF {
			break
		}
	}
	if saw != "xdone\n" {
		t.Fatalf("saw = %q, want %q", saw, "xdone\n")
	}
	p.Close(problem.Problem(""))
	<-p.Closed()
}
