package transport

import (
	"io"
	"os/exec"

	"github.com/cockpit-project/cockpit-ws-go/internal/problem"
)

// LocalPipeTransport frames a locally spawned bridge process's stdio.
type LocalPipeTransport struct {
	*framedConn
	cmd *exec.Cmd
}

// LocalConfig configures a LocalPipeTransport.
type LocalConfig struct {
	// BridgeProgram is the argv0 (and any fixed leading args) used to start
	// the bridge. Defaults to "/usr/libexec/cockpit-bridge".
	BridgeProgram []string
	Environ       []string
	Directory     string
}

// DefaultBridgeProgram is the path used when LocalConfig.BridgeProgram is empty.
var DefaultBridgeProgram = []string{"/usr/libexec/cockpit-bridge"}

// stdioRWC adapts a cmd's Stdin/Stdout pipes into one io.ReadWriteCloser.
type stdioRWC struct {
	io.ReadCloser
	w io.WriteCloser
}

func (s stdioRWC) Write(b []byte) (int, error) { return s.w.Write(b) }
func (s stdioRWC) Close() error {
	err := s.ReadCloser.Close()
	if werr := s.w.Close(); err == nil {
		err = werr
	}
	return err
}

// NewLocalPipeTransport spawns cfg.BridgeProgram (or the default) and frames
// its stdio.
func NewLocalPipeTransport(cfg LocalConfig) (*LocalPipeTransport, error) {
	argv := cfg.BridgeProgram
	if len(argv) == 0 {
		argv = DefaultBridgeProgram
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	if len(cfg.Environ) > 0 {
		cmd.Env = cfg.Environ
	}
	if cfg.Directory != "" {
		cmd.Dir = cfg.Directory
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	rwc := stdioRWC{ReadCloser: stdout, w: stdin}
	return &LocalPipeTransport{framedConn: newFramedConn(rwc), cmd: cmd}, nil
}

// Close closes the bridge's stdio and waits for it to exit. The terminal
// Closed event carries prob only; the bridge's exit status is not reported.
func (t *LocalPipeTransport) Close(prob problem.Problem) {
	t.closeOnce.Do(func() {
		_ = t.rwc.Close()
		_ = t.cmd.Wait()
		t.closedC <- ClosedEvent{Problem: prob}
		close(t.closedC)
	})
}
