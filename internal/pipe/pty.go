package pipe

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// NewPTYCommand starts cmd attached to a freshly allocated pseudo-terminal
// instead of plain OS pipes, for stream channels opened with "pty": true.
// Stdout and Stderr are inherently merged on a pty, matching an interactive
// shell's behavior regardless of the "error" option.
func NewPTYCommand(cmd *exec.Cmd, opts Options) (*Pipe, error) {
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	return newPipe(f, f, cmd, opts), nil
}

// Resize adjusts the pseudo-terminal's window size. It is a no-op (and
// returns nil) when the Pipe's reader is not an *os.File, such as a unix
// socket; for a plain child-process pipe the size ioctl fails and its error
// is returned.
func (p *Pipe) Resize(cols, rows uint16) error {
	f, ok := p.r.(*os.File)
	if !ok {
		return nil
	}
	return pty.Setsize(f, &pty.Winsize{Cols: cols, Rows: rows})
}
