//go:build !windows

package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// LocalPTY is a Stream backed by a shell running on a local pseudo-terminal.
type LocalPTY struct {
	cmd  *exec.Cmd
	ptmx *os.File

	closeOnce sync.Once
	closeErr  error
}

// StartLocalShell starts shell on a new pseudo-terminal of the given size.
func StartLocalShell(shell string, rows, cols uint16) (*LocalPTY, error) {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("start %s on pty: %w", shell, err)
	}
	return &LocalPTY{cmd: cmd, ptmx: ptmx}, nil
}

// Read maps the EIO Linux returns once the shell exits to io.EOF.
func (p *LocalPTY) Read(b []byte) (int, error) {
	n, err := p.ptmx.Read(b)
	if err != nil && errors.Is(err, syscall.EIO) {
		err = io.EOF
	}
	return n, err
}

func (p *LocalPTY) Write(b []byte) (int, error) {
	return p.ptmx.Write(b)
}

func (p *LocalPTY) SetWindowSize(rows, cols uint16) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Close kills the shell, releases the pty and reaps the process.
func (p *LocalPTY) Close() error {
	p.closeOnce.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		p.closeErr = p.ptmx.Close()
		_ = p.cmd.Wait()
	})
	return p.closeErr
}
