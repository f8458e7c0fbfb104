package sshmanager

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

const (
	defaultRows = 24
	defaultCols = 80
)

// ChannelStream is an interactive shell on an SSH session channel. It
// satisfies terminal.Stream.
type ChannelStream struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	closeOnce sync.Once
	closeErr  error
}

// openShell requests a pty on a new session channel and starts the login
// shell. The channel is closed on any failure.
func openShell(client *ssh.Client, termType string, rows, cols int) (*ChannelStream, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session channel: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(termType, rows, cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &ChannelStream{session: session, stdin: stdin, stdout: stdout}, nil
}

func (c *ChannelStream) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

func (c *ChannelStream) Write(p []byte) (int, error) {
	return c.stdin.Write(p)
}

// SetWindowSize sends a window-change request for the pty.
func (c *ChannelStream) SetWindowSize(rows, cols uint16) error {
	return c.session.WindowChange(int(rows), int(cols))
}

// Close sends EOF and closes the channel. Closing an already closed channel
// is not an error.
func (c *ChannelStream) Close() error {
	c.closeOnce.Do(func() {
		c.stdin.Close()
		if err := c.session.Close(); err != nil && !errors.Is(err, io.EOF) {
			c.closeErr = err
		}
	})
	return c.closeErr
}
