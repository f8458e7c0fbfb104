package orchestrator

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// ExecStream adapts a container exec session to terminal.Stream.
type ExecStream struct {
	stdout  io.Reader
	stdin   io.Writer
	resize  func(rows, cols uint16) error
	release func() error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newExecStream(stdout io.Reader, stdin io.Writer, resize func(rows, cols uint16) error, release func() error) *ExecStream {
	return &ExecStream{stdout: stdout, stdin: stdin, resize: resize, release: release}
}

// Read returns io.EOF once the stream was closed locally, so a reader does
// not report our own teardown as a failure.
func (s *ExecStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err != nil && s.closed.Load() && isClosedErr(err) {
		return n, io.EOF
	}
	return n, err
}

func (s *ExecStream) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return s.stdin.Write(p)
}

func (s *ExecStream) SetWindowSize(rows, cols uint16) error {
	if s.closed.Load() {
		return io.ErrClosedPipe
	}
	if s.resize == nil {
		return nil
	}
	return s.resize(rows, cols)
}

func (s *ExecStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.release != nil {
			s.closeErr = s.release()
		}
	})
	return s.closeErr
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF)
}
