//go:build windows

package terminal

import "errors"

// LocalPTY is not available on windows.
type LocalPTY struct{}

func StartLocalShell(shell string, rows, cols uint16) (*LocalPTY, error) {
	return nil, errors.New("local terminals are not supported on windows")
}

func (p *LocalPTY) Read(b []byte) (int, error) { return 0, errors.ErrUnsupported }
func (p *LocalPTY) Write(b []byte) (int, error) { return 0, errors.ErrUnsupported }
func (p *LocalPTY) SetWindowSize(rows, cols uint16) error { return errors.ErrUnsupported }
func (p *LocalPTY) Close() error { return nil }
