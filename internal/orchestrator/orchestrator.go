package orchestrator

import (
	"context"
)

// ExecBackend runs interactive commands inside containers. Docker targets
// are container names or ids; Kubernetes targets are pod names or the value
// of a pod's "app" label.
type ExecBackend interface {
	Initialize(ctx context.Context) error
	IsAvailable(ctx context.Context) bool
	BackendName() string

	// ExecInteractive starts cmd on a TTY of rows x cols inside target. The
	// returned stream outlives ctx; it is released by Close.
	ExecInteractive(ctx context.Context, target string, cmd []string, rows, cols uint16) (*ExecStream, error)
}

// ExecRequest describes an exec terminal to open.
type ExecRequest struct {
	Target  string   `json:"target"`
	Command []string `json:"command"`
	Rows    uint16   `json:"rows"`
	Cols    uint16   `json:"cols"`
}

// DefaultShell is run when an ExecRequest has no command.
var DefaultShell = []string{"/bin/sh"}

// Normalize fills the command and terminal size defaults.
func (r *ExecRequest) Normalize() {
	if len(r.Command) == 0 {
		r.Command = DefaultShell
	}
	if r.Rows == 0 {
		r.Rows = 24
	}
	if r.Cols == 0 {
		r.Cols = 80
	}
}
