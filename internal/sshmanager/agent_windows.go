//go:build windows

package sshmanager

import (
	"fmt"
	"io"
	"os"

	"github.com/Microsoft/go-winio"
	"github.com/davidmz/go-pageant"
	"golang.org/x/crypto/ssh/agent"
)

const openSSHAgentPipe = `\\.\pipe\openssh-ssh-agent`

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// connectAgent prefers a Pageant compatible agent and falls back to the
// OpenSSH agent named pipe.
func connectAgent() (agent.Agent, io.Closer, error) {
	if pageant.Available() {
		return pageant.New(), nopCloser{}, nil
	}

	pipe := os.Getenv("SSH_AUTH_SOCK")
	if pipe == "" {
		pipe = openSSHAgentPipe
	}
	conn, err := winio.DialPipe(pipe, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial agent pipe %s: %w", pipe, err)
	}
	return agent.NewClient(conn), conn, nil
}
