//go:build !windows

package sshmanager

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/crypto/ssh/agent"
)

// connectAgent dials the agent at SSH_AUTH_SOCK. The returned closer releases
// the agent connection.
func connectAgent() (agent.Agent, io.Closer, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil, errors.New("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, fmt.Errorf("dial agent socket: %w", err)
	}
	return agent.NewClient(conn), conn, nil
}
