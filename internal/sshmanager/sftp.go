package sshmanager

import (
	"github.com/pkg/sftp"

	"github.com/gluk-w/teemux/internal/apperr"
)

// EnableSFTP checks that the server offers the sftp subsystem on the
// session's connection and records the result on the session. No files are
// transferred.
func (m *SSHManager) EnableSFTP(sessionID string) error {
	m.mu.Lock()
	mc, ok := m.conns[sessionID]
	m.mu.Unlock()
	if !ok {
		return apperr.New(apperr.KindSession, "Session not connected: %s", sessionID)
	}

	client, err := sftp.NewClient(mc.client)
	if err != nil {
		return apperr.Wrap(apperr.KindSSH, err, "SFTP setup failed")
	}
	client.Close()

	m.sessMu.Lock()
	if s, ok := m.sessions[sessionID]; ok && !s.Status.ended() {
		enabled := true
		s.SFTPEnabled = &enabled
	}
	m.sessMu.Unlock()

	m.logEvent(mc.hostID, sessionID, EventSFTPEnabled, "sftp subsystem available")
	return nil
}
