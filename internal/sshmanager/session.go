package sshmanager

import (
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// ended reports whether the status is terminal.
func (s Status) ended() bool {
	return s == StatusDisconnected || s == StatusError
}

// Type is the protocol behind a session.
type Type string

const TypeSSH Type = "ssh"

// AuthType selects the credential used to authenticate.
type AuthType string

const (
	AuthPassword AuthType = "password"
	AuthKey      AuthType = "key"
	AuthAgent    AuthType = "agent"
)

// PortForwarding describes a forward attached to a session. Forwarding is not
// implemented; the list is always empty.
type PortForwarding struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	LocalHost  string `json:"local_host"`
	LocalPort  int    `json:"local_port"`
	RemoteHost string `json:"remote_host"`
	RemotePort int    `json:"remote_port"`
}

// Session is the in-memory record of one SSH connection.
type Session struct {
	ID              string           `json:"id"`
	HostID          string           `json:"host_id"`
	TerminalID      string           `json:"terminal_id"`
	Status          Status           `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         *time.Time       `json:"end_time,omitempty"`
	LastActivity    *time.Time       `json:"last_activity,omitempty"`
	Type            Type             `json:"type"`
	SFTPEnabled     *bool            `json:"sftp_enabled,omitempty"`
	PortForwardings []PortForwarding `json:"port_forwardings"`
	Error           string           `json:"error,omitempty"`
}

func (s *Session) clone() *Session {
	c := *s
	c.PortForwardings = append([]PortForwarding{}, s.PortForwardings...)
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	if s.LastActivity != nil {
		t := *s.LastActivity
		c.LastActivity = &t
	}
	if s.SFTPEnabled != nil {
		b := *s.SFTPEnabled
		c.SFTPEnabled = &b
	}
	return &c
}

// Host describes a connection target with its credentials already
// decrypted. Zero durations fall back to the manager's defaults.
type Host struct {
	ID                   string
	Hostname             string
	Port                 int
	Username             string
	AuthType             AuthType
	Password             string
	PrivateKeyPath       string
	PrivateKeyPassphrase string
	KeepAliveInterval    time.Duration
	ConnectionTimeout    time.Duration
}

// SSHKey is explicit key material. PEM, when set, is used instead of reading
// Path.
type SSHKey struct {
	Path       string
	PEM        []byte
	Passphrase string
}

// HostStore is the read-only view of host and key storage. Both lookups
// return nil, nil when the record does not exist.
type HostStore interface {
	GetHost(id string) (*Host, error)
	GetSSHKey(path string) (*SSHKey, error)
}
