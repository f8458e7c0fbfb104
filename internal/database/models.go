package database

import "time"

// Host is a saved connection target. Password and PrivateKeyPassphrase hold
// Fernet tokens, never plaintext.
type Host struct {
	ID                   string     `gorm:"primaryKey;size:64" json:"id"`
	Label                string     `gorm:"not null" json:"label"`
	Hostname             string     `gorm:"not null" json:"hostname"`
	Port                 int        `gorm:"not null;default:22" json:"port"`
	Username             string     `gorm:"not null" json:"username"`
	AuthType             string     `gorm:"not null;default:password" json:"auth_type"`
	Password             string     `json:"-"`
	PrivateKeyPath       string     `json:"private_key_path,omitempty"`
	PrivateKeyPassphrase string     `json:"-"`
	KeepAliveInterval    int        `gorm:"not null;default:0" json:"keep_alive_interval"`
	ConnectionTimeout    int        `gorm:"not null;default:0" json:"connection_timeout"`
	Description          string     `json:"description,omitempty"`
	Group                string     `gorm:"column:host_group" json:"group,omitempty"`
	Color                string     `json:"color,omitempty"`
	Favorite             bool       `gorm:"not null;default:false" json:"favorite"`
	LastConnected        *time.Time `json:"last_connected,omitempty"`
	ConnectionCount      int        `gorm:"not null;default:0" json:"connection_count"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// SSHKey is a private key known to the service, addressed by its path.
type SSHKey struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Path        string    `gorm:"uniqueIndex;not null" json:"path"`
	PublicKey   string    `gorm:"type:text" json:"public_key"`
	Fingerprint string    `json:"fingerprint"`
	Passphrase  string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

type Setting struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// Snippet is a saved command that can be typed into a terminal on demand or
// right after a session connects.
type Snippet struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	Name         string    `gorm:"not null" json:"name"`
	Description  string    `json:"description,omitempty"`
	Command      string    `gorm:"type:text;not null" json:"command"`
	Tags         []string  `gorm:"serializer:json" json:"tags"`
	RunOnConnect bool      `gorm:"not null;default:false" json:"run_on_connect"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
