// Package storage persists hosts and SSH keys and serves them to the session
// manager with secrets decrypted.
package storage

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/gluk-w/teemux/internal/apperr"
	"github.com/gluk-w/teemux/internal/crypto"
	"github.com/gluk-w/teemux/internal/database"
	"github.com/gluk-w/teemux/internal/logutil"
	"github.com/gluk-w/teemux/internal/sshmanager"
)

// HostInput is the writable part of a host. Pointer fields are optional on
// update; nil leaves the stored value untouched.
type HostInput struct {
	Label                *string `json:"label" yaml:"label"`
	Hostname             *string `json:"hostname" yaml:"hostname"`
	Port                 *int    `json:"port" yaml:"port"`
	Username             *string `json:"username" yaml:"username"`
	AuthType             *string `json:"auth_type" yaml:"auth_type"`
	Password             *string `json:"password" yaml:"password"`
	PrivateKeyPath       *string `json:"private_key_path" yaml:"private_key_path"`
	PrivateKeyPassphrase *string `json:"private_key_passphrase" yaml:"private_key_passphrase"`
	KeepAliveInterval    *int    `json:"keep_alive_interval" yaml:"keep_alive_interval"`
	ConnectionTimeout    *int    `json:"connection_timeout" yaml:"connection_timeout"`
	Description          *string `json:"description" yaml:"description"`
	Group                *string `json:"group" yaml:"group"`
	Color                *string `json:"color" yaml:"color"`
	Favorite             *bool   `json:"favorite" yaml:"favorite"`
}

// ChangesCredentials reports whether applying in would change how the
// service authenticates to the host.
func (in HostInput) ChangesCredentials() bool {
	return in.Username != nil || in.AuthType != nil || in.Password != nil ||
		in.PrivateKeyPath != nil || in.PrivateKeyPassphrase != nil
}

type importFile struct {
	Hosts []HostInput `yaml:"hosts"`
}

// Store reads and writes hosts and keys through a gorm handle.
type Store struct {
	db *gorm.DB
}

// New returns a store backed by db. A nil db uses database.DB.
func New(db *gorm.DB) *Store {
	if db == nil {
		db = database.DB
	}
	return &Store{db: db}
}

// GetHost implements sshmanager.HostStore.
func (s *Store) GetHost(id string) (*sshmanager.Host, error) {
	rec, err := s.GetHostRecord(id)
	if err != nil || rec == nil {
		return nil, err
	}
	password, err := crypto.Decrypt(rec.Password)
	if err != nil {
		return nil, fmt.Errorf("decrypt password for host %s: %w", id, err)
	}
	passphrase, err := crypto.Decrypt(rec.PrivateKeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt passphrase for host %s: %w", id, err)
	}
	return &sshmanager.Host{
		ID:                   rec.ID,
		Hostname:             rec.Hostname,
		Port:                 rec.Port,
		Username:             rec.Username,
		AuthType:             sshmanager.AuthType(rec.AuthType),
		Password:             password,
		PrivateKeyPath:       rec.PrivateKeyPath,
		PrivateKeyPassphrase: passphrase,
		KeepAliveInterval:    time.Duration(rec.KeepAliveInterval) * time.Second,
		ConnectionTimeout:    time.Duration(rec.ConnectionTimeout) * time.Millisecond,
	}, nil
}

// GetSSHKey implements sshmanager.HostStore. The key file itself is read at
// connect time; the record only contributes its passphrase.
func (s *Store) GetSSHKey(path string) (*sshmanager.SSHKey, error) {
	var rec database.SSHKey
	err := s.db.Where("path = ?", path).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ssh key %s: %w", path, err)
	}
	passphrase, err := crypto.Decrypt(rec.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt passphrase for key %s: %w", path, err)
	}
	return &sshmanager.SSHKey{Path: rec.Path, Passphrase: passphrase}, nil
}

// GetHostRecord returns the stored host, or nil when it does not exist.
func (s *Store) GetHostRecord(id string) (*database.Host, error) {
	var rec database.Host
	err := s.db.First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load host %s: %w", id, err)
	}
	return &rec, nil
}

// ListHosts returns all hosts, favorites first, then by label.
func (s *Store) ListHosts() ([]database.Host, error) {
	var hosts []database.Host
	if err := s.db.Order("favorite DESC").Order("label").Find(&hosts).Error; err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	return hosts, nil
}

// CreateHost validates in and stores a new host.
func (s *Store) CreateHost(in HostInput) (*database.Host, error) {
	rec := &database.Host{ID: uuid.New().String(), Port: sshmanager.DefaultPort, AuthType: string(sshmanager.AuthPassword)}
	if err := applyInput(rec, in); err != nil {
		return nil, err
	}
	if err := validateHost(rec); err != nil {
		return nil, err
	}
	if err := s.db.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}
	log.Printf("[db] created host %s (%s)", rec.ID, logutil.SanitizeForLog(rec.Label))
	return rec, nil
}

// UpdateHost applies the non-nil fields of in to an existing host.
func (s *Store) UpdateHost(id string, in HostInput) (*database.Host, error) {
	rec, err := s.GetHostRecord(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperr.New(apperr.KindNotFound, "Host not found: %s", id)
	}
	if err := applyInput(rec, in); err != nil {
		return nil, err
	}
	if err := validateHost(rec); err != nil {
		return nil, err
	}
	if err := s.db.Save(rec).Error; err != nil {
		return nil, fmt.Errorf("update host: %w", err)
	}
	return rec, nil
}

// DeleteHost removes a host. Deleting a missing host is a NotFound error.
func (s *Store) DeleteHost(id string) error {
	res := s.db.Delete(&database.Host{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete host: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "Host not found: %s", id)
	}
	return nil
}

// TouchHost records a successful connection.
func (s *Store) TouchHost(id string) error {
	now := time.Now()
	err := s.db.Model(&database.Host{}).Where("id = ?", id).Updates(map[string]any{
		"last_connected":   now,
		"connection_count": gorm.Expr("connection_count + 1"),
	}).Error
	if err != nil {
		return fmt.Errorf("touch host: %w", err)
	}
	return nil
}

// ImportYAML creates every host listed under the top-level "hosts" key. It
// stops at the first invalid entry; hosts before it stay imported.
func (s *Store) ImportYAML(data []byte) ([]database.Host, error) {
	var f importFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "Invalid hosts file")
	}
	created := make([]database.Host, 0, len(f.Hosts))
	for i, in := range f.Hosts {
		rec, err := s.CreateHost(in)
		if err != nil {
			return created, fmt.Errorf("host #%d: %w", i+1, err)
		}
		created = append(created, *rec)
	}
	log.Printf("[db] imported %d hosts", len(created))
	return created, nil
}

// ImportYAMLFile reads path and imports its hosts.
func (s *Store) ImportYAMLFile(path string) ([]database.Host, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hosts file: %w", err)
	}
	return s.ImportYAML(data)
}

// SaveKey registers a key file. The passphrase is stored encrypted.
func (s *Store) SaveKey(name, path, publicKey, fingerprint, passphrase string) (*database.SSHKey, error) {
	enc, err := crypto.Encrypt(passphrase)
	if err != nil {
		return nil, err
	}
	rec := &database.SSHKey{
		ID:          uuid.New().String(),
		Name:        name,
		Path:        path,
		PublicKey:   strings.TrimSpace(publicKey),
		Fingerprint: fingerprint,
		Passphrase:  enc,
	}
	if err := s.db.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("save key: %w", err)
	}
	return rec, nil
}

func (s *Store) ListKeys() ([]database.SSHKey, error) {
	var keys []database.SSHKey
	if err := s.db.Order("name").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

func applyInput(rec *database.Host, in HostInput) error {
	if in.Label != nil {
		rec.Label = strings.TrimSpace(*in.Label)
	}
	if in.Hostname != nil {
		rec.Hostname = strings.TrimSpace(*in.Hostname)
	}
	if in.Port != nil {
		rec.Port = *in.Port
	}
	if in.Username != nil {
		rec.Username = strings.TrimSpace(*in.Username)
	}
	if in.AuthType != nil {
		rec.AuthType = *in.AuthType
	}
	if in.Password != nil {
		enc, err := crypto.Encrypt(*in.Password)
		if err != nil {
			return err
		}
		rec.Password = enc
	}
	if in.PrivateKeyPath != nil {
		rec.PrivateKeyPath = *in.PrivateKeyPath
	}
	if in.PrivateKeyPassphrase != nil {
		enc, err := crypto.Encrypt(*in.PrivateKeyPassphrase)
		if err != nil {
			return err
		}
		rec.PrivateKeyPassphrase = enc
	}
	if in.KeepAliveInterval != nil {
		rec.KeepAliveInterval = *in.KeepAliveInterval
	}
	if in.ConnectionTimeout != nil {
		rec.ConnectionTimeout = *in.ConnectionTimeout
	}
	if in.Description != nil {
		rec.Description = *in.Description
	}
	if in.Group != nil {
		rec.Group = *in.Group
	}
	if in.Color != nil {
		rec.Color = *in.Color
	}
	if in.Favorite != nil {
		rec.Favorite = *in.Favorite
	}
	return nil
}

func validateHost(rec *database.Host) error {
	if rec.Hostname == "" {
		return apperr.New(apperr.KindValidation, "Hostname is required")
	}
	if rec.Username == "" {
		return apperr.New(apperr.KindValidation, "Username is required")
	}
	if rec.Label == "" {
		rec.Label = rec.Username + "@" + rec.Hostname
	}
	if rec.Port < 1 || rec.Port > 65535 {
		return apperr.New(apperr.KindValidation, "Invalid port %d", rec.Port)
	}
	switch sshmanager.AuthType(rec.AuthType) {
	case sshmanager.AuthPassword, sshmanager.AuthKey, sshmanager.AuthAgent:
	default:
		return apperr.New(apperr.KindValidation, "Unsupported authentication type %q", rec.AuthType)
	}
	if rec.KeepAliveInterval < 0 || rec.ConnectionTimeout < 0 {
		return apperr.New(apperr.KindValidation, "Intervals must not be negative")
	}
	return nil
}
