package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"

	"golang.org/x/crypto/ssh"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// KeyPair is a freshly generated key.
type KeyPair struct {
	PrivateKeyPEM []byte
	PublicKey     []byte // authorized_keys format
	Fingerprint   string
}

// GenerateKeyPair creates an ED25519 key pair. A non-empty passphrase
// encrypts the private key.
func GenerateKeyPair(comment, passphrase string) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	var block *pem.Block
	if passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, comment, []byte(passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(priv, comment)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("create ssh public key: %w", err)
	}

	return &KeyPair{
		PrivateKeyPEM: pem.EncodeToMemory(block),
		PublicKey:     ssh.MarshalAuthorizedKey(sshPub),
		Fingerprint:   ssh.FingerprintSHA256(sshPub),
	}, nil
}

// SaveKeyPair writes name and name.pub into dir and returns the private key
// path. Existing files are never overwritten.
func SaveKeyPair(dir, name string, kp *KeyPair) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("invalid key name %q", name)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create key directory: %w", err)
	}

	privPath := filepath.Join(dir, name)
	f, err := os.OpenFile(privPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("create private key: %w", err)
	}
	if _, err := f.Write(kp.PrivateKeyPEM); err != nil {
		f.Close()
		os.Remove(privPath)
		return "", fmt.Errorf("write private key: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close private key: %w", err)
	}

	if err := os.WriteFile(privPath+".pub", kp.PublicKey, 0644); err != nil {
		os.Remove(privPath)
		return "", fmt.Errorf("write public key: %w", err)
	}

	log.Printf("[keys] key pair %s saved to %s", kp.Fingerprint, dir)
	return privPath, nil
}

// Fingerprint returns the SHA256 fingerprint of an authorized_keys line.
func Fingerprint(authorizedKey []byte) (string, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey(authorizedKey)
	if err != nil {
		return "", fmt.Errorf("parse public key: %w", err)
	}
	return ssh.FingerprintSHA256(pub), nil
}

// ParsePrivateKey parses a private key, decrypting it when passphrase is set.
func ParsePrivateKey(privateKeyPEM []byte, passphrase string) (ssh.Signer, error) {
	var (
		signer ssh.Signer
		err    error
	)
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(privateKeyPEM, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(privateKeyPEM)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}
