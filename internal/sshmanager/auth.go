package sshmanager

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gluk-w/teemux/internal/apperr"
)

// resolveAuth picks the single auth method for the host's AuthType. It only
// touches local resources (key files, the agent socket), so every
// missing-credential error surfaces before a connection is attempted. The
// returned release func must be called once the handshake is over.
func (m *SSHManager) resolveAuth(host Host, key *SSHKey) ([]ssh.AuthMethod, func(), error) {
	noop := func() {}

	switch host.AuthType {
	case AuthPassword:
		if host.Password == "" {
			return nil, noop, apperr.New(apperr.KindValidation, "Missing password")
		}
		password := host.Password
		answer := func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(password), ssh.KeyboardInteractive(answer)}, noop, nil

	case AuthKey:
		signer, err := loadSigner(host, key)
		if err != nil {
			return nil, noop, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, noop, nil

	case AuthAgent:
		ag, closer, err := m.agent()
		if err != nil {
			return nil, noop, apperr.Wrap(apperr.KindAuthentication, err, "SSH agent unavailable")
		}
		release := func() {
			if closer != nil {
				closer.Close()
			}
		}
		return []ssh.AuthMethod{ssh.PublicKeysCallback(ag.Signers)}, release, nil

	case "":
		return nil, noop, apperr.New(apperr.KindValidation, "Missing authentication type")
	default:
		return nil, noop, apperr.New(apperr.KindValidation, "Unsupported authentication type %q", host.AuthType)
	}
}

// loadSigner reads and parses the private key. Explicit key material takes
// precedence over the path stored on the host; the passphrase follows the
// same order.
func loadSigner(host Host, key *SSHKey) (ssh.Signer, error) {
	var pemBytes []byte
	path := host.PrivateKeyPath
	passphrase := host.PrivateKeyPassphrase
	if key != nil {
		if key.Path != "" {
			path = key.Path
		}
		if key.Passphrase != "" {
			passphrase = key.Passphrase
		}
		pemBytes = key.PEM
	}

	if len(pemBytes) == 0 {
		if path == "" {
			return nil, apperr.New(apperr.KindValidation, "Missing private key")
		}
		data, err := os.ReadFile(expandHome(path))
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, err, "Cannot read private key %s", path)
		}
		pemBytes = data
	}

	var (
		signer ssh.Signer
		err    error
	)
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pemBytes)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, apperr.New(apperr.KindValidation, "Private key is encrypted and no passphrase was supplied")
		}
		return nil, apperr.Wrap(apperr.KindAuthentication, err, "Invalid private key")
	}
	return signer, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// hostKeyCallback verifies against the configured known_hosts file, or
// accepts any key when none is configured.
func (m *SSHManager) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if m.cfg.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(expandHome(m.cfg.KnownHostsPath))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSSH, err, "Cannot load known hosts %s", m.cfg.KnownHostsPath)
	}
	return cb, nil
}

// classifyHandshakeError maps an ssh.NewClientConn failure to an error kind
// and message.
func classifyHandshakeError(authType AuthType, err error) error {
	var keyErr *knownhosts.KeyError
	switch {
	case errors.As(err, &keyErr):
		if len(keyErr.Want) > 0 {
			return apperr.Wrap(apperr.KindSSH, err, "Host key mismatch")
		}
		return apperr.Wrap(apperr.KindSSH, err, "Host key unknown")
	case strings.Contains(err.Error(), "unable to authenticate"):
		return apperr.Wrap(apperr.KindSSH, err, "%s auth failed", authLabel(authType))
	case isTimeout(err):
		return apperr.Wrap(apperr.KindSSH, err, "SSH handshake timed out")
	default:
		return apperr.Wrap(apperr.KindSSH, err, "SSH handshake failed")
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func authLabel(t AuthType) string {
	switch t {
	case AuthPassword:
		return "Password"
	case AuthKey:
		return "Key"
	case AuthAgent:
		return "Agent"
	}
	return string(t)
}
