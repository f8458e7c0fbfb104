package handlers

import (
	"net/http"

	"github.com/gluk-w/teemux/internal/database"
	"github.com/gluk-w/teemux/internal/sshkeys"
)

type generateKeyRequest struct {
	Name       string `json:"name"`
	Comment    string `json:"comment"`
	Passphrase string `json:"passphrase"`
}

func ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := Store.ListKeys()
	if err != nil {
		writeAppError(w, err)
		return
	}
	if keys == nil {
		keys = []database.SSHKey{}
	}
	writeJSON(w, http.StatusOK, keys)
}

// GenerateKey creates an ed25519 key pair under KeysDir and registers it.
func GenerateKey(w http.ResponseWriter, r *http.Request) {
	var req generateKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := CreateKey(KeysDir, req.Name, req.Comment, req.Passphrase)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// CreateKey generates, writes and registers a key pair. It backs both the
// API and the --generate-key command.
func CreateKey(dir, name, comment, passphrase string) (*database.SSHKey, error) {
	if comment == "" {
		comment = name
	}
	kp, err := sshkeys.GenerateKeyPair(comment, passphrase)
	if err != nil {
		return nil, err
	}
	path, err := sshkeys.SaveKeyPair(dir, name, kp)
	if err != nil {
		return nil, err
	}
	return Store.SaveKey(name, path, string(kp.PublicKey), kp.Fingerprint, passphrase)
}
