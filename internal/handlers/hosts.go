package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/teemux/internal/apperr"
	"github.com/gluk-w/teemux/internal/crypto"
	"github.com/gluk-w/teemux/internal/database"
	"github.com/gluk-w/teemux/internal/storage"
)

const maxImportSize = 1 << 20

// hostResponse is a stored host with its secrets shown masked.
type hostResponse struct {
	database.Host
	PasswordMasked   string `json:"password_masked,omitempty"`
	PassphraseMasked string `json:"private_key_passphrase_masked,omitempty"`
}

func hostView(h database.Host) hostResponse {
	resp := hostResponse{Host: h}
	if pw, err := crypto.Decrypt(h.Password); err == nil {
		resp.PasswordMasked = crypto.Mask(pw)
	}
	if pp, err := crypto.Decrypt(h.PrivateKeyPassphrase); err == nil {
		resp.PassphraseMasked = crypto.Mask(pp)
	}
	return resp
}

func hostViews(hosts []database.Host) []hostResponse {
	out := make([]hostResponse, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, hostView(h))
	}
	return out
}

func ListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := Store.ListHosts()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hostViews(hosts))
}

func GetHost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	host, err := Store.GetHostRecord(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if host == nil {
		writeAppError(w, apperr.New(apperr.KindNotFound, "Host not found: %s", id))
		return
	}
	writeJSON(w, http.StatusOK, hostView(*host))
}

func CreateHost(w http.ResponseWriter, r *http.Request) {
	var in storage.HostInput
	if !decodeJSON(w, r, &in) {
		return
	}
	host, err := Store.CreateHost(in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, hostView(*host))
}

func UpdateHost(w http.ResponseWriter, r *http.Request) {
	var in storage.HostInput
	if !decodeJSON(w, r, &in) {
		return
	}
	host, err := Store.UpdateHost(chi.URLParam(r, "id"), in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	// New credentials get a clean slate after lockouts caused by old ones.
	if in.ChangesCredentials() {
		Sessions.ResetRateLimit(host.ID)
	}
	writeJSON(w, http.StatusOK, hostView(*host))
}

func DeleteHost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := Store.DeleteHost(id); err != nil {
		writeAppError(w, err)
		return
	}
	Sessions.ClearEvents(id)
	w.WriteHeader(http.StatusNoContent)
}

// ImportHosts takes a YAML document with a top-level "hosts" list as the
// request body.
func ImportHosts(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	created, err := Store.ImportYAML(data)
	if err != nil {
		writeJSON(w, statusOf(err), map[string]interface{}{
			"detail":   err.Error(),
			"imported": len(created),
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"imported": len(created),
		"hosts":    created,
	})
}

func GetHostEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		writeJSON(w, http.StatusOK, Sessions.GetRecentEvents(id, n))
		return
	}
	writeJSON(w, http.StatusOK, Sessions.GetEvents(id))
}

func GetHostRateLimit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Sessions.RateLimitStatus(chi.URLParam(r, "id")))
}
