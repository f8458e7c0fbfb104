package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/teemux/internal/apperr"
	"github.com/gluk-w/teemux/internal/database"
	"github.com/gluk-w/teemux/internal/snippets"
	"github.com/gluk-w/teemux/internal/sshmanager"
)

type createSessionRequest struct {
	HostID     string   `json:"host_id"`
	SnippetIDs []string `json:"snippet_ids"`
}

func ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Sessions.GetAllSessions())
}

// CreateSession connects to a stored host. The connect runs on the request
// context, so a client that goes away cancels the attempt. The listed
// snippets marked run_on_connect are typed into the new terminal afterwards.
func CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.HostID) == "" {
		writeAppError(w, apperr.New(apperr.KindValidation, "host_id is required"))
		return
	}
	onConnect, err := Store.GetSnippets(req.SnippetIDs)
	if err != nil {
		writeAppError(w, err)
		return
	}

	sess, err := Sessions.CreateSession(r.Context(), Store, req.HostID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := Store.TouchHost(req.HostID); err != nil {
		log.Printf("[session-mgr] %v", err)
	}
	if len(onConnect) > 0 {
		go runOnConnect(sess.TerminalID, onConnect)
	}
	writeJSON(w, http.StatusCreated, sess)
}

func runOnConnect(terminalID string, list []database.Snippet) {
	n, err := snippets.RunOnConnect(context.Background(), Terminals, terminalID, list, SnippetDelay)
	if err != nil {
		log.Printf("[snippets] on-connect run in %s stopped after %d: %v", terminalID, n, err)
		return
	}
	if n > 0 {
		Sessions.TouchByTerminal(terminalID)
	}
}

func GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := Sessions.GetSession(id)
	if !ok {
		writeAppError(w, apperr.New(apperr.KindNotFound, "Session not found: %s", id))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// EndSession disconnects a session. A deferred terminal destroy still ends
// the session; it is reported with 202 so the client knows the terminal
// lingers briefly.
func EndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := Sessions.EndSession(chi.URLParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sess)
	case errors.Is(err, sshmanager.ErrDestroyDeferred):
		writeJSON(w, http.StatusAccepted, sess)
	default:
		writeAppError(w, err)
	}
}

// DeleteSession removes an ended session record.
func DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := Sessions.RemoveSession(chi.URLParam(r, "id")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func EnableSFTP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := Sessions.EnableSFTP(id); err != nil {
		writeAppError(w, err)
		return
	}
	sess, _ := Sessions.GetSession(id)
	writeJSON(w, http.StatusOK, sess)
}
