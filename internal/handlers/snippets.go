package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/teemux/internal/apperr"
	"github.com/gluk-w/teemux/internal/database"
	"github.com/gluk-w/teemux/internal/snippets"
	"github.com/gluk-w/teemux/internal/storage"
)

func ListSnippets(w http.ResponseWriter, r *http.Request) {
	list, err := Store.ListSnippets()
	if err != nil {
		writeAppError(w, err)
		return
	}
	if list == nil {
		list = []database.Snippet{}
	}
	writeJSON(w, http.StatusOK, list)
}

func GetSnippet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sn, err := Store.GetSnippet(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if sn == nil {
		writeAppError(w, apperr.New(apperr.KindNotFound, "Snippet not found: %s", id))
		return
	}
	writeJSON(w, http.StatusOK, sn)
}

func CreateSnippet(w http.ResponseWriter, r *http.Request) {
	var in storage.SnippetInput
	if !decodeJSON(w, r, &in) {
		return
	}
	sn, err := Store.CreateSnippet(in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sn)
}

func UpdateSnippet(w http.ResponseWriter, r *http.Request) {
	var in storage.SnippetInput
	if !decodeJSON(w, r, &in) {
		return
	}
	sn, err := Store.UpdateSnippet(chi.URLParam(r, "id"), in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sn)
}

func DeleteSnippet(w http.ResponseWriter, r *http.Request) {
	if err := Store.DeleteSnippet(chi.URLParam(r, "id")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunSnippet types a stored snippet into a terminal.
func RunSnippet(w http.ResponseWriter, r *http.Request) {
	terminalID := chi.URLParam(r, "id")
	snippetID := chi.URLParam(r, "snippetId")
	sn, err := Store.GetSnippet(snippetID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if sn == nil {
		writeAppError(w, apperr.New(apperr.KindNotFound, "Snippet not found: %s", snippetID))
		return
	}
	if err := snippets.Run(Terminals, terminalID, *sn); err != nil {
		writeAppError(w, err)
		return
	}
	Sessions.TouchByTerminal(terminalID)
	w.WriteHeader(http.StatusNoContent)
}
