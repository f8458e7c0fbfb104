package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gluk-w/teemux/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:     http.StatusBadRequest,
	apperr.KindConnection:     http.StatusBadGateway,
	apperr.KindAuthentication: http.StatusUnauthorized,
	apperr.KindSSH:            http.StatusBadGateway,
	apperr.KindSession:        http.StatusConflict,
	apperr.KindIO:             http.StatusInternalServerError,
	apperr.KindNotFound:       http.StatusNotFound,
}

// statusOf returns the HTTP status for err's kind. Errors without a kind are
// internal.
func statusOf(err error) int {
	if status, ok := kindStatus[apperr.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeAppError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, statusOf(err), map[string]string{"detail": err.Error(), "kind": string(ae.Kind)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
