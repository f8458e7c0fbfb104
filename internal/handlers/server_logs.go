package handlers

import (
	"net/http"
	"strconv"

	"github.com/gluk-w/teemux/internal/logging"
)

func GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := 200
	if q := r.URL.Query().Get("lines"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			lines = n
		}
	}

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": content})
}

func ClearServerLogs(w http.ResponseWriter, r *http.Request) {
	if err := logging.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EventsWS streams registry and session events to a websocket client.
func EventsWS(w http.ResponseWriter, r *http.Request) {
	if Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "Event hub not running")
		return
	}
	Hub.ServeWS(w, r)
}
