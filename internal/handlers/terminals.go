package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/teemux/internal/apperr"
	"github.com/gluk-w/teemux/internal/orchestrator"
	"github.com/gluk-w/teemux/internal/terminal"
)

type terminalDataRequest struct {
	Data string `json:"data"`
}

type resizeRequest struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

type localTerminalRequest struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

func ListTerminals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Terminals.List())
}

func SendTerminalData(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req terminalDataRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := Terminals.SendData(id, []byte(req.Data)); err != nil {
		writeAppError(w, err)
		return
	}
	Sessions.TouchByTerminal(id)
	w.WriteHeader(http.StatusNoContent)
}

func ResizeTerminal(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Rows == 0 || req.Cols == 0 {
		writeAppError(w, apperr.New(apperr.KindValidation, "rows and cols must be positive"))
		return
	}
	if err := Terminals.ResizeTerminal(chi.URLParam(r, "id"), req.Rows, req.Cols); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseTerminal destroys a terminal. Inside the grace period the destroy is
// deferred and 202 is returned.
func CloseTerminal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !Terminals.HasTerminal(id) {
		writeAppError(w, apperr.New(apperr.KindNotFound, "Terminal not found with ID: %s", id))
		return
	}
	if Terminals.DestroyTerminal(id) {
		writeJSON(w, http.StatusOK, map[string]bool{"destroyed": true})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"destroyed": false})
}

func CreateLocalTerminal(w http.ResponseWriter, r *http.Request) {
	req := localTerminalRequest{Rows: 24, Cols: 80}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	pty, err := terminal.StartLocalShell(LocalShell, req.Rows, req.Cols)
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindIO, err, "Local shell failed to start"))
		return
	}
	attachNewTerminal(w, pty)
}

func CreateExecTerminal(w http.ResponseWriter, r *http.Request) {
	backend := orchestrator.Get()
	if backend == nil {
		writeAppError(w, apperr.New(apperr.KindSession, "No container exec backend available"))
		return
	}
	var req orchestrator.ExecRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Target) == "" {
		writeAppError(w, apperr.New(apperr.KindValidation, "target is required"))
		return
	}
	req.Normalize()

	stream, err := backend.ExecInteractive(r.Context(), req.Target, req.Command, req.Rows, req.Cols)
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindConnection, err, "%s exec in %s failed", backend.BackendName(), req.Target))
		return
	}
	attachNewTerminal(w, stream)
}

// attachNewTerminal registers stream under a terminal with no session.
func attachNewTerminal(w http.ResponseWriter, stream terminal.Stream) {
	id := Terminals.CreateTerminal("")
	if err := Terminals.AttachStream(id, stream); err != nil {
		stream.Close()
		Terminals.DestroyTerminal(id)
		writeAppError(w, err)
		return
	}
	info, _ := Terminals.Get(id)
	writeJSON(w, http.StatusCreated, info)
}
