// Package handlers exposes hosts, keys, snippets, sessions and terminals
// over HTTP. The package-level managers are set once at startup.
package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/teemux/internal/events"
	"github.com/gluk-w/teemux/internal/snippets"
	"github.com/gluk-w/teemux/internal/sshmanager"
	"github.com/gluk-w/teemux/internal/storage"
	"github.com/gluk-w/teemux/internal/terminal"
)

var (
	Terminals *terminal.Manager
	Sessions  *sshmanager.SSHManager
	Store     *storage.Store
	Hub       *events.Hub

	// KeysDir is where generated keys are written.
	KeysDir string
	// LocalShell overrides $SHELL for local terminals.
	LocalShell string
	// SnippetDelay separates snippets run on connect.
	SnippetDelay = snippets.DefaultDelay
)

// RegisterRoutes mounts the API under /api/v1 and the health check.
func RegisterRoutes(r chi.Router) {
	r.Get("/health", HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/logs", GetServerLogs)
		r.Delete("/logs", ClearServerLogs)
		r.Get("/events", EventsWS)

		r.Get("/hosts", ListHosts)
		r.Post("/hosts", CreateHost)
		r.Post("/hosts/import", ImportHosts)
		r.Get("/hosts/{id}", GetHost)
		r.Put("/hosts/{id}", UpdateHost)
		r.Delete("/hosts/{id}", DeleteHost)
		r.Get("/hosts/{id}/events", GetHostEvents)
		r.Get("/hosts/{id}/ratelimit", GetHostRateLimit)

		r.Get("/keys", ListKeys)
		r.Post("/keys", GenerateKey)

		r.Get("/sessions", ListSessions)
		r.Post("/sessions", CreateSession)
		r.Get("/sessions/{id}", GetSession)
		r.Delete("/sessions/{id}", DeleteSession)
		r.Post("/sessions/{id}/end", EndSession)
		r.Post("/sessions/{id}/sftp", EnableSFTP)

		r.Get("/terminals", ListTerminals)
		r.Post("/terminals/local", CreateLocalTerminal)
		r.Post("/terminals/exec", CreateExecTerminal)
		r.Post("/terminals/{id}/data", SendTerminalData)
		r.Post("/terminals/{id}/resize", ResizeTerminal)
		r.Delete("/terminals/{id}", CloseTerminal)
		r.Post("/terminals/{id}/snippets/{snippetId}", RunSnippet)

		r.Get("/snippets", ListSnippets)
		r.Post("/snippets", CreateSnippet)
		r.Get("/snippets/{id}", GetSnippet)
		r.Put("/snippets/{id}", UpdateSnippet)
		r.Delete("/snippets/{id}", DeleteSnippet)
	})
}
