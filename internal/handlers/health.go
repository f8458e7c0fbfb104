package handlers

import (
	"net/http"

	"github.com/gluk-w/teemux/internal/database"
	"github.com/gluk-w/teemux/internal/orchestrator"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	execBackend := "none"
	if b := orchestrator.Get(); b != nil {
		execBackend = b.BackendName()
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	resp := map[string]interface{}{
		"status":       status,
		"database":     dbStatus,
		"exec_backend": execBackend,
	}
	if Sessions != nil {
		resp["active_sessions"] = Sessions.ActiveCount()
	}
	if Terminals != nil {
		resp["terminals"] = Terminals.Count()
	}
	if Hub != nil {
		resp["event_subscribers"] = Hub.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
