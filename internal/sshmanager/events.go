package sshmanager

import (
	"log"
	"time"

	"github.com/gluk-w/teemux/internal/logutil"
)

// EventType identifies the type of connection event.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventConnectFailed   EventType = "connect_failed"
	EventDisconnected    EventType = "disconnected"
	EventKeepaliveFailed EventType = "keepalive_failed"
	EventSFTPEnabled     EventType = "sftp_enabled"
	EventRateLimited     EventType = "rate_limited"
)

// ConnectionEvent is one entry in a host's connection history.
type ConnectionEvent struct {
	HostID    string    `json:"host_id"`
	SessionID string    `json:"session_id,omitempty"`
	Type      EventType `json:"type"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// maxEventsPerHost limits the number of stored events per host.
const maxEventsPerHost = 100

// logEvent records a connection event in the host's ring buffer and writes it
// to the standard logger.
func (m *SSHManager) logEvent(hostID, sessionID string, eventType EventType, details string) {
	event := ConnectionEvent{
		HostID:    hostID,
		SessionID: sessionID,
		Type:      eventType,
		Details:   details,
		Timestamp: time.Now(),
	}

	m.eventsMu.Lock()
	events := append(m.events[hostID], event)
	if len(events) > maxEventsPerHost {
		events = events[len(events)-maxEventsPerHost:]
	}
	m.events[hostID] = events
	m.eventsMu.Unlock()

	log.Printf("[ssh] event %s/%s: %s", logutil.SanitizeForLog(hostID), eventType, logutil.SanitizeForLog(details))
}

// GetEvents returns all stored connection events for the given host.
func (m *SSHManager) GetEvents(hostID string) []ConnectionEvent {
	m.eventsMu.RLock()
	defer m.eventsMu.RUnlock()
	events := m.events[hostID]
	result := make([]ConnectionEvent, len(events))
	copy(result, events)
	return result
}

// GetRecentEvents returns the most recent n events for the given host.
func (m *SSHManager) GetRecentEvents(hostID string, n int) []ConnectionEvent {
	m.eventsMu.RLock()
	defer m.eventsMu.RUnlock()
	events := m.events[hostID]
	if len(events) > n {
		events = events[len(events)-n:]
	}
	result := make([]ConnectionEvent, len(events))
	copy(result, events)
	return result
}

// ClearEvents removes all stored events for the given host.
func (m *SSHManager) ClearEvents(hostID string) {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	delete(m.events, hostID)
}
