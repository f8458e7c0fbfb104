package sshmanager

import "time"

// StatusCallback is invoked after a session changes status.
type StatusCallback func(sessionID string, from, to Status, errMsg string)

// OnStatusChange registers a callback that fires on every status change.
// Callbacks run outside the manager's locks.
func (m *SSHManager) OnStatusChange(cb StatusCallback) {
	m.sessMu.Lock()
	defer m.sessMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// endSession moves a live session to an ended status. Sessions that are
// already ended are never mutated again; ok is false for them and for
// unknown ids.
func (m *SSHManager) endSession(sessionID string, to Status, errMsg string) (sess *Session, ok bool) {
	m.sessMu.Lock()
	s, found := m.sessions[sessionID]
	if !found || s.Status.ended() {
		m.sessMu.Unlock()
		return nil, false
	}
	from := s.Status
	now := time.Now()
	s.Status = to
	s.EndTime = &now
	s.Error = errMsg
	snapshot := s.clone()
	cbs := append([]StatusCallback(nil), m.callbacks...)
	m.sessMu.Unlock()

	for _, cb := range cbs {
		cb(sessionID, from, to, errMsg)
	}
	return snapshot, true
}

func (m *SSHManager) notifyStatus(sessionID string, from, to Status) {
	m.sessMu.RLock()
	cbs := append([]StatusCallback(nil), m.callbacks...)
	m.sessMu.RUnlock()
	for _, cb := range cbs {
		cb(sessionID, from, to, "")
	}
}
