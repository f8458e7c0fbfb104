package sshmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/gluk-w/teemux/internal/apperr"
	"github.com/gluk-w/teemux/internal/events"
	"github.com/gluk-w/teemux/internal/logutil"
	"github.com/gluk-w/teemux/internal/terminal"
)

const (
	DefaultPort              = 22
	DefaultConnectTimeout    = 30 * time.Second
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultTermType          = "xterm-256color"
)

// ErrDestroyDeferred is wrapped by Disconnect when the session's terminal was
// too young to destroy. The registry retries on its own; callers may retry
// Disconnect as well.
var ErrDestroyDeferred = errors.New("terminal destroy deferred")

// TerminalRegistry is the part of the terminal registry the manager uses.
type TerminalRegistry interface {
	CreateTerminal(sessionID string) string
	AttachStream(terminalID string, stream terminal.Stream) error
	DestroyTerminal(terminalID string) bool
	HasTerminal(terminalID string) bool
}

// Config holds manager-wide defaults. Zero values take the package defaults.
type Config struct {
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	KnownHostsPath    string
	TermType          string
	RateLimit         RateLimitConfig
}

type managedConn struct {
	client *ssh.Client
	hostID string
	cancel context.CancelFunc
}

// SSHManager owns session records and the SSH clients behind them. Clients
// and sessions live in separate maps under separate locks; neither lock is
// held across network I/O.
type SSHManager struct {
	terminals   TerminalRegistry
	cfg         Config
	rateLimiter *RateLimiter

	dial  func(ctx context.Context, network, addr string) (net.Conn, error)
	agent func() (agent.Agent, io.Closer, error)

	mu    sync.Mutex
	conns map[string]*managedConn
	wg    sync.WaitGroup

	sessMu    sync.RWMutex
	sessions  map[string]*Session
	callbacks []StatusCallback

	eventsMu sync.RWMutex
	events   map[string][]ConnectionEvent
}

// NewSSHManager creates a manager that allocates terminals from terminals
// and publishes session status changes to emitter (which may be nil).
func NewSSHManager(terminals TerminalRegistry, emitter events.Emitter, cfg Config) *SSHManager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.TermType == "" {
		cfg.TermType = DefaultTermType
	}

	m := &SSHManager{
		terminals:   terminals,
		cfg:         cfg,
		rateLimiter: NewRateLimiter(cfg.RateLimit),
		dial:        (&net.Dialer{}).DialContext,
		agent:       connectAgent,
		conns:       make(map[string]*managedConn),
		sessions:    make(map[string]*Session),
		events:      make(map[string][]ConnectionEvent),
	}
	if emitter != nil {
		m.OnStatusChange(func(sessionID string, _, to Status, errMsg string) {
			emitter.Emit(events.SessionStatus, events.SessionStatusPayload{SessionID: sessionID, Status: string(to), Error: errMsg})
		})
	}
	return m
}

func newSessionID() string {
	return fmt.Sprintf("session-%d-%s", time.Now().Unix(), uuid.New().String())
}

// Connect authenticates to host, opens a shell and binds it to a new
// terminal. On failure nothing is left registered: no session, no client and
// no terminal.
func (m *SSHManager) Connect(ctx context.Context, host Host, key *SSHKey) (*Session, error) {
	if strings.TrimSpace(host.Hostname) == "" {
		return nil, apperr.New(apperr.KindValidation, "Missing hostname")
	}
	if strings.TrimSpace(host.Username) == "" {
		return nil, apperr.New(apperr.KindValidation, "Missing username")
	}
	port := host.Port
	if port == 0 {
		port = DefaultPort
	}
	if port < 1 || port > 65535 {
		return nil, apperr.New(apperr.KindValidation, "Invalid port %d", port)
	}

	auth, release, err := m.resolveAuth(host, key)
	if err != nil {
		return nil, err
	}
	defer release()

	hostKeyCallback, err := m.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(host.Hostname, strconv.Itoa(port))
	limitKey := host.ID
	if limitKey == "" {
		limitKey = addr
	}
	if err := m.rateLimiter.Allow(limitKey); err != nil {
		m.logEvent(host.ID, "", EventRateLimited, err.Error())
		return nil, apperr.Wrap(apperr.KindConnection, err, "Too many connection attempts to %s", addr)
	}

	sess, err := m.connect(ctx, host, addr, &ssh.ClientConfig{
		User:            host.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
	})
	if err != nil {
		m.rateLimiter.RecordFailure(limitKey)
		m.logEvent(host.ID, "", EventConnectFailed, err.Error())
		return nil, err
	}
	m.rateLimiter.RecordSuccess(limitKey)
	return sess, nil
}

func (m *SSHManager) connect(ctx context.Context, host Host, addr string, clientCfg *ssh.ClientConfig) (*Session, error) {
	timeout := host.ConnectionTimeout
	if timeout <= 0 {
		timeout = m.cfg.ConnectTimeout
	}
	clientCfg.Timeout = timeout

	log.Printf("[ssh] connecting to %s as %s (%s auth)",
		logutil.SanitizeForLog(addr), logutil.SanitizeForLog(host.Username), host.AuthType)

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	netConn, err := m.dial(dialCtx, "tcp", addr)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConnection, err, "TCP connection to %s failed", addr)
	}

	// NewClientConn takes no context: the deadline bounds the handshake and
	// cancellation closes the socket under it.
	netConn.SetDeadline(time.Now().Add(timeout))
	stop := context.AfterFunc(dialCtx, func() { netConn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, clientCfg)
	stopped := stop()
	if err != nil {
		netConn.Close()
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.KindConnection, ctx.Err(), "Connection to %s cancelled", addr)
		}
		return nil, classifyHandshakeError(host.AuthType, err)
	}
	if !stopped {
		sshConn.Close()
		return nil, apperr.Wrap(apperr.KindConnection, dialCtx.Err(), "Connection to %s cancelled", addr)
	}
	netConn.SetDeadline(time.Time{})
	client := ssh.NewClient(sshConn, chans, reqs)

	stream, err := openShell(client, m.cfg.TermType, defaultRows, defaultCols)
	if err != nil {
		client.Close()
		return nil, apperr.Wrap(apperr.KindSSH, err, "Shell setup failed")
	}

	sessionID := newSessionID()
	terminalID := m.terminals.CreateTerminal(sessionID)
	if err := m.terminals.AttachStream(terminalID, stream); err != nil {
		stream.Close()
		client.Close()
		// A fresh terminal is inside its grace period; the registry removes
		// it once the deferred destroy fires.
		m.terminals.DestroyTerminal(terminalID)
		return nil, apperr.Wrap(apperr.KindSession, err, "Terminal attach failed")
	}

	now := time.Now()
	sess := &Session{
		ID:              sessionID,
		HostID:          host.ID,
		TerminalID:      terminalID,
		Status:          StatusConnected,
		CreatedAt:       now,
		StartTime:       now,
		LastActivity:    &now,
		Type:            TypeSSH,
		PortForwardings: []PortForwarding{},
	}
	snapshot := sess.clone()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	m.sessMu.Lock()
	m.sessions[sessionID] = sess
	m.sessMu.Unlock()
	m.mu.Lock()
	m.conns[sessionID] = &managedConn{client: client, hostID: host.ID, cancel: watchCancel}
	m.mu.Unlock()

	interval := host.KeepAliveInterval
	if interval <= 0 {
		interval = m.cfg.KeepaliveInterval
	}
	m.wg.Add(1)
	go m.watch(watchCtx, sessionID, host.ID, client, interval)

	m.notifyStatus(sessionID, StatusConnecting, StatusConnected)
	m.logEvent(host.ID, sessionID, EventConnected, fmt.Sprintf("connected to %s, terminal %s", addr, terminalID))
	return snapshot, nil
}

// watch sends keepalives at interval and notices when the transport drops.
// Either failure ends the session with StatusError.
func (m *SSHManager) watch(ctx context.Context, sessionID, hostID string, client *ssh.Client, interval time.Duration) {
	defer m.wg.Done()

	closed := make(chan error, 1)
	go func() { closed <- client.Wait() }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-closed:
			reason := "connection closed by remote host"
			if err != nil {
				reason = fmt.Sprintf("connection lost: %v", err)
			}
			m.fail(sessionID, hostID, client, EventDisconnected, reason)
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				m.fail(sessionID, hostID, client, EventKeepaliveFailed, fmt.Sprintf("keepalive failed: %v", err))
				return
			}
		}
	}
}

// fail tears down a session whose transport died. It is a no-op when the
// client was already removed by Disconnect or CloseAll.
func (m *SSHManager) fail(sessionID, hostID string, client *ssh.Client, eventType EventType, reason string) {
	m.mu.Lock()
	mc, ok := m.conns[sessionID]
	if !ok || mc.client != client {
		m.mu.Unlock()
		return
	}
	delete(m.conns, sessionID)
	m.mu.Unlock()

	client.Close()
	if sess, ok := m.endSession(sessionID, StatusError, reason); ok {
		m.terminals.DestroyTerminal(sess.TerminalID)
	}
	m.logEvent(hostID, sessionID, eventType, reason)
}

// Disconnect closes the session's transport, marks it disconnected and
// destroys its terminal. If the terminal destroy is deferred the returned
// error wraps ErrDestroyDeferred.
func (m *SSHManager) Disconnect(sessionID string) error {
	m.mu.Lock()
	mc, hadConn := m.conns[sessionID]
	delete(m.conns, sessionID)
	m.mu.Unlock()

	if hadConn {
		mc.cancel()
		if err := mc.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("[ssh] closing client for %s: %v", sessionID, err)
		}
	}

	m.sessMu.RLock()
	s, ok := m.sessions[sessionID]
	var terminalID, hostID string
	if ok {
		terminalID, hostID = s.TerminalID, s.HostID
	}
	m.sessMu.RUnlock()
	if !ok {
		return apperr.New(apperr.KindSession, "Session not found: %s", sessionID)
	}

	if _, changed := m.endSession(sessionID, StatusDisconnected, ""); changed {
		m.logEvent(hostID, sessionID, EventDisconnected, "disconnected by request")
	}

	if m.terminals.HasTerminal(terminalID) && !m.terminals.DestroyTerminal(terminalID) {
		return apperr.Wrap(apperr.KindSession, ErrDestroyDeferred, "Terminal destroy failed for %s", terminalID)
	}
	return nil
}

// CreateSession loads the host from store and connects to it.
func (m *SSHManager) CreateSession(ctx context.Context, store HostStore, hostID string) (*Session, error) {
	host, err := store.GetHost(hostID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSession, err, "Failed to load host %s", hostID)
	}
	if host == nil {
		return nil, apperr.New(apperr.KindNotFound, "Host not found: %s", hostID)
	}

	var key *SSHKey
	if host.AuthType == AuthKey && host.PrivateKeyPath != "" {
		key, err = store.GetSSHKey(host.PrivateKeyPath)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindSession, err, "Failed to load SSH key %s", host.PrivateKeyPath)
		}
	}
	return m.Connect(ctx, *host, key)
}

// EndSession disconnects the session and returns its final record. The
// record is returned even when the terminal destroy was deferred.
func (m *SSHManager) EndSession(sessionID string) (*Session, error) {
	err := m.Disconnect(sessionID)
	if apperr.Is(err, apperr.KindSession) && !errors.Is(err, ErrDestroyDeferred) {
		return nil, err
	}
	sess, _ := m.GetSession(sessionID)
	return sess, err
}

// GetSession returns a copy of the session record.
func (m *SSHManager) GetSession(sessionID string) (*Session, bool) {
	m.sessMu.RLock()
	defer m.sessMu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// GetAllSessions returns copies of all session records, oldest first.
func (m *SSHManager) GetAllSessions() []*Session {
	m.sessMu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.clone())
	}
	m.sessMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// RemoveSession drops an ended session record. Live sessions must be
// disconnected first so their transport is never orphaned.
func (m *SSHManager) RemoveSession(sessionID string) error {
	m.sessMu.Lock()
	defer m.sessMu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return apperr.New(apperr.KindSession, "Session not found: %s", sessionID)
	}
	if !s.Status.ended() {
		return apperr.New(apperr.KindSession, "Session %s is still %s", sessionID, s.Status)
	}
	delete(m.sessions, sessionID)
	return nil
}

// PurgeEnded removes ended sessions whose end time is older than maxAge and
// returns how many were removed.
func (m *SSHManager) PurgeEnded(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.sessMu.Lock()
	defer m.sessMu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.Status.ended() && s.EndTime != nil && s.EndTime.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// TouchByTerminal records activity on the live session bound to terminalID.
func (m *SSHManager) TouchByTerminal(terminalID string) {
	now := time.Now()
	m.sessMu.Lock()
	defer m.sessMu.Unlock()
	for _, s := range m.sessions {
		if s.TerminalID == terminalID && !s.Status.ended() {
			s.LastActivity = &now
			return
		}
	}
}

// ActiveCount returns the number of sessions with a live transport.
func (m *SSHManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// RateLimitStatus reports the connection rate limit state for a host.
func (m *SSHManager) RateLimitStatus(hostID string) RateLimitStatus {
	return m.rateLimiter.GetStatus(hostID)
}

// ResetRateLimit forgets a host's attempts and failures, lifting any block.
func (m *SSHManager) ResetRateLimit(hostID string) {
	m.rateLimiter.Reset(hostID)
	log.Printf("[ssh] rate limit reset for host %s", logutil.SanitizeForLog(hostID))
}

// CloseAll disconnects every live session and waits for the watchers to exit.
// Terminals still inside their grace period are left to the registry.
func (m *SSHManager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Disconnect(id); err != nil && !errors.Is(err, ErrDestroyDeferred) {
			log.Printf("[ssh] closing session %s: %v", id, err)
		}
	}
	m.wg.Wait()
	log.Printf("[ssh] closed %d sessions", len(ids))
}
