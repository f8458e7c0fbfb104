// Package terminal implements the terminal registry: it allocates terminal
// ids, owns the stream attached to each one, pumps inbound bytes to the event
// emitter and serializes writes from callers.
package terminal

import (
	"errors"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/gluk-w/teemux/internal/apperr"
	"github.com/gluk-w/teemux/internal/events"
)

const (
	// DefaultGracePeriod is the minimum age a terminal must reach before it
	// can be destroyed immediately.
	DefaultGracePeriod = time.Second

	// DefaultReadChunkSize is the size of each read from an attached stream.
	DefaultReadChunkSize = 1024
)

var (
	ErrNotFound          = errors.New("terminal not found")
	ErrStreamNotAttached = errors.New("terminal stream not initialized")
	ErrAlreadyAttached   = errors.New("terminal stream already attached")
)

// Config controls registry timing.
type Config struct {
	// GracePeriod is how long after creation a destroy request is deferred.
	GracePeriod time.Duration
	// RetryDelay is how long a deferred destroy waits before retrying.
	// Defaults to GracePeriod.
	RetryDelay time.Duration
	// ReadChunkSize is the read buffer size of each pump.
	ReadChunkSize int
}

type entry struct {
	id        string
	sessionID string
	createdAt time.Time
	stream    Stream

	writeMu  sync.Mutex
	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

// Info is a point-in-time view of a terminal.
type Info struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Attached  bool      `json:"attached"`
	BytesIn   int64     `json:"bytes_in"`
	BytesOut  int64     `json:"bytes_out"`
}

// Manager is the terminal registry. A single mutex guards the terminal map;
// it is held only for lookups and mutations, never across stream I/O or
// event emission.
type Manager struct {
	emitter events.Emitter
	cfg     Config
	now     func() time.Time

	mu        sync.Mutex
	terminals map[string]*entry
	pending   map[string]*time.Timer
	stopped   bool

	pumps sync.WaitGroup
}

// NewManager creates a registry that reports to emitter.
func NewManager(emitter events.Emitter, cfg Config) *Manager {
	if emitter == nil {
		emitter = events.Discard
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = cfg.GracePeriod
	}
	if cfg.ReadChunkSize <= 0 {
		cfg.ReadChunkSize = DefaultReadChunkSize
	}
	return &Manager{
		emitter:   emitter,
		cfg:       cfg,
		now:       time.Now,
		terminals: make(map[string]*entry),
		pending:   make(map[string]*time.Timer),
	}
}

// CreateTerminal allocates a new terminal with no stream attached.
func (m *Manager) CreateTerminal(sessionID string) string {
	id := "terminal-" + uuid.New().String()
	e := &entry{id: id, sessionID: sessionID, createdAt: m.now()}

	m.mu.Lock()
	m.terminals[id] = e
	m.mu.Unlock()

	log.Printf("[terminal] created %s for session %s", id, sessionID)
	m.emitter.Emit(events.TerminalCreated, events.TerminalCreatedPayload{TerminalID: id, SessionID: sessionID})
	return id
}

// AttachStream hands stream to the terminal and starts its read pump. A
// terminal accepts exactly one stream; later attempts fail with
// ErrAlreadyAttached and leave the caller owning the rejected stream.
func (m *Manager) AttachStream(terminalID string, stream Stream) error {
	m.mu.Lock()
	e, ok := m.terminals[terminalID]
	if !ok {
		m.mu.Unlock()
		return apperr.Wrap(apperr.KindNotFound, ErrNotFound, "Terminal not found with ID: %s", terminalID)
	}
	if e.stream != nil {
		m.mu.Unlock()
		return apperr.Wrap(apperr.KindSession, ErrAlreadyAttached, "Terminal %s already has a stream", terminalID)
	}
	e.stream = stream
	m.pumps.Add(1)
	m.mu.Unlock()

	go m.pump(e)
	log.Printf("[terminal] stream attached to %s", terminalID)
	return nil
}

// current reports whether e is still the registered entry for its id.
func (m *Manager) current(e *entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminals[e.id] == e
}

// pump drains the attached stream until it closes, fails or the terminal is
// destroyed. Destroying the terminal closes the stream, which unblocks the
// pending Read; the pump then sees the entry gone and exits quietly.
func (m *Manager) pump(e *entry) {
	defer m.pumps.Done()

	// The UTF-8 decoder holds back runes split across reads and replaces
	// invalid sequences with U+FFFD.
	r := transform.NewReader(emptyReadEOF{e.stream}, unicode.UTF8.NewDecoder())
	buf := make([]byte, m.cfg.ReadChunkSize)

	for m.current(e) {
		n, err := r.Read(buf)
		if n > 0 {
			e.bytesIn.Add(int64(n))
			// Output that raced a destroy is dropped.
			if !m.current(e) {
				break
			}
			m.emitter.Emit(events.TerminalData, events.TerminalDataPayload{TerminalID: e.id, Data: string(buf[:n])})
		}
		if err != nil {
			if errors.Is(err, io.EOF) || !m.current(e) {
				log.Printf("[terminal] stream for %s closed", e.id)
			} else {
				log.Printf("[terminal] read from %s failed: %v", e.id, err)
				m.emitter.Emit(events.TerminalError, events.TerminalErrorPayload{TerminalID: e.id, Error: err.Error()})
			}
			break
		}
	}
	m.emitter.Emit(events.TerminalStreamClosed, events.TerminalPayload{TerminalID: e.id})
}

// emptyReadEOF reports a zero-length read as the end of the stream. The
// decoder would otherwise keep calling Read on a stream that returns (0, nil).
type emptyReadEOF struct {
	r io.Reader
}

func (z emptyReadEOF) Read(p []byte) (int, error) {
	n, err := z.r.Read(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

func (m *Manager) lookupAttached(terminalID string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.terminals[terminalID]
	if !ok {
		return nil, apperr.Wrap(apperr.KindNotFound, ErrNotFound, "Terminal not found with ID: %s", terminalID)
	}
	if e.stream == nil {
		return nil, apperr.Wrap(apperr.KindNotFound, ErrStreamNotAttached, "Terminal stream not initialized for %s", terminalID)
	}
	return e, nil
}

// SendData writes data to the terminal's stream and flushes it. Writes to
// the same terminal are serialized; writes to different terminals are not
// ordered with respect to each other and never wait on one another.
func (m *Manager) SendData(terminalID string, data []byte) error {
	e, err := m.lookupAttached(terminalID)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	err = writeAll(e.stream, data)
	e.writeMu.Unlock()

	if err != nil {
		if !m.current(e) {
			return apperr.Wrap(apperr.KindNotFound, ErrNotFound, "Terminal %s was destroyed during write", terminalID)
		}
		log.Printf("[terminal] write to %s failed: %v", terminalID, err)
		m.emitter.Emit(events.TerminalError, events.TerminalErrorPayload{TerminalID: terminalID, Error: err.Error()})
		return apperr.Wrap(apperr.KindIO, err, "Write to terminal %s failed", terminalID)
	}

	e.bytesOut.Add(int64(len(data)))
	m.emitter.Emit(events.TerminalData, events.TerminalDataPayload{TerminalID: terminalID, Data: string(data)})
	return nil
}

func writeAll(s Stream, data []byte) error {
	for len(data) > 0 {
		n, err := s.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	if f, ok := s.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// ResizeTerminal forwards a window size change. Resizing a terminal with no
// stream yet is a no-op.
func (m *Manager) ResizeTerminal(terminalID string, rows, cols uint16) error {
	m.mu.Lock()
	e, ok := m.terminals[terminalID]
	var stream Stream
	if ok {
		stream = e.stream
	}
	m.mu.Unlock()

	if !ok {
		return apperr.Wrap(apperr.KindNotFound, ErrNotFound, "Terminal not found with ID: %s", terminalID)
	}
	if stream == nil {
		return nil
	}
	if err := stream.SetWindowSize(rows, cols); err != nil {
		return apperr.Wrap(apperr.KindIO, err, "Resize of terminal %s failed", terminalID)
	}
	return nil
}

// DestroyTerminal removes the terminal and closes its stream. Terminals
// younger than the grace period are left in place: false is returned and a
// retry is scheduled. It returns true only when this call destroyed the
// terminal.
func (m *Manager) DestroyTerminal(terminalID string) bool {
	m.mu.Lock()
	e, ok := m.terminals[terminalID]
	if !ok {
		m.mu.Unlock()
		log.Printf("[terminal] destroy: %s not found", terminalID)
		return false
	}

	if age := m.now().Sub(e.createdAt); age < m.cfg.GracePeriod && !m.stopped {
		if _, scheduled := m.pending[terminalID]; !scheduled {
			m.pending[terminalID] = time.AfterFunc(m.cfg.RetryDelay, func() { m.retryDestroy(terminalID) })
		}
		m.mu.Unlock()
		log.Printf("[terminal] destroy of %s deferred (age %s < %s)", terminalID, age.Round(time.Millisecond), m.cfg.GracePeriod)
		return false
	}

	delete(m.terminals, terminalID)
	if t, scheduled := m.pending[terminalID]; scheduled {
		t.Stop()
		delete(m.pending, terminalID)
	}
	m.mu.Unlock()

	m.closeEntry(e)
	m.emitter.Emit(events.TerminalDestroyed, events.TerminalPayload{TerminalID: terminalID})
	return true
}

func (m *Manager) retryDestroy(terminalID string) {
	m.mu.Lock()
	delete(m.pending, terminalID)
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return
	}
	log.Printf("[terminal] retrying deferred destroy of %s", terminalID)
	m.DestroyTerminal(terminalID)
}

func (m *Manager) closeEntry(e *entry) {
	if e.stream != nil {
		if err := e.stream.Close(); err != nil && !errors.Is(err, io.EOF) {
			log.Printf("[terminal] close stream of %s: %v", e.id, err)
		}
	}
	log.Printf("[terminal] destroyed %s (in %s, out %s)", e.id,
		units.HumanSize(float64(e.bytesIn.Load())), units.HumanSize(float64(e.bytesOut.Load())))
}

// HasTerminal reports whether terminalID is registered.
func (m *Manager) HasTerminal(terminalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.terminals[terminalID]
	return ok
}

func (e *entry) info() Info {
	return Info{
		ID:        e.id,
		SessionID: e.sessionID,
		CreatedAt: e.createdAt,
		Attached:  e.stream != nil,
		BytesIn:   e.bytesIn.Load(),
		BytesOut:  e.bytesOut.Load(),
	}
}

// Get returns a snapshot of one terminal.
func (m *Manager) Get(terminalID string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.terminals[terminalID]
	if !ok {
		return Info{}, false
	}
	return e.info(), true
}

// List returns snapshots of all terminals, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.terminals))
	for _, e := range m.terminals {
		out = append(out, e.info())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Count returns the number of registered terminals.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.terminals)
}

// Stop cancels pending destroy retries, destroys every terminal regardless
// of age and waits for the read pumps to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	for id, t := range m.pending {
		t.Stop()
		delete(m.pending, id)
	}
	all := make([]*entry, 0, len(m.terminals))
	for id, e := range m.terminals {
		all = append(all, e)
		delete(m.terminals, id)
	}
	m.mu.Unlock()

	for _, e := range all {
		m.closeEntry(e)
		m.emitter.Emit(events.TerminalDestroyed, events.TerminalPayload{TerminalID: e.id})
	}
	m.pumps.Wait()
	log.Printf("[terminal] registry stopped (%d terminals closed)", len(all))
}
