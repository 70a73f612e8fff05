// Package progress tracks the live state of an enrichment job.
//
// A Session is the single mutable record for one job. Every mutation happens
// under the session mutex and observers are notified before the lock is
// released, so any stream of snapshots an observer sees is totally ordered.
// Percent and processed-batch counters only move forward, and the phase moves
// queued -> running -> complete|error exactly once.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle state of a session.
type Phase string

const (
	PhaseQueued   Phase = "queued"
	PhaseRunning  Phase = "running"
	PhaseComplete Phase = "complete"
	PhaseError    Phase = "error"
)

// Terminal reports whether no further transitions are allowed.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// StopMessage is the message set when a caller stops a job.
const StopMessage = "Stopped by user"

// DefaultMaxLogEntries bounds the session log; the oldest entries are dropped.
const DefaultMaxLogEntries = 1000

// Counters are the job's batch and item tallies.
type Counters struct {
	ProcessedBatches int `json:"processed_batches" yaml:"processed_batches"`
	TotalBatches     int `json:"total_batches" yaml:"total_batches"`
	FixedCount       int `json:"fixed_count" yaml:"fixed_count"`
	ErrorCount       int `json:"error_count" yaml:"error_count"`
}

// LogEntry is one timestamped log line.
type LogEntry struct {
	Time    time.Time `json:"time" yaml:"time"`
	Message string    `json:"message" yaml:"message"`
}

// Snapshot is an immutable copy of a session's state.
type Snapshot struct {
	ID              string     `json:"id" yaml:"id"`
	Phase           Phase      `json:"phase" yaml:"phase"`
	ProgressPercent int        `json:"progress_percent" yaml:"progress_percent"`
	Message         string     `json:"message" yaml:"message"`
	Counters        Counters   `json:"counters" yaml:"counters"`
	Log             []LogEntry `json:"log" yaml:"log"`
	CreatedAt       time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Observer receives a snapshot after every mutation. Observe is called with
// the session lock held and must not call back into the session.
type Observer interface {
	Observe(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

// Observe calls f.
func (f ObserverFunc) Observe(s Snapshot) { f(s) }

// Session is the progress record of one job. Safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id        string
	phase     Phase
	percent   int
	message   string
	counters  Counters
	log       []LogEntry
	createdAt time.Time
	updatedAt time.Time

	maxLog    int
	observers []Observer
	now       func() time.Time
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithObservers attaches observers at creation.
func WithObservers(obs ...Observer) SessionOption {
	return func(s *Session) { s.observers = append(s.observers, obs...) }
}

// WithMaxLogEntries bounds the log. Non-positive values keep the default.
func WithMaxLogEntries(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.maxLog = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession creates a queued session. An empty id gets a random UUID.
func NewSession(id string, opts ...SessionOption) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	s := &Session{
		id:     id,
		phase:  PhaseQueued,
		maxLog: DefaultMaxLogEntries,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.createdAt = s.now()
	s.updatedAt = s.createdAt
	s.message = "Queued"
	return s
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Subscribe attaches an observer. It immediately receives the current state.
func (s *Session) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
	o.Observe(s.snapshotLocked())
}

// Start moves a queued session to running. Returns false if the session was
// not queued.
func (s *Session) Start(msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseQueued {
		return false
	}
	s.phase = PhaseRunning
	s.setMessageLocked(msg)
	s.changedLocked()
	return true
}

// SetTotalBatches records the number of chunks the job will process.
func (s *Session) SetTotalBatches(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() || n < 0 {
		return
	}
	s.counters.TotalBatches = n
	s.changedLocked()
}

// SetProgress raises the percentage and sets the message. Lower percentages
// are ignored so progress never moves backwards.
func (s *Session) SetProgress(percent int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return
	}
	s.raiseLocked(percent)
	s.setMessageLocked(msg)
	s.changedLocked()
}

// AddProcessed adds n completed batches, raises the percentage and appends msg
// to the log.
func (s *Session) AddProcessed(n, percent int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return
	}
	if n > 0 {
		s.counters.ProcessedBatches += n
	}
	s.raiseLocked(percent)
	s.setMessageLocked(msg)
	s.appendLogLocked(msg)
	s.changedLocked()
}

// AddFixed adds n to the count of items recovered after a failure.
func (s *Session) AddFixed(n int) {
	s.addCounter(&s.counters.FixedCount, n)
}

// AddErrors adds n to the count of failed batches.
func (s *Session) AddErrors(n int) {
	s.addCounter(&s.counters.ErrorCount, n)
}

func (s *Session) addCounter(c *int, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() || n <= 0 {
		return
	}
	*c += n
	s.changedLocked()
}

// Log appends a line to the session log.
func (s *Session) Log(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return
	}
	s.appendLogLocked(msg)
	s.changedLocked()
}

// Complete moves the session to complete at 100%. Returns false if the
// session was already terminal.
func (s *Session) Complete(msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return false
	}
	s.phase = PhaseComplete
	s.percent = 100
	s.setMessageLocked(msg)
	s.appendLogLocked(msg)
	s.changedLocked()
	return true
}

// Fail moves the session to error. Returns false if the session was already
// terminal.
func (s *Session) Fail(msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return false
	}
	s.phase = PhaseError
	s.setMessageLocked(msg)
	s.appendLogLocked(msg)
	s.changedLocked()
	return true
}

// Stop requests cancellation. The running job observes it before its next
// wave.
func (s *Session) Stop() bool {
	return s.Fail(StopMessage)
}

// Stopped reports whether the session is in the error phase.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == PhaseError
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) raiseLocked(percent int) {
	if percent > 100 {
		percent = 100
	}
	if percent > s.percent {
		s.percent = percent
	}
}

func (s *Session) setMessageLocked(msg string) {
	if msg != "" {
		s.message = msg
	}
}

func (s *Session) appendLogLocked(msg string) {
	if msg == "" {
		return
	}
	s.log = append(s.log, LogEntry{Time: s.now(), Message: msg})
	if over := len(s.log) - s.maxLog; over > 0 {
		s.log = append(s.log[:0:0], s.log[over:]...)
	}
}

func (s *Session) changedLocked() {
	s.updatedAt = s.now()
	if len(s.observers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, o := range s.observers {
		o.Observe(snap)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	log := make([]LogEntry, len(s.log))
	copy(log, s.log)
	return Snapshot{
		ID:              s.id,
		Phase:           s.phase,
		ProgressPercent: s.percent,
		Message:         s.message,
		Counters:        s.counters,
		Log:             log,
		CreatedAt:       s.createdAt,
		UpdatedAt:       s.updatedAt,
	}
}
