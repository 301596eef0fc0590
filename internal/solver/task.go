// Package solver implements the standalone challenge-solving service and the
// orchestrator-side client for it. Submission and result retrieval are
// decoupled: submit returns a task id immediately, a bounded pool of workers
// solves in the background, and callers poll for the outcome.
package solver

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// State is a challenge task's lifecycle state. pending transitions exactly
// once, to solved or failed, and is then terminal.
type State string

const (
	StatePending State = "pending"
	StateSolved  State = "solved"
	StateFailed  State = "failed"
)

// ReasonTimeout marks tasks that sat pending past the task timeout.
const ReasonTimeout = "timeout"

// Task is one solve attempt. The proxy binding is fixed at submission and
// never reassigned; a retry is a fresh submission with a fresh id.
type Task struct {
	ID          string
	Target      string
	SiteKey     string
	Proxy       string
	State       State
	Token       string
	Reason      string
	SubmittedAt time.Time
	FinishedAt  time.Time
}

// Elapsed returns how long the task took to reach a terminal state.
func (t Task) Elapsed() time.Duration {
	if t.FinishedAt.IsZero() {
		return time.Since(t.SubmittedAt)
	}
	return t.FinishedAt.Sub(t.SubmittedAt)
}

// ErrAtCapacity is returned by Create when the live-task limit is reached.
var ErrAtCapacity = fmt.Errorf("solver at maximum capacity")

// StoreConfig bounds the task store.
type StoreConfig struct {
	// MaxLive caps concurrent non-terminal tasks; 0 means unlimited.
	MaxLive int
	// TaskTimeout flips a task still pending after this duration to
	// failed/timeout.
	TaskTimeout time.Duration
	// Retention is how long terminal results stay readable. Polls within
	// the window are idempotent; afterwards the task id is gone.
	Retention time.Duration
	// RetentionSize bounds the terminal-result cache.
	RetentionSize int
}

// DefaultStoreConfig mirrors the service's historical limits.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxLive:       20,
		TaskTimeout:   5 * time.Minute,
		Retention:     time.Hour,
		RetentionSize: 4096,
	}
}

// Store tracks live tasks under a mutex and parks terminal results in a
// TTL'd LRU so repeated polls observe the same outcome until the retention
// window expires.
type Store struct {
	mu   sync.Mutex
	cfg  StoreConfig
	live map[string]*Task
	done *expirable.LRU[string, Task]
}

// NewStore creates a task store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultStoreConfig().TaskTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultStoreConfig().Retention
	}
	if cfg.RetentionSize <= 0 {
		cfg.RetentionSize = DefaultStoreConfig().RetentionSize
	}
	return &Store{
		cfg:  cfg,
		live: make(map[string]*Task),
		done: expirable.NewLRU[string, Task](cfg.RetentionSize, nil, cfg.Retention),
	}
}

// Create registers a new pending task with its proxy binding.
func (s *Store) Create(target, siteKey, proxyAddr string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MaxLive > 0 && len(s.live) >= s.cfg.MaxLive {
		return Task{}, ErrAtCapacity
	}
	task := &Task{
		ID:          uuid.NewString(),
		Target:      target,
		SiteKey:     siteKey,
		Proxy:       proxyAddr,
		State:       StatePending,
		SubmittedAt: time.Now(),
	}
	s.live[task.ID] = task
	return *task, nil
}

// Resolve moves a pending task to solved. A task that already reached a
// terminal state (including timeout) is left untouched.
func (s *Store) Resolve(id, token string) bool {
	return s.finish(id, StateSolved, token, "")
}

// Fail moves a pending task to failed.
func (s *Store) Fail(id, reason string) bool {
	return s.finish(id, StateFailed, "", reason)
}

func (s *Store) finish(id string, state State, token, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.live[id]
	if !ok {
		return false
	}
	delete(s.live, id)
	task.State = state
	task.Token = token
	task.Reason = reason
	task.FinishedAt = time.Now()
	s.done.Add(id, *task)
	return true
}

// Get returns the task's current state. Reading a pending task past the
// task timeout transitions it to failed/timeout first, so callers always
// observe a coherent terminal outcome for stuck tasks.
func (s *Store) Get(id string) (Task, bool) {
	s.mu.Lock()
	if task, ok := s.live[id]; ok {
		if time.Since(task.SubmittedAt) > s.cfg.TaskTimeout {
			delete(s.live, id)
			task.State = StateFailed
			task.Reason = ReasonTimeout
			task.FinishedAt = time.Now()
			s.done.Add(id, *task)
			done := *task
			s.mu.Unlock()
			return done, true
		}
		snapshot := *task
		s.mu.Unlock()
		return snapshot, true
	}
	s.mu.Unlock()

	// Terminal results live in the retention cache; the LRU handles TTL
	// expiry itself.
	return s.done.Get(id)
}

// LiveCount returns the number of non-terminal tasks.
func (s *Store) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
