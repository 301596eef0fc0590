// Package ledger is the durable per-account progress record. It is the
// single source of truth for account status across runs: the work selector
// derives the queue from it, session workers write terminal outcomes into
// it, and deleting the backing file is the documented way to force a full
// re-run.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"autologin/internal/errclass"
	"autologin/internal/logging"
)

// Status is the per-account outcome recorded in the ledger.
type Status string

const (
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
)

// Artifact is the opaque session artifact captured after a successful
// login. For this target that is the session cookie.
type Artifact struct {
	Domain string `json:"domain"`
	Name   string `json:"name"`
	Value  string `json:"value"`
}

// Record is one account's ledger entry.
type Record struct {
	Status    Status            `json:"status"`
	Attempts  int               `json:"attempt_count"`
	LastError *errclass.Failure `json:"last_error,omitempty"`
	Result    *Artifact         `json:"result,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type fileFormat struct {
	Version  int               `json:"version"`
	Accounts map[string]Record `json:"accounts"`
}

const fileVersion = 1

// Store is the file-backed ledger. All mutation is serialized; every Put
// rewrites the whole file atomically so a crash mid-write can never leave a
// half-updated record on disk.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
	logger  logging.Logger
}

// Open loads the ledger at path. A missing file yields an empty ledger;
// that is the documented reset path. An unreadable or corrupt file is an
// error: starting from an empty ledger would silently repeat attempts
// against accounts that already succeeded.
func Open(path string, logger logging.Logger) (*Store, error) {
	logger = logging.OrNop(logger)
	s := &Store{
		path:    path,
		records: make(map[string]Record),
		logger:  logger,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Info("ledger %s not found, starting fresh", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger unreadable, refusing to start empty: %w", err)
	}

	var file fileFormat
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("ledger %s is corrupt, refusing to start empty: %w", path, err)
	}
	if file.Accounts != nil {
		s.records = file.Accounts
	}
	logger.Info("ledger loaded: %d accounts from %s", len(s.records), path)
	return s, nil
}

// Get returns the record for id, defaulting to a fresh pending record when
// the account has never been attempted. The default is not persisted until
// the first Put.
func (s *Store) Get(id string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		return rec
	}
	return Record{Status: StatusPending}
}

// Put records the outcome of a completed attempt and persists the whole
// ledger atomically before returning.
func (s *Store) Put(id string, rec Record) error {
	if err := validate(rec); err != nil {
		return fmt.Errorf("ledger put %s: %w", id, err)
	}
	rec.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.records[id]
	s.records[id] = rec
	if err := s.saveLocked(); err != nil {
		// Roll back the in-memory state so a retried Put starts clean.
		if existed {
			s.records[id] = prev
		} else {
			delete(s.records, id)
		}
		return err
	}
	return nil
}

func validate(rec Record) error {
	switch rec.Status {
	case StatusPending, StatusOK, StatusError:
	default:
		return fmt.Errorf("unknown status %q", rec.Status)
	}
	if rec.Status == StatusOK && rec.Result == nil {
		return fmt.Errorf("status ok requires a session artifact")
	}
	if rec.Status != StatusOK && rec.Result != nil {
		return fmt.Errorf("session artifact present with status %q", rec.Status)
	}
	if rec.Attempts < 0 {
		return fmt.Errorf("negative attempt count %d", rec.Attempts)
	}
	return nil
}

// saveLocked writes the ledger via tmp file + rename so readers never
// observe a partial file.
func (s *Store) saveLocked() error {
	file := fileFormat{Version: fileVersion, Accounts: s.records}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write ledger tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit ledger: %w", err)
	}
	return nil
}

// Wipe deletes the ledger file at path. This is the documented full reset:
// the next Open starts every account from scratch. A missing file is not an
// error.
func Wipe(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("wipe ledger: %w", err)
	}
	return nil
}

// Prune removes every record for which keep returns false and persists the
// result. It returns the number of records removed. Unlike Wipe this is a
// selective operator action; pruned accounts lose their attempt history and
// re-enter the queue as fresh.
func (s *Store) Prune(keep func(id string, rec Record) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]Record)
	for id, rec := range s.records {
		if !keep(id, rec) {
			removed[id] = rec
			delete(s.records, id)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	if err := s.saveLocked(); err != nil {
		for id, rec := range removed {
			s.records[id] = rec
		}
		return 0, err
	}
	return len(removed), nil
}

// Snapshot returns a copy of every persisted record, for reporting.
func (s *Store) Snapshot() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Record, len(s.records))
	for id, rec := range s.records {
		out[id] = rec
	}
	return out
}

// Len returns the number of persisted records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}
