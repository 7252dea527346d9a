// Package resume persists the single pending-payload slot so an interrupted
// polling loop can be picked up again after a process restart.
package resume

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Kind distinguishes what a pending payload was created for.
type Kind string

const (
	KindSignIn  Kind = "signin"
	KindPayment Kind = "payment"
)

// Record is the value held in the slot. PayloadID alone identifies the
// pending payload; Kind and the funding fields let a restarted process route
// the resolution to the right materializer.
type Record struct {
	PayloadID string  `json:"payload_id"`
	Kind      Kind    `json:"kind"`
	LoanID    string  `json:"loan_id,omitempty"`
	FunderID  string  `json:"funder_id,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
}

// Store is a single named slot holding zero or one Record. Implementations
// must survive process restart and make Clear a no-op when already empty.
type Store interface {
	// Get returns the current record, or nil if the slot is empty.
	Get(ctx context.Context) (*Record, error)
	Set(ctx context.Context, rec Record) error
	Clear(ctx context.Context) error
	// CompareAndClear clears the slot only if it currently holds payloadID.
	// Returns true if the slot was cleared by this call.
	CompareAndClear(ctx context.Context, payloadID string) (bool, error)
}

// FileStore keeps the slot in a small JSON file, written atomically via a
// temp file and rename.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get(ctx context.Context) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Set(ctx context.Context, rec Record) error {
	if rec.PayloadID == "" {
		return fmt.Errorf("resume: empty payload id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(&rec)
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("resume: clear: %w", err)
	}
	return nil
}

func (s *FileStore) CompareAndClear(ctx context.Context, payloadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read()
	if err != nil {
		return false, err
	}
	if rec == nil || rec.PayloadID != payloadID {
		return false, nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("resume: clear: %w", err)
	}
	return true, nil
}

func (s *FileStore) read() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("resume: read: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("resume: decode: %w", err)
	}
	if rec.PayloadID == "" {
		return nil, nil
	}
	return &rec, nil
}

func (s *FileStore) write(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("resume: encode: %w", err)
	}
	tmp := s.path + ".tmp"
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("resume: mkdir: %w", err)
		}
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("resume: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("resume: rename: %w", err)
	}
	return nil
}
