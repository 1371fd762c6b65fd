package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps one JSON file per subscriber under <dir>/<account>/.
type FileStore struct {
	dir   string
	limit int
	mu    sync.RWMutex
}

// NewFileStore never fails. An unusable dir surfaces as Load and Save errors,
// which callers treat as empty state and a failed cycle.
func NewFileStore(dir string, limit int) *FileStore {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("State dir is not writable, states will not persist until it is", "dir", dir, "error", err)
	}

	return &FileStore{
		dir:   dir,
		limit: limit,
	}
}

func (s *FileStore) Load(_ context.Context, accountID, subscriberID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(accountID, subscriberID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	conv, err := Decode(data, s.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	return conv, nil
}

func (s *FileStore) Save(_ context.Context, accountID, subscriberID string, conv *Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(accountID, subscriberID)
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create account state dir: %w", err)
	}

	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

func (s *FileStore) path(accountID, subscriberID string) string {
	return filepath.Join(s.dir, safeName(accountID), safeName(subscriberID)+".json")
}

// safeName percent-encodes an id into a single path element. Distinct ids
// always map to distinct names.
func safeName(value string) string {
	switch escaped := url.PathEscape(value); escaped {
	case "":
		return "%"
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	default:
		return escaped
	}
}
