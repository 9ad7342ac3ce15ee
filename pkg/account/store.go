package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"igcollector/pkg/logger"
)

// Store persists the account pool as a JSON array on disk. Writes go
// through a temp file and rename so a crash never leaves a torn pool file.
type Store struct {
	path string
	log  logger.Logger
}

// NewStore creates a store writing to the given pool file path
func NewStore(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create pool directory: %w", err)
		}
	}

	return &Store{path: path, log: log}, nil
}

// Load reads the persisted pool. A missing or unreadable file yields an
// empty pool so a fresh deployment starts clean.
func (s *Store) Load() ([]*Account, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		s.log.WithError(err).WithField("path", s.path).Warn("failed to read pool file, starting empty")
		return nil, nil
	}

	var accounts []*Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		s.log.WithError(err).WithField("path", s.path).Warn("corrupt pool file, starting empty")
		return nil, nil
	}

	return accounts, nil
}

// Save writes the pool atomically
func (s *Store) Save(accounts []*Account) error {
	if accounts == nil {
		accounts = []*Account{}
	}

	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pool: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write pool file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename pool file: %w", err)
	}

	return nil
}
