// Package storage persists finished run records to a JSON file so results
// survive between invocations and feed the results server.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/quantfold/backtester/internal/metrics"
	"github.com/quantfold/backtester/internal/models"
)

// RunRecord is the persisted summary of one finished run.
type RunRecord struct {
	ID             string                 `json:"id"`
	CreatedAt      time.Time              `json:"created_at"`
	Strategy       string                 `json:"strategy"`
	Symbols        []string               `json:"symbols"`
	Start          time.Time              `json:"start"`
	End            time.Time              `json:"end"`
	InitialCapital float64                `json:"initial_capital"`
	FinalEquity    float64                `json:"final_equity"`
	Rules          *models.RiskRules      `json:"rules"`
	Report         metrics.Report         `json:"report"`
	Trades         []models.ClosedTrade   `json:"trades"`
	Skipped        []models.SkippedSignal `json:"skipped_signals,omitempty"`
}

type storageData struct {
	Runs        []RunRecord `json:"runs"`
	LastUpdated time.Time   `json:"last_updated"`
}

// Storage is a file-backed run history. Safe for concurrent use; every
// mutation is flushed with a tmp-file write and an atomic rename.
type Storage struct {
	mu       sync.RWMutex
	filepath string
	data     *storageData
}

// NewStorage opens or creates the history file at filepath.
func NewStorage(filepath string) (*Storage, error) {
	s := &Storage{
		filepath: filepath,
		data:     &storageData{},
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading run history: %w", err)
		}
	}

	return s, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.data)
}

// save flushes the history to disk. Callers must hold the write lock.
func (s *Storage) save() error {
	s.data.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first, then atomic rename.
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.filepath)
}

// SaveRun appends or replaces the record with the same ID and flushes.
// Replays of the same inputs overwrite their previous record instead of
// duplicating it.
func (s *Storage) SaveRun(rec RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run record needs an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	replaced := false
	for i := range s.data.Runs {
		if s.data.Runs[i].ID == rec.ID {
			s.data.Runs[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		s.data.Runs = append(s.data.Runs, rec)
	}
	return s.save()
}

// GetRun returns the record with the given ID.
func (s *Storage) GetRun(id string) (RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.data.Runs {
		if r.ID == id {
			return r, true
		}
	}
	return RunRecord{}, false
}

// ListRuns returns all records in insertion order.
func (s *Storage) ListRuns() []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunRecord, len(s.data.Runs))
	copy(out, s.data.Runs)
	return out
}

// DeleteRun removes the record with the given ID and flushes.
func (s *Storage) DeleteRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.data.Runs {
		if r.ID == id {
			s.data.Runs = append(s.data.Runs[:i], s.data.Runs[i+1:]...)
			return s.save()
		}
	}
	return fmt.Errorf("no run with id %s", id)
}
