package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/shop-price-scraper/internal/models"
)

// TargetState is the last known outcome for one url across runs.
type TargetState struct {
	URL       string           `json:"url"`
	Site      string           `json:"site"`
	Title     string           `json:"title,omitempty"`
	Price     string           `json:"price,omitempty"`
	Status    models.Status    `json:"status"`
	ErrorKind models.ErrorKind `json:"error_kind,omitempty"`
	Error     string           `json:"error,omitempty"`
	Attempts  int              `json:"attempts"`
	AddedAt   time.Time        `json:"added_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// StateStore is a JSON file keyed by url that remembers the latest outcome of
// every target, so failed targets can be rerun later. Unlike the CSV sink it
// records failures too.
type StateStore struct {
	mu       sync.RWMutex
	targets  map[string]*TargetState
	filename string
}

func NewStateStore(filename string) (*StateStore, error) {
	ss := &StateStore{
		targets:  make(map[string]*TargetState),
		filename: filename,
	}

	if err := ss.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return ss, nil
}

func (ss *StateStore) Name() string { return "state" }

// Record stores result. It is called for every result, with or without data.
func (ss *StateStore) Record(ctx context.Context, result models.ExtractionResult) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if result.Target.URL == "" {
		return fmt.Errorf("url is required")
	}

	now := time.Now()
	state, exists := ss.targets[result.Target.URL]
	if !exists {
		state = &TargetState{URL: result.Target.URL, AddedAt: now}
		ss.targets[result.Target.URL] = state
	}

	state.Site = result.Target.Site.String()
	state.Title = result.Title
	state.Price = result.Price.String()
	state.Status = result.Status
	state.ErrorKind = result.ErrorKind
	state.Error = result.Error
	state.Attempts++
	state.UpdatedAt = now

	return ss.save()
}

func (ss *StateStore) Get(url string) (TargetState, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	state, exists := ss.targets[url]
	if !exists {
		return TargetState{}, false
	}
	return *state, true
}

// Unfinished returns the urls whose last outcome was not a success, oldest
// first.
func (ss *StateStore) Unfinished() []string {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	var states []*TargetState
	for _, state := range ss.targets {
		if state.Status != models.StatusSuccess {
			states = append(states, state)
		}
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].AddedAt.Equal(states[j].AddedAt) {
			return states[i].URL < states[j].URL
		}
		return states[i].AddedAt.Before(states[j].AddedAt)
	})

	urls := make([]string, len(states))
	for i, state := range states {
		urls[i] = state.URL
	}
	return urls
}

func (ss *StateStore) Stats() map[string]int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	stats := make(map[string]int)
	for _, state := range ss.targets {
		stats[string(state.Status)]++
	}
	stats["total"] = len(ss.targets)
	return stats
}

func (ss *StateStore) save() error {
	if err := ensureDir(ss.filename); err != nil {
		return err
	}

	data, err := json.MarshalIndent(ss.targets, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := ss.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, ss.filename)
}

func (ss *StateStore) Close() error {
	return nil
}

func (ss *StateStore) Load() error {
	data, err := os.ReadFile(ss.filename)
	if err != nil {
		return err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	targets := make(map[string]*TargetState)
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &targets); err != nil {
			return fmt.Errorf("failed to parse %s: %w", ss.filename, err)
		}
		// A file holding null decodes to a nil map.
		if targets == nil {
			targets = make(map[string]*TargetState)
		}
	}
	ss.targets = targets
	return nil
}
