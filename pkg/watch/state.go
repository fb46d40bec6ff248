package watch

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prdigest/pr-digest/pkg/utils"
)

const stateFileName = "watch_state.json"

// RepoState contains the last run information for a repository
type RepoState struct {
	LastRunTime    time.Time `json:"last_run_time"`
	LastRunSuccess bool      `json:"last_run_success"`
	LastDigestDate string    `json:"last_digest_date,omitempty"` // yyyy-mm-dd of the last digest day handled
	Entries        int       `json:"entries"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// WatchState contains the persistent state for the watch scheduler
type WatchState struct {
	Repositories map[string]RepoState `json:"repositories"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// StateManager handles persisting and loading watch state
type StateManager struct {
	stateDir  string
	statePath string
	state     WatchState
	mu        sync.RWMutex
}

// NewStateManager creates a new state manager
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		state: WatchState{
			Repositories: make(map[string]RepoState),
		},
	}
}

// Path returns the state file location
func (m *StateManager) Path() string {
	return m.statePath
}

// Load loads the state from disk
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = WatchState{Repositories: make(map[string]RepoState)}
			return nil
		}
		return fmt.Errorf("%w: reading watch state: %w", utils.ErrFilesystem, err)
	}

	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("%w: decoding watch state JSON: %w", utils.ErrParsing, err)
	}
	if m.state.Repositories == nil {
		m.state.Repositories = make(map[string]RepoState)
	}
	return nil
}

// Save writes the state file atomically (temp file + rename).
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding watch state JSON: %w", utils.ErrParsing, err)
	}

	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("%w: creating state dir: %w", utils.ErrFilesystem, err)
	}
	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: writing watch state: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: replacing watch state: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// GetRepoState returns the state for a repository
func (m *StateManager) GetRepoState(repo string) (RepoState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Repositories[repo]
	return state, ok
}

// UpdateRepoState records the outcome of a run at runTime
func (m *StateManager) UpdateRepoState(repo string, runTime time.Time, success bool, digestDate string, entries int, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Repositories[repo] = RepoState{
		LastRunTime:    runTime,
		LastRunSuccess: success,
		LastDigestDate: digestDate,
		Entries:        entries,
		ErrorMessage:   errorMsg,
	}
}

// ShouldRun reports whether the digest of targetDate still needs generating.
// A repository never run is due immediately. Otherwise at least interval must
// have passed since the last run, and the last run must have failed or
// handled an earlier day.
func (m *StateManager) ShouldRun(repo string, interval time.Duration, targetDate string, now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Repositories[repo]
	if !ok {
		return true
	}
	if now.Sub(state.LastRunTime) < interval {
		return false
	}
	return !state.LastRunSuccess || state.LastDigestDate != targetDate
}

// GetNextRunTime returns the earliest time the repository may run again
func (m *StateManager) GetNextRunTime(repo string, interval time.Duration, now time.Time) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Repositories[repo]
	if !ok {
		return now
	}
	return state.LastRunTime.Add(interval)
}

// GetAllRepoStates returns a copy of all repository states
func (m *StateManager) GetAllRepoStates() map[string]RepoState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return maps.Clone(m.state.Repositories)
}
