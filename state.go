package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

type EntryStatus string

const (
	StatusPending EntryStatus = "pending"
	StatusOpened  EntryStatus = "opened"
	StatusSent    EntryStatus = "sent"
	StatusFailed  EntryStatus = "failed"
)

type QueueEntry struct {
	Phone         string      `json:"phone"`
	Status        EntryStatus `json:"status"`
	Valid         bool        `json:"valid"`
	Retries       int         `json:"retries"`
	RetryPending  bool        `json:"retry_pending,omitempty"`
	CustomMessage string      `json:"custom_message,omitempty"`
	ErrorReason   string      `json:"error_reason,omitempty"`
}

type CampaignStats struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

// CampaignState is the single durable record that survives process and browser
// restarts. Everything the resume path needs after a send-triggered reload
// lives here; nothing in memory is trusted across a navigation.
type CampaignState struct {
	Queue   []QueueEntry `json:"queue"`
	Index   int          `json:"index"`
	RunID   string       `json:"run_id,omitempty"`
	Message string       `json:"message"`

	IsRunning bool `json:"is_running"`
	IsPaused  bool `json:"is_paused"`

	DelayMin        int  `json:"delay_min"`
	DelayMax        int  `json:"delay_max"`
	RetryMax        int  `json:"retry_max"`
	ContinueOnError bool `json:"continue_on_error"`

	URLNavigationInProgress bool   `json:"url_navigation_in_progress"`
	CurrentPhoneNumber      string `json:"current_phone_number,omitempty"`
	CurrentMessage          string `json:"current_message,omitempty"`

	// ImageData holds the attached media as base64 so it survives reloads.
	ImageData     string `json:"image_data,omitempty"`
	ImageName     string `json:"image_name,omitempty"`
	TypingEffect  bool   `json:"typing_effect"`
	TypingDelayMs int    `json:"typing_delay_ms"`

	Stats CampaignStats `json:"stats"`
}

func defaultCampaignState() *CampaignState {
	return &CampaignState{
		Queue:           []QueueEntry{},
		Index:           0,
		DelayMin:        defaultDelayMin,
		DelayMax:        defaultDelayMax,
		RetryMax:        defaultRetryMax,
		ContinueOnError: true,
		TypingEffect:    true,
		TypingDelayMs:   defaultTypingDelayMs,
	}
}

// RecomputeStats rebuilds the derived counters from the queue. The counters are
// never trusted independently; every mutation path calls this before persisting.
func (s *CampaignState) RecomputeStats() {
	stats := CampaignStats{}
	for _, entry := range s.Queue {
		switch entry.Status {
		case StatusSent:
			stats.Sent++
		case StatusFailed:
			stats.Failed++
		default:
			stats.Pending++
		}
	}
	s.Stats = stats
}

// HasPendingWork reports whether resuming the existing queue makes sense.
func (s *CampaignState) HasPendingWork() bool {
	return s.Index < len(s.Queue)
}

// StateStore owns the durable campaign record. The campaign state machine is
// the only writer; other components read snapshots or ask for transitions.
type StateStore struct {
	path  string
	state *CampaignState
}

// NewStateStore loads the record at path, falling back to documented defaults
// when no record exists yet (first run).
func NewStateStore(path string) (*StateStore, error) {
	store := &StateStore{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			store.state = defaultCampaignState()
			return store, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state CampaignState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	if state.Queue == nil {
		state.Queue = []QueueEntry{}
	}
	if state.DelayMin == 0 {
		state.DelayMin = defaultDelayMin
	}
	if state.DelayMax == 0 {
		state.DelayMax = defaultDelayMax
	}
	state.RecomputeStats()
	store.state = &state
	return store, nil
}

func (st *StateStore) State() *CampaignState {
	return st.state
}

// Persist writes the record atomically (temp file + rename). A failed write is
// retried once; a second failure is returned to the caller, which must treat it
// as fatal to the current step rather than diverging memory from disk.
func (st *StateStore) Persist() error {
	if err := st.writeOnce(); err != nil {
		Logf("warn", "State persist failed, retrying once: %v", err)
		if err := st.writeOnce(); err != nil {
			return fmt.Errorf("failed to persist campaign state: %w", err)
		}
	}
	return nil
}

func (st *StateStore) writeOnce() error {
	data, err := json.MarshalIndent(st.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode campaign state: %w", err)
	}

	dir := filepath.Dir(st.path)
	tmp, err := os.CreateTemp(dir, ".campaign_state_*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, st.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// BuildQueue replaces the queue wholesale and resets the cursor. This is the
// only operation allowed to rewind the index.
func (st *StateStore) BuildQueue(entries []QueueEntry, message string) error {
	s := st.state
	s.Queue = entries
	s.Index = 0
	s.RunID = uuid.NewString()
	s.Message = message
	s.IsRunning = false
	s.IsPaused = false
	s.URLNavigationInProgress = false
	s.CurrentPhoneNumber = ""
	s.CurrentMessage = ""
	s.RecomputeStats()
	return st.Persist()
}

// ApplySettings copies the campaign knobs from config into the record so that
// a resumed run after a restart keeps the settings it started with.
func (st *StateStore) ApplySettings(cfg *CampaignConfig) {
	s := st.state
	s.DelayMin = cfg.DelayMinSeconds
	s.DelayMax = cfg.DelayMaxSeconds
	s.RetryMax = *cfg.RetryMax
	s.ContinueOnError = *cfg.ContinueOnError
	s.TypingEffect = *cfg.TypingEffect
	s.TypingDelayMs = cfg.TypingDelayMs
}
