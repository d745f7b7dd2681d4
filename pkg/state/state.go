/*
Copyright 2023 The repostats Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package state persists harvest progress so an interrupted run can resume
// at the last known-good page instead of starting over.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultFileName is the conventional state file location, relative to the
// working directory.
const DefaultFileName = "last_known_state.json"

// State is the durable progress record. current_cursor is the cursor the
// page being processed was fetched with; it is null before the first page
// and null again once the walk has drained.
type State struct {
	CurrentCursor         *string   `json:"current_cursor"`
	LastSuccessfulCursor  *string   `json:"last_successful_cursor"`
	LastProcessedRepo     string    `json:"last_processed_repo"`
	LastUpdated           time.Time `json:"last_updated"`
	CompletedSuccessfully bool      `json:"completed_successfully"`
	ProcessedRepos        []string  `json:"processed_repos"`
	OutputFileName        string    `json:"output_file_name"`

	processed map[string]bool
}

// rawState defers processed_repos decoding so a malformed field can be
// coerced to empty instead of discarding the whole record.
type rawState struct {
	CurrentCursor         *string         `json:"current_cursor"`
	LastSuccessfulCursor  *string         `json:"last_successful_cursor"`
	LastProcessedRepo     string          `json:"last_processed_repo"`
	LastUpdated           time.Time       `json:"last_updated"`
	CompletedSuccessfully bool            `json:"completed_successfully"`
	ProcessedRepos        json.RawMessage `json:"processed_repos"`
	OutputFileName        string          `json:"output_file_name"`
}

// Fresh returns an empty state.
func Fresh() *State {
	return &State{processed: map[string]bool{}}
}

// HasProcessed reports whether a row for the repo was already emitted.
func (s *State) HasProcessed(repo string) bool {
	return s.processed[repo]
}

// MarkProcessed appends the repo to the processed set. Duplicate names are
// ignored so a repo appears at most once.
func (s *State) MarkProcessed(repo string) {
	if s.processed == nil {
		s.processed = map[string]bool{}
	}
	if s.processed[repo] {
		return
	}
	s.processed[repo] = true
	s.ProcessedRepos = append(s.ProcessedRepos, repo)
	s.LastProcessedRepo = repo
}

// Store reads and writes the state file.
type Store struct {
	path string
	log  *logrus.Entry
}

// NewStore returns a store bound to path, or to DefaultFileName when path
// is empty.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultFileName
	}
	return &Store{path: path, log: logrus.WithField("component", "state")}
}

// Path returns the backing file path.
func (st *Store) Path() string { return st.path }

// Load reads the state file. The returned bool reports whether the caller
// should resume from the loaded state: it is false when the file is absent,
// malformed, records a completed run, or resume was not requested.
// A previously completed run is surfaced via State.CompletedSuccessfully so
// callers can treat a fresh start against it as a no-op.
func (st *Store) Load(resumeRequested bool) (*State, bool) {
	data, err := os.ReadFile(st.path)
	if os.IsNotExist(err) {
		return Fresh(), false
	}
	if err != nil {
		st.log.WithError(err).Error("Failed to read state file, starting fresh.")
		return Fresh(), false
	}

	var raw rawState
	if err := json.Unmarshal(data, &raw); err != nil {
		st.log.WithError(err).Error("Malformed state file, starting fresh.")
		return Fresh(), false
	}

	s := &State{
		CurrentCursor:         raw.CurrentCursor,
		LastSuccessfulCursor:  raw.LastSuccessfulCursor,
		LastProcessedRepo:     raw.LastProcessedRepo,
		LastUpdated:           raw.LastUpdated,
		CompletedSuccessfully: raw.CompletedSuccessfully,
		OutputFileName:        raw.OutputFileName,
		processed:             map[string]bool{},
	}

	var repos []string
	if len(raw.ProcessedRepos) > 0 {
		if err := json.Unmarshal(raw.ProcessedRepos, &repos); err != nil {
			st.log.WithError(err).Warn("Malformed processed_repos in state file, treating as empty.")
			repos = nil
		}
	}
	for _, r := range repos {
		s.MarkProcessed(r)
	}
	// MarkProcessed tracks the appended tail; restore the recorded value.
	s.LastProcessedRepo = raw.LastProcessedRepo

	if s.CompletedSuccessfully {
		st.log.Info("Previous run completed successfully; nothing to resume.")
		return s, false
	}
	if !resumeRequested {
		return Fresh(), false
	}
	return s, true
}

// Save persists the whole record atomically (temp file + rename) and
// refreshes last_updated. Persistence failures are logged but not
// returned: the in-memory state stays authoritative for the run.
func (st *Store) Save(s *State) {
	s.LastUpdated = time.Now().UTC()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		st.log.WithError(err).Error("Failed to encode state.")
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(st.path), filepath.Base(st.path)+".tmp")
	if err != nil {
		st.log.WithError(err).Error("Failed to create temp state file.")
		return
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		st.log.WithError(fmt.Errorf("write: %v, close: %v", werr, cerr)).Error("Failed to write state file.")
		return
	}
	if err := os.Rename(tmp.Name(), st.path); err != nil {
		os.Remove(tmp.Name())
		st.log.WithError(err).Error("Failed to replace state file.")
	}
}
