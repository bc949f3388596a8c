package state

import (
	"errors"
	"sync"
)

// Params are the run parameters last submitted by the user. They seed the
// index form and the scheduler defaults.
type Params struct {
	RainbowSeconds  int    `json:"rainbow_seconds"`
	IntervalSeconds int    `json:"interval_seconds"`
	SeriesName      string `json:"series_name"`
}

// Validate rejects non-positive durations and an empty series.
func (p Params) Validate() error {
	if p.RainbowSeconds <= 0 {
		return errors.New("rainbow seconds must be positive")
	}
	if p.IntervalSeconds <= 0 {
		return errors.New("interval seconds must be positive")
	}
	if p.SeriesName == "" {
		return errors.New("series name is required")
	}
	return nil
}

// State holds the process-wide parameters. The capture and animation
// running flags live with their owners, not here.
type State struct {
	mu     sync.RWMutex
	params Params
}

// New creates a State seeded with initial.
func New(initial Params) *State {
	return &State{params: initial}
}

// Snapshot returns a copy of the current parameters.
func (s *State) Snapshot() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Update applies fn to a copy of the parameters and stores the result if
// it validates.
func (s *State) Update(fn func(*Params)) (Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.params
	fn(&next)
	if err := next.Validate(); err != nil {
		return s.params, err
	}
	s.params = next
	return next, nil
}
