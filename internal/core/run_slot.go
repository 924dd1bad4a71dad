package core

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrImportRunning is returned when another run keeps the slot past the
// wait timeout.
var ErrImportRunning = errors.New("import already running, try again when it finishes")

// DefaultSlotWait is how long StartImport waits for the active run to end.
const DefaultSlotWait = 2 * time.Second

// SlotStatus reports which run, if any, holds the slot.
type SlotStatus struct {
	Busy  bool      `json:"busy"`
	RunID string    `json:"run_id,omitempty"`
	Since time.Time `json:"since,omitempty"`
}

// runSlot admits one import at a time. Imports write the same tables in
// dependency order, so two runs never overlap.
type runSlot struct {
	token   chan struct{}
	maxWait time.Duration

	mu    sync.Mutex
	runID string
	since time.Time
	idle  chan struct{} // closed while the slot is free
}

func newRunSlot(maxWait time.Duration) *runSlot {
	if maxWait <= 0 {
		maxWait = DefaultSlotWait
	}
	idle := make(chan struct{})
	close(idle)
	return &runSlot{token: make(chan struct{}, 1), maxWait: maxWait, idle: idle}
}

// acquire claims the slot for runID, waiting at most maxWait.
func (s *runSlot) acquire(ctx context.Context, runID string) error {
	timer := time.NewTimer(s.maxWait)
	defer timer.Stop()

	select {
	case s.token <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrImportRunning
	}

	s.mu.Lock()
	s.runID, s.since = runID, time.Now()
	s.idle = make(chan struct{})
	s.mu.Unlock()
	return nil
}

// release frees the slot. It must follow a successful acquire.
func (s *runSlot) release() {
	s.mu.Lock()
	s.runID, s.since = "", time.Time{}
	close(s.idle)
	s.mu.Unlock()
	<-s.token
}

// wait blocks until the slot is free or ctx is done.
func (s *runSlot) wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *runSlot) status() SlotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SlotStatus{Busy: s.runID != "", RunID: s.runID, Since: s.since}
}
