package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ImportTimeout is the maximum duration of one import run.
var ImportTimeout = 4 * time.Hour

// RunRetention is how long a finished run stays queryable.
var RunRetention = 30 * time.Minute

// ErrRunNotFound is returned for unknown or expired run IDs.
var ErrRunNotFound = errors.New("run not found")

// ImportRequest starts a run. Zero values fall back to the service options.
type ImportRequest struct {
	Dir       string          `json:"dir"`
	Policy    DuplicatePolicy `json:"policy,omitempty"`
	MaxErrors int             `json:"maxErrors,omitempty"`
}

// Service runs imports in the background and streams their progress.
type Service struct {
	// Timeout bounds each run. Zero means ImportTimeout.
	Timeout time.Duration

	store   Store
	opts    ImportOptions
	logger  *slog.Logger
	slot    *runSlot

	mu   sync.RWMutex
	runs map[string]*activeRun
}

type activeRun struct {
	ID         string
	Dir        string
	Started    time.Time
	Cancel     context.CancelFunc
	Progress   ImportProgress
	Report     *RunReport
	Err        error
	Done       chan struct{}
	Listeners  []chan ImportProgress
	ListenerMu sync.Mutex
}

// NewService creates a service over store with default run options.
func NewService(store Store, opts ImportOptions, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		opts:    opts,
		logger:  logger,
		slot:    newRunSlot(DefaultSlotWait),
		runs:    make(map[string]*activeRun),
	}
}

// ListTables discovers the importable tables of dir in import order, with
// the primary keys an import would use.
func (s *Service) ListTables(dir string) ([]*TableMetadata, error) {
	tables, err := Discover(dir, s.opts.MandatoryTables, s.logger)
	if err != nil {
		return nil, err
	}
	keys := NewReconciler(s.store, s.logger)
	keys.KeyOverrides = s.opts.KeyOverrides
	for _, t := range tables {
		keys.EnsureKeys(t)
	}
	return tables, nil
}

// StartImport begins an asynchronous run and returns its ID immediately.
// Use SubscribeProgress to follow it and GetRunReport for the outcome.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (string, error) {
	if req.Dir == "" {
		return "", fmt.Errorf("import directory is required")
	}

	opts := s.opts
	if req.Policy != "" {
		policy, err := ParseDuplicatePolicy(string(req.Policy))
		if err != nil {
			return "", err
		}
		opts.Policy = policy
	}
	if req.MaxErrors > 0 {
		opts.MaxErrors = req.MaxErrors
	}

	runID := uuid.New().String()
	if err := s.slot.acquire(ctx, runID); err != nil {
		return "", err
	}

	logger := s.logger.With("run_id", runID)

	importer, err := NewImporter(s.store, opts, logger)
	if err != nil {
		s.slot.release()
		return "", err
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = ImportTimeout
	}
	runCtx, cancel := context.WithTimeout(context.Background(), timeout)
	run := &activeRun{
		ID:       runID,
		Dir:      req.Dir,
		Started:  time.Now(),
		Cancel:   cancel,
		Progress: ImportProgress{Phase: PhaseDiscovering, Status: "Starting"},
		Done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	go s.processRun(runCtx, run, importer, logger)

	return runID, nil
}

func (s *Service) processRun(ctx context.Context, run *activeRun, importer *Importer, logger *slog.Logger) {
	defer s.slot.release()
	defer run.Cancel()

	importer.OnProgress(run.updateProgress)
	logger.Info("import started", "dir", run.Dir)

	report, err := importer.Run(ctx, run.Dir)
	report.RunID = run.ID
	if err != nil {
		logger.Error("import failed", "dir", run.Dir, "error", err)
	}

	run.finish(&report, err)
	s.cleanup(run.ID, RunRetention)
}

// SubscribeProgress returns a channel of progress updates. The channel is
// closed when the run finishes.
func (s *Service) SubscribeProgress(runID string) (<-chan ImportProgress, error) {
	run, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}

	ch := make(chan ImportProgress, 16)

	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	// Send current progress immediately
	ch <- run.Progress

	select {
	case <-run.Done:
		close(ch)
	default:
		run.Listeners = append(run.Listeners, ch)
	}
	return ch, nil
}

// CancelImport cancels a run. Rows already written stay committed.
func (s *Service) CancelImport(runID string) error {
	run, err := s.lookup(runID)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// GetRunReport returns the report of a run, blocking until it finishes or
// ctx is done.
func (s *Service) GetRunReport(ctx context.Context, runID string) (*RunReport, error) {
	run, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}

	select {
	case <-run.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()
	return run.Report, run.Err
}

// Report returns the report of a run without waiting. done is false while
// the run is still going.
func (s *Service) Report(runID string) (report *RunReport, done bool, err error) {
	run, err := s.lookup(runID)
	if err != nil {
		return nil, false, err
	}

	select {
	case <-run.Done:
	default:
		return nil, false, nil
	}

	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()
	return run.Report, true, run.Err
}

// RunSummary describes a tracked run.
type RunSummary struct {
	ID       string         `json:"id"`
	Dir      string         `json:"dir"`
	Started  time.Time      `json:"started"`
	Done     bool           `json:"done"`
	Progress ImportProgress `json:"progress"`
}

// ServiceStatus is a snapshot of the run slot and tracked runs.
type ServiceStatus struct {
	Slot SlotStatus   `json:"slot"`
	Runs []RunSummary `json:"runs"`
}

// RunStatus returns the current state for monitoring.
func (s *Service) RunStatus() ServiceStatus {
	s.mu.RLock()
	runs := make([]*activeRun, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.RUnlock()

	status := ServiceStatus{Slot: s.slot.status(), Runs: make([]RunSummary, 0, len(runs))}
	for _, r := range runs {
		r.ListenerMu.Lock()
		summary := RunSummary{ID: r.ID, Dir: r.Dir, Started: r.Started, Done: r.Report != nil, Progress: r.Progress}
		r.ListenerMu.Unlock()
		status.Runs = append(status.Runs, summary)
	}
	return status
}

// WaitForRuns blocks until every active run finishes or ctx is done.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.slot.wait(ctx)
}

// CancelAll cancels every tracked run.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		r.Cancel()
	}
}

func (s *Service) lookup(runID string) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// updateProgress records p and fans it out to listeners without blocking.
func (run *activeRun) updateProgress(p ImportProgress) {
	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	run.Progress = p
	for _, ch := range run.Listeners {
		select {
		case ch <- p:
		default:
			// Listener is slow, skip this update
		}
	}
}

// finish stores the outcome, closes all listener channels and marks the
// run done, all under the listener lock so no subscriber is left open.
func (run *activeRun) finish(report *RunReport, err error) {
	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	run.Report = report
	run.Err = err
	for _, ch := range run.Listeners {
		close(ch)
	}
	run.Listeners = nil
	close(run.Done)
}

// cleanup removes the run from tracking after a delay.
func (s *Service) cleanup(runID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}
