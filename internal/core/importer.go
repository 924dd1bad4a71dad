package core

// importer.go runs a whole SIGTAP import.
//
// A run moves through three phases:
//
//  1. Discover: pair layout and data files, assign priorities, sort.
//  2. Reconcile: create or grow every destination table (skipped when
//     structure detection is off). A table that fails here is reported
//     and left out of the import phase.
//  3. ImportEach: for every table in priority order, decode the data file
//     and push each line through parse, validate, prepare and write.
//
// Everything is sequential. Cancellation is checked at the top of each
// table and each line; a write that has started always finishes. A bad
// line is counted and logged, never fatal to its table, and a bad table is
// reported and never fatal to the run.

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// Import defaults.
const (
	DefaultBatchSize        = 1000
	DefaultProgressInterval = 100
)

// ImportOptions configures a run.
type ImportOptions struct {
	Policy           DuplicatePolicy
	DefaultEncoding  string
	SampleLines      int
	BatchSize        int
	BulkLoad         bool
	DetectStructure  bool
	RepairEncoding   bool
	MaxErrors        int // 0 = unlimited
	ProgressInterval int
	MandatoryTables  []string
	KeyOverrides     map[string][]string
}

// DefaultImportOptions returns the options used when nothing is configured.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		Policy:           DefaultDuplicatePolicy,
		DefaultEncoding:  EncodingLatin1,
		SampleLines:      DefaultSampleLines,
		BatchSize:        DefaultBatchSize,
		BulkLoad:         true,
		DetectStructure:  true,
		RepairEncoding:   true,
		ProgressInterval: DefaultProgressInterval,
		MandatoryTables:  DefaultMandatoryTables,
	}
}

// Importer orchestrates discovery, reconciliation and row import.
type Importer struct {
	store      Store
	opts       ImportOptions
	reconciler *Reconciler
	upserter   *Upserter
	validator  *Validator
	detector   *EncodingDetector
	logger     *slog.Logger
	progress   ProgressCallback
}

// NewImporter wires an importer over store.
func NewImporter(store Store, opts ImportOptions, logger *slog.Logger) (*Importer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Policy == "" {
		opts.Policy = DefaultDuplicatePolicy
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}

	detector, err := NewEncodingDetector(opts.SampleLines, opts.DefaultEncoding)
	if err != nil {
		return nil, err
	}
	detector.Logger = logger

	reconciler := NewReconciler(store, logger)
	reconciler.KeyOverrides = opts.KeyOverrides

	return &Importer{
		store:      store,
		opts:       opts,
		reconciler: reconciler,
		upserter:   NewUpserter(store, reconciler, logger),
		validator:  NewValidator(),
		detector:   detector,
		logger:     logger,
	}, nil
}

// OnProgress registers the progress callback. It must not block.
func (im *Importer) OnProgress(cb ProgressCallback) {
	im.progress = cb
}

// Reconciler exposes the reconciler, e.g. to replace the key inferrer.
func (im *Importer) Reconciler() *Reconciler {
	return im.reconciler
}

func (im *Importer) emit(p ImportProgress) {
	if im.progress != nil {
		im.progress(p)
	}
}

// runState tracks cumulative errors across the tables of one run.
type runState struct {
	errors  int
	aborted bool
}

func (im *Importer) countError(st *runState) {
	st.errors++
	if im.opts.MaxErrors > 0 && st.errors > im.opts.MaxErrors {
		st.aborted = true
	}
}

// Run imports every table found in dir. The report holds one result per
// discovered table, including tables skipped by cancellation or an abort.
// Only a discovery failure is returned as an error.
func (im *Importer) Run(ctx context.Context, dir string) (report RunReport, err error) {
	report = RunReport{Dir: dir, Started: time.Now(), Outcome: OutcomeCompleted}
	defer func() { report.Elapsed = time.Since(report.Started) }()

	im.emit(ImportProgress{Phase: PhaseDiscovering, Status: "Discovering tables"})
	tables, err := Discover(dir, im.opts.MandatoryTables, im.logger)
	if err != nil {
		im.emit(ImportProgress{Phase: PhaseFailed, Status: err.Error()})
		return report, err
	}
	im.logger.Info("tables discovered", "dir", dir, "count", len(tables))

	st := &runState{}
	failed := make(map[string]ImportResult)
	created := make(map[string]bool)

	if im.opts.DetectStructure {
		for _, meta := range tables {
			if ctx.Err() != nil {
				break
			}
			im.emit(ImportProgress{Table: meta.Name, Phase: PhaseReconciling, Status: "Reconciling structure"})

			rep, err := im.reconciler.Ensure(ctx, meta)
			if err != nil {
				im.logger.Error("reconciliation failed", "table", meta.Name, "error", err)
				failed[meta.Name] = tableFailure(meta.Name, err)
				im.countError(st)
				continue
			}
			created[meta.Name] = rep.Created
		}
	}

	for i, meta := range tables {
		if ctx.Err() != nil || st.aborted {
			report.Results = append(report.Results, im.notStarted(tables[i:], ctx.Err() != nil)...)
			break
		}

		if res, ok := failed[meta.Name]; ok {
			report.Results = append(report.Results, res)
			continue
		}

		res := im.importTable(ctx, meta, created[meta.Name], st)
		report.Results = append(report.Results, res)
	}

	report.Outcome = im.outcome(ctx, st, report)
	phase := PhaseComplete
	if report.Outcome != OutcomeCompleted {
		phase = PhaseCancelled
	}
	succeeded, failedRows := report.Totals()
	im.emit(ImportProgress{Phase: phase, Succeeded: succeeded, Failed: failedRows, Status: string(report.Outcome)})
	im.logger.Info("import finished",
		"dir", dir,
		"outcome", report.Outcome,
		"tables", len(report.Results),
		"succeeded", succeeded,
		"failed", failedRows,
		"elapsed", time.Since(report.Started),
	)
	return report, nil
}

func (im *Importer) outcome(ctx context.Context, st *runState, report RunReport) RunOutcome {
	switch {
	case st.aborted:
		return OutcomeAbortedMaxErrors
	case ctx.Err() != nil:
		if succeeded, _ := report.Totals(); succeeded > 0 {
			return OutcomeCancelledPartial
		}
		return OutcomeCancelledNoProgress
	default:
		return OutcomeCompleted
	}
}

// notStarted builds results for tables the run never reached.
func (im *Importer) notStarted(tables []*TableMetadata, cancelled bool) []ImportResult {
	reason := "run aborted: error limit exceeded"
	if cancelled {
		reason = "run cancelled before this table started"
	}
	out := make([]ImportResult, len(tables))
	for i, t := range tables {
		out[i] = ImportResult{Table: t.Name, Cancelled: cancelled, FatalError: reason}
	}
	return out
}

func tableFailure(table string, err error) ImportResult {
	return ImportResult{
		Table:       table,
		FatalError:  err.Error(),
		ErrorCounts: map[ErrorCategory]int{Classify(err): 1},
	}
}

// importTable imports one table's data file. bulk enables the COPY path,
// which is only safe for tables created during this run.
func (im *Importer) importTable(ctx context.Context, meta *TableMetadata, bulk bool, st *runState) ImportResult {
	start := time.Now()
	logger := im.logger.With("table", meta.Name)
	res := ImportResult{Table: meta.Name}
	acc := NewErrorAccumulator(MaxWarningsPerTable)

	finish := func(phase ImportPhase, status string) ImportResult {
		res.Elapsed = time.Since(start)
		res.Success = res.Succeeded > 0
		res.ErrorCounts = acc.Counts()
		res.Warnings = acc.Warnings()
		im.emit(ImportProgress{
			Table:          meta.Name,
			Phase:          phase,
			LinesProcessed: res.Succeeded + res.Failed + res.Skipped,
			TotalLines:     res.TotalLines,
			Succeeded:      res.Succeeded,
			Failed:         res.Failed,
			Status:         status,
		})
		return res
	}

	lines, err := im.readLines(meta)
	if err != nil {
		logger.Error("data file unreadable", "file", meta.DataFile, "error", err)
		acc.Add(err)
		res.FatalError = err.Error()
		return finish(PhaseFailed, err.Error())
	}
	res.TotalLines = len(lines)

	im.reconciler.EnsureKeys(meta)
	im.emit(ImportProgress{Table: meta.Name, Phase: PhaseImporting, TotalLines: len(lines), Status: "Starting"})

	repairer := NewLineRepairer(im.opts.RepairEncoding, logger)
	batch := im.newBatch(meta, bulk, logger)

	for i, line := range lines {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		lineNum := i + 1

		if strings.TrimSpace(line) == "" {
			res.Skipped++
		} else {
			line = repairer.Repair(line)
			if strings.ContainsRune(line, utf8.RuneError) {
				acc.Warn(fmt.Sprintf("line %d: contains undecodable characters", lineNum))
			}

			// Cancellation is only observed between lines; a started
			// write always finishes.
			wrote, err := im.processLine(context.WithoutCancel(ctx), meta, line, lineNum, acc, batch)
			switch {
			case err != nil:
				res.Failed++
				cat := acc.Add(err)
				logger.Warn("line failed", "line", lineNum, "category", cat, "error", err)
				im.countError(st)
			case wrote:
				res.Succeeded++
			case batch == nil:
				res.Skipped++
			}
		}

		if batch != nil && batch.full() {
			im.flushBatch(context.WithoutCancel(ctx), batch, &res, acc, st, logger)
		}

		if lineNum%im.opts.ProgressInterval == 0 || lineNum == len(lines) {
			im.emit(ImportProgress{
				Table:          meta.Name,
				Phase:          PhaseImporting,
				LinesProcessed: lineNum,
				TotalLines:     len(lines),
				Succeeded:      res.Succeeded,
				Failed:         res.Failed,
				Status:         fmt.Sprintf("Processed %d of %d lines", lineNum, len(lines)),
			})
		}

		if st.aborted {
			logger.Warn("error limit exceeded, stopping run", "max_errors", im.opts.MaxErrors)
			break
		}
	}

	if batch != nil && len(batch.rows) > 0 {
		// Rows already validated are loaded even when the run was cancelled.
		im.flushBatch(context.WithoutCancel(ctx), batch, &res, acc, st, logger)
	}

	if n := repairer.Repaired(); n > 0 {
		logger.Info("lines repaired", "count", n)
		acc.Warn(fmt.Sprintf("%d lines re-decoded to remove double encoding", n))
	}

	logger.Info("table imported",
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"elapsed", time.Since(start),
	)

	switch {
	case res.Cancelled:
		return finish(PhaseCancelled, "Cancelled")
	case st.aborted:
		res.FatalError = fmt.Sprintf("run aborted after %d errors", st.errors)
		return finish(PhaseFailed, res.FatalError)
	default:
		return finish(PhaseComplete, "Complete")
	}
}

func (im *Importer) readLines(meta *TableMetadata) ([]string, error) {
	enc, err := im.detector.Detect(meta.DataFile)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(meta.DataFile)
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}
	return DecodeLines(data, enc)
}

// processLine runs one line through parse, validate, prepare and write.
// With an active batch the prepared row is buffered and wrote is false.
func (im *Importer) processLine(ctx context.Context, meta *TableMetadata, line string, lineNum int, acc *ErrorAccumulator, batch *rowBatch) (wrote bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			wrote, err = false, fmt.Errorf("line %d: unexpected failure: %v", lineNum, r)
		}
	}()

	rec, warnings := ParseRecord(line, meta)
	for _, w := range warnings {
		acc.Warn(fmt.Sprintf("line %d: %s", lineNum, w))
	}

	outcome := im.validator.Validate(rec, meta)
	for _, w := range outcome.Warnings {
		acc.Warn(fmt.Sprintf("line %d: %s", lineNum, w))
	}
	if !outcome.Valid {
		return false, fmt.Errorf("line %d: %w: %s", lineNum, ErrNotNull, strings.Join(outcome.Errors, "; "))
	}

	row, err := im.upserter.Prepare(ctx, meta, rec)
	if err != nil {
		return false, fmt.Errorf("line %d: %w", lineNum, err)
	}
	if len(row.Truncated) > 0 {
		acc.Warn(fmt.Sprintf("line %d: truncated %s", lineNum, strings.Join(row.Truncated, ", ")))
	}
	if len(row.BadDates) > 0 {
		acc.Warn(fmt.Sprintf("line %d: invalid competence in %s, stored as null", lineNum, strings.Join(row.BadDates, ", ")))
	}

	if batch != nil {
		batch.add(row, lineNum)
		return false, nil
	}

	wrote, err = im.upserter.Write(ctx, row, im.opts.Policy)
	if err != nil {
		return false, fmt.Errorf("line %d: %w", lineNum, err)
	}
	return wrote, nil
}

// rowBatch buffers prepared rows for a bulk load.
type rowBatch struct {
	bulk    BulkStore
	table   string
	size    int
	columns []string
	rows    []PreparedRow
	lines   []int
}

func (im *Importer) newBatch(meta *TableMetadata, created bool, logger *slog.Logger) *rowBatch {
	if !created || !im.opts.BulkLoad {
		return nil
	}
	bulk, ok := im.store.(BulkStore)
	if !ok {
		return nil
	}
	logger.Debug("bulk load enabled", "batch_size", im.opts.BatchSize)
	return &rowBatch{bulk: bulk, table: meta.Name, size: im.opts.BatchSize}
}

func (b *rowBatch) add(row PreparedRow, lineNum int) {
	if b.columns == nil {
		b.columns = make([]string, len(row.Fields))
		for i, f := range row.Fields {
			b.columns[i] = f.Name
		}
	}
	b.rows = append(b.rows, row)
	b.lines = append(b.lines, lineNum)
}

func (b *rowBatch) full() bool { return len(b.rows) >= b.size }

func (b *rowBatch) reset() {
	b.rows = b.rows[:0]
	b.lines = b.lines[:0]
}

// flushBatch loads the buffered rows with one COPY. If the COPY fails the
// rows are written one by one so that only the offending lines fail.
func (im *Importer) flushBatch(ctx context.Context, b *rowBatch, res *ImportResult, acc *ErrorAccumulator, st *runState, logger *slog.Logger) {
	defer b.reset()

	data := make([][]any, len(b.rows))
	for i, row := range b.rows {
		data[i] = row.Values(b.columns)
	}

	n, err := b.bulk.CopyRows(ctx, b.table, b.columns, data)
	if err == nil {
		res.Succeeded += int(n)
		return
	}
	logger.Warn("bulk load failed, falling back to row writes", "rows", len(b.rows), "error", err)

	for i, row := range b.rows {
		wrote, err := im.upserter.Write(ctx, row, im.opts.Policy)
		switch {
		case err != nil:
			res.Failed++
			cat := acc.Add(fmt.Errorf("line %d: %w", b.lines[i], err))
			logger.Warn("line failed", "line", b.lines[i], "category", cat, "error", err)
			im.countError(st)
		case wrote:
			res.Succeeded++
		default:
			res.Skipped++
		}
	}
}
