package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sigtap/internal/core"
)

var (
	importPolicy      string
	importMaxErrors   int
	importEncoding    string
	importBatchSize   int
	importDryRun      bool
	importNoRepair    bool
	importNoStructure bool
	importNoBulk      bool
	importQuiet       bool
	importKeys        []string
)

var importCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "Import every table found in a SIGTAP directory",
	Long: `Import every layout/data file pair found in dir (default IMPORT_DIR).

Tables are imported parents first. Each line is parsed, validated and
upserted on its own; a bad line is counted and never stops its table.

Examples:
  sigtap import ./TabelaUnificada_202401
  sigtap import ./dump --policy ignore --max-errors 500
  sigtap import ./dump --dry-run
  sigtap import ./dump --key RL_PROCEDIMENTO_CID=CO_PROCEDIMENTO,CO_CID`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

// errIncomplete marks runs that ended without importing everything.
var errIncomplete = errors.New("import incomplete")

func init() {
	importCmd.Flags().StringVar(&importPolicy, "policy", "", "Duplicate policy: ignore, update, error (default IMPORT_DUPLICATE_POLICY)")
	importCmd.Flags().IntVar(&importMaxErrors, "max-errors", 0, "Stop after this many errors (0=unlimited, default IMPORT_MAX_ERRORS)")
	importCmd.Flags().StringVar(&importEncoding, "encoding", "", "Fallback encoding when detection finds no fit")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 0, "Rows per bulk load (default IMPORT_BATCH_SIZE)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate and load into memory only; no database needed")
	importCmd.Flags().BoolVar(&importNoRepair, "no-repair", false, "Do not re-decode double-encoded lines")
	importCmd.Flags().BoolVar(&importNoStructure, "no-structure", false, "Do not create or alter tables")
	importCmd.Flags().BoolVar(&importNoBulk, "no-bulk", false, "Write every row through the upsert path")
	importCmd.Flags().BoolVarP(&importQuiet, "quiet", "q", false, "Hide progress bars")
	importCmd.Flags().StringArrayVar(&importKeys, "key", nil, "Primary key override: TABLE=COL1,COL2 (repeatable)")
}

// importOptions merges configuration with the flags that were set.
func importOptions(cmd *cobra.Command) (core.ImportOptions, error) {
	opts, err := cfg.Import.Options()
	if err != nil {
		return opts, err
	}

	flags := cmd.Flags()
	if flags.Changed("policy") {
		if opts.Policy, err = core.ParseDuplicatePolicy(importPolicy); err != nil {
			return opts, err
		}
	}
	if flags.Changed("max-errors") {
		if importMaxErrors < 0 {
			return opts, fmt.Errorf("--max-errors must be non-negative")
		}
		opts.MaxErrors = importMaxErrors
	}
	if flags.Changed("encoding") {
		enc, err := core.LookupEncoding(importEncoding)
		if err != nil {
			return opts, err
		}
		opts.DefaultEncoding = enc.Name
	}
	if flags.Changed("batch-size") && importBatchSize > 0 {
		opts.BatchSize = importBatchSize
	}
	if importNoRepair {
		opts.RepairEncoding = false
	}
	if importNoStructure {
		opts.DetectStructure = false
	}
	if importNoBulk {
		opts.BulkLoad = false
	}

	keys, err := parseKeyOverrides(importKeys)
	if err != nil {
		return opts, err
	}
	opts.KeyOverrides = mergeKeys(opts.KeyOverrides, keys)
	return opts, nil
}

// mergeKeys layers flag overrides over those from IMPORT_KEY_FILE.
func mergeKeys(base, flags map[string][]string) map[string][]string {
	if len(flags) == 0 {
		return base
	}
	out := make(map[string][]string, len(base)+len(flags))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range flags {
		out[k] = v
	}
	return out
}

// parseKeyOverrides parses TABLE=COL1,COL2 values.
func parseKeyOverrides(values []string) (map[string][]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string][]string, len(values))
	for _, v := range values {
		table, cols, ok := strings.Cut(v, "=")
		table = strings.ToUpper(strings.TrimSpace(table))
		if !ok || table == "" {
			return nil, fmt.Errorf("invalid --key %q: want TABLE=COL1,COL2", v)
		}
		var keys []string
		for _, c := range strings.Split(cols, ",") {
			if c = strings.TrimSpace(c); c != "" {
				keys = append(keys, strings.ToUpper(c))
			}
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("invalid --key %q: no columns", v)
		}
		out[table] = keys
	}
	return out, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	dir, err := dirArg(args)
	if err != nil {
		return err
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("import directory not found: %s", dir)
	}

	opts, err := importOptions(cmd)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(importDryRun)
	if err != nil {
		return err
	}
	defer closeStore()

	importer, err := core.NewImporter(store, opts, logger)
	if err != nil {
		return err
	}

	progress := newProgressReporter(os.Stdout, importQuiet)
	importer.OnProgress(progress.Update)

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Import.Timeout)
	defer cancel()

	fmt.Fprintln(os.Stdout, titleStyle.Render("sigtap import")+" "+mutedStyle.Render(dir))
	report, err := importer.Run(ctx, dir)
	progress.Finish()
	if err != nil {
		return fmt.Errorf("import failed: %s", core.FormatUserError(err))
	}

	fmt.Fprintln(os.Stdout, renderReport(report))
	return reportError(report)
}

// reportError turns an unfinished run or failed tables into an exit error.
func reportError(report core.RunReport) error {
	if report.Outcome != core.OutcomeCompleted {
		return fmt.Errorf("%w: %s", errIncomplete, report.Outcome)
	}
	var failed []string
	for _, res := range report.Results {
		if res.FatalError != "" {
			failed = append(failed, res.Table)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %d tables failed (%s)", errIncomplete, len(failed), strings.Join(failed, ", "))
	}
	return nil
}
