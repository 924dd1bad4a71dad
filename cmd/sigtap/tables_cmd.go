package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sigtap/internal/core"
)

var tablesKeys []string

var tablesCmd = &cobra.Command{
	Use:   "tables [dir]",
	Short: "List the tables an import would load, in import order",
	Long: `List every layout/data file pair found in dir with its import priority,
column count and the primary key an import would use.

No database is needed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTables,
}

func init() {
	tablesCmd.Flags().StringArrayVar(&tablesKeys, "key", nil, "Primary key override: TABLE=COL1,COL2 (repeatable)")
}

func runTables(cmd *cobra.Command, args []string) error {
	dir, err := dirArg(args)
	if err != nil {
		return err
	}

	opts, err := cfg.Import.Options()
	if err != nil {
		return err
	}
	overrides, err := parseKeyOverrides(tablesKeys)
	if err != nil {
		return err
	}

	tables, err := core.Discover(dir, opts.MandatoryTables, logger)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		return fmt.Errorf("no layout/data file pairs found in %s", dir)
	}

	keys := core.NewReconciler(nil, logger)
	keys.KeyOverrides = mergeKeys(opts.KeyOverrides, overrides)
	for _, meta := range tables {
		keys.EnsureKeys(meta)
	}

	fmt.Fprintln(os.Stdout, renderTables(tables, core.MissingMandatory(tables, opts.MandatoryTables)))
	return nil
}
