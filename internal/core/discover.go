package core

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMandatoryTables are the tables a usable SIGTAP import needs.
var DefaultMandatoryTables = []string{
	"TB_PROCEDIMENTO",
	"TB_GRUPO",
	"TB_SUB_GRUPO",
	"TB_FORMA_ORGANIZACAO",
}

// Discover scans dir for "<table>_layout.txt" files paired with a
// "<table>.txt" data file and returns their metadata sorted by import
// priority. Pairs without a data file and layouts without a single valid
// column are logged and skipped. Only a failure to read dir is an error.
func Discover(dir string, mandatory []string, logger *slog.Logger) ([]*TableMetadata, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read import directory: %w", err)
	}

	files := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			files[strings.ToLower(e.Name())] = e.Name()
		}
	}

	required := make(map[string]bool, len(mandatory))
	for _, name := range mandatory {
		required[strings.ToUpper(strings.TrimSpace(name))] = true
	}

	var tables []*TableMetadata

	for lower, name := range files {
		if !strings.HasSuffix(lower, LayoutSuffix) {
			continue
		}
		base := strings.TrimSuffix(lower, LayoutSuffix)
		dataName, ok := files[base+DataSuffix]
		if !ok {
			logger.Warn("data file missing, table skipped", "layout", name)
			continue
		}

		table := TableNameFromLayout(name)
		meta, err := NewTableMetadata(
			filepath.Join(dir, name),
			filepath.Join(dir, dataName),
			PriorityFor(table),
			required[table],
		)
		if err != nil {
			logger.Warn("layout unusable, table skipped", "layout", name, "error", err)
			continue
		}

		tables = append(tables, meta)
	}

	for _, name := range MissingMandatory(tables, mandatory) {
		logger.Warn("mandatory table not found", "table", name, "dir", dir)
	}

	SortTables(tables)
	return tables, nil
}

// MissingMandatory returns the mandatory table names absent from tables.
func MissingMandatory(tables []*TableMetadata, mandatory []string) []string {
	have := make(map[string]bool, len(tables))
	for _, t := range tables {
		have[t.Name] = true
	}
	var missing []string
	for _, name := range mandatory {
		if n := strings.ToUpper(strings.TrimSpace(name)); n != "" && !have[n] {
			missing = append(missing, n)
		}
	}
	return missing
}
