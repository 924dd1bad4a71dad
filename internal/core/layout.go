package core

// layout.go parses layout-description files into column metadata.
//
// A layout file has one header line followed by one line per column:
//
//	ColumnName,Length,StartPosition,EndPosition,DataType
//
// The parser salvages as many columns as it can. A malformed line is
// dropped with a warning and never aborts the file.

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LayoutSuffix and DataSuffix pair a layout file with its data file.
const (
	LayoutSuffix = "_layout.txt"
	DataSuffix   = ".txt"
)

// ParseLayout reads a layout description and returns the valid columns in
// file order together with a warning per dropped line. Only read failures
// are returned as errors.
func ParseLayout(r io.Reader, source string) ([]ColumnDefinition, []string, error) {
	var (
		columns  []ColumnDefinition
		warnings []string
		seen     = make(map[string]bool)
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum == 1 {
			continue // header
		}

		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" {
			continue
		}

		col, err := parseLayoutLine(line)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s:%d: %v", source, lineNum, err))
			continue
		}

		key := strings.ToUpper(col.Name)
		if seen[key] {
			warnings = append(warnings, fmt.Sprintf("%s:%d: duplicate column %q", source, lineNum, col.Name))
			continue
		}
		seen[key] = true

		columns = append(columns, col)
	}

	if err := scanner.Err(); err != nil {
		return columns, warnings, fmt.Errorf("read layout %s: %w", source, err)
	}

	return columns, warnings, nil
}

// parseLayoutLine parses a single "name,length,start,end,type" line.
func parseLayoutLine(line string) (ColumnDefinition, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 5 {
		return ColumnDefinition{}, fmt.Errorf("expected 5 fields, got %d", len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	name := parts[0]
	if name == "" {
		return ColumnDefinition{}, fmt.Errorf("empty column name")
	}

	start, err := strconv.Atoi(parts[2])
	if err != nil {
		return ColumnDefinition{}, fmt.Errorf("column %s: invalid start position %q", name, parts[2])
	}
	end, err := strconv.Atoi(parts[3])
	if err != nil {
		return ColumnDefinition{}, fmt.Errorf("column %s: invalid end position %q", name, parts[3])
	}
	if start <= 0 || end <= 0 {
		return ColumnDefinition{}, fmt.Errorf("column %s: positions must be positive (start=%d, end=%d)", name, start, end)
	}
	if end < start {
		return ColumnDefinition{}, fmt.Errorf("column %s: end %d before start %d", name, end, start)
	}

	length := end - start + 1
	declared, err := strconv.Atoi(parts[1])
	if err != nil || declared != length {
		slog.Debug("layout length overridden by positions",
			"column", name,
			"declared", parts[1],
			"computed", length,
		)
	}

	return ColumnDefinition{
		Name:     name,
		Length:   length,
		Start:    start,
		End:      end,
		Type:     ParseDataType(parts[4]),
		Nullable: true,
	}, nil
}

// ParseLayoutFile opens and parses a layout file.
func ParseLayoutFile(path string) ([]ColumnDefinition, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open layout: %w", err)
	}
	defer f.Close()

	return ParseLayout(f, filepath.Base(path))
}

// TableNameFromLayout derives the storage table name from a layout file
// name: "tb_grupo_layout.txt" -> "TB_GRUPO".
func TableNameFromLayout(layoutPath string) string {
	base := filepath.Base(layoutPath)
	if len(base) >= len(LayoutSuffix) && strings.EqualFold(base[len(base)-len(LayoutSuffix):], LayoutSuffix) {
		base = base[:len(base)-len(LayoutSuffix)]
	}
	return strings.ToUpper(base)
}

// NewTableMetadata builds metadata from a layout/data file pair. It reads
// the layout file only; the data file is not touched.
func NewTableMetadata(layoutPath, dataPath string, priority int, required bool) (*TableMetadata, error) {
	columns, warnings, err := ParseLayoutFile(layoutPath)
	if err != nil {
		return nil, err
	}

	name := TableNameFromLayout(layoutPath)
	for _, w := range warnings {
		slog.Warn("layout line dropped", "table", name, "detail", w)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("layout %s: no valid columns", filepath.Base(layoutPath))
	}

	return &TableMetadata{
		Name:       name,
		DataFile:   dataPath,
		LayoutFile: layoutPath,
		Columns:    columns,
		Priority:   priority,
		Required:   required,
	}, nil
}
