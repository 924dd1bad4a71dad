package core

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// DataType is the logical type a layout file declares for a column.
type DataType int

const (
	TypeVarchar DataType = iota
	TypeChar
	TypeNumber
	TypeDate
)

// ParseDataType maps a layout type token to a DataType.
// Unknown tokens are treated as character data.
func ParseDataType(s string) DataType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NUMBER", "NUMERIC":
		return TypeNumber
	case "CHAR":
		return TypeChar
	case "DATE":
		return TypeDate
	default:
		return TypeVarchar
	}
}

func (t DataType) String() string {
	switch t {
	case TypeChar:
		return "CHAR"
	case TypeNumber:
		return "NUMBER"
	case TypeDate:
		return "DATE"
	default:
		return "VARCHAR2"
	}
}

// IsText reports whether values of this type are carried as strings.
func (t DataType) IsText() bool {
	return t == TypeChar || t == TypeVarchar
}

// ColumnDefinition describes one fixed-width field of a data file.
// Start and End are 1-based and inclusive; Length always equals End-Start+1.
type ColumnDefinition struct {
	Name       string   `json:"name"`
	Length     int      `json:"length"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Type       DataType `json:"type"`
	Nullable   bool     `json:"nullable"`
	PrimaryKey bool     `json:"primaryKey"`
}

// Offset returns the 0-based start offset of the column in a line.
func (c ColumnDefinition) Offset() int {
	return c.Start - 1
}

// TableMetadata describes a discovered table. It is immutable after
// creation except for primary-key flags, which are back-filled once.
type TableMetadata struct {
	Name       string             `json:"name"`
	DataFile   string             `json:"dataFile"`
	LayoutFile string             `json:"layoutFile"`
	Columns    []ColumnDefinition `json:"columns"`
	Priority   int                `json:"priority"`
	Required   bool               `json:"required"`

	keysMu  sync.Mutex
	keysSet bool
}

// Column returns the column with the given name (case-insensitive).
func (m *TableMetadata) Column(name string) (ColumnDefinition, bool) {
	for _, c := range m.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnDefinition{}, false
}

// ColumnNames returns the declared column names in layout order.
func (m *TableMetadata) ColumnNames() []string {
	names := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		names[i] = c.Name
	}
	return names
}

// HasKeyFlags reports whether primary-key flags have been assigned.
func (m *TableMetadata) HasKeyFlags() bool {
	m.keysMu.Lock()
	defer m.keysMu.Unlock()
	return m.keysSet
}

// PrimaryKeyColumns returns the names of the columns flagged as key.
func (m *TableMetadata) PrimaryKeyColumns() []string {
	m.keysMu.Lock()
	defer m.keysMu.Unlock()

	var keys []string
	for _, c := range m.Columns {
		if c.PrimaryKey {
			keys = append(keys, c.Name)
		}
	}
	return keys
}

// SetPrimaryKeys flags the named columns as primary key. It only has an
// effect the first time it is called; the key is stable for the run.
// Returns false if the flags had already been set.
func (m *TableMetadata) SetPrimaryKeys(names []string) bool {
	m.keysMu.Lock()
	defer m.keysMu.Unlock()

	if m.keysSet {
		return false
	}
	for i := range m.Columns {
		for _, n := range names {
			if strings.EqualFold(m.Columns[i].Name, n) {
				m.Columns[i].PrimaryKey = true
				m.Columns[i].Nullable = false
			}
		}
	}
	m.keysSet = true
	return true
}

// ValueKind identifies which field of a Value is populated.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInt
	KindDecimal
	KindString
	KindTime
)

// Value is a typed field value extracted from a fixed-width line.
type Value struct {
	Kind    ValueKind
	Int     int64
	Decimal pgtype.Numeric
	Str     string
	Time    time.Time
}

// NullValue returns the absent value.
func NullValue() Value { return Value{Kind: KindNull} }

// IntValue wraps an integer.
func IntValue(i int64) Value { return Value{Kind: KindInt, Int: i} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// DecimalValue wraps a numeric.
func DecimalValue(n pgtype.Numeric) Value { return Value{Kind: KindDecimal, Decimal: n} }

// TimeValue wraps a calendar date.
func TimeValue(t time.Time) Value { return Value{Kind: KindTime, Time: t} }

// IsNull reports whether the value is absent.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsNumeric reports whether the value holds an integer or decimal.
func (v Value) IsNumeric() bool { return v.Kind == KindInt || v.Kind == KindDecimal }

// IsBlank reports whether the value is null or an all-space string.
func (v Value) IsBlank() bool {
	return v.Kind == KindNull || (v.Kind == KindString && strings.TrimSpace(v.Str) == "")
}

// Float returns the numeric value as float64. ok is false for
// non-numeric values.
func (v Value) Float() (f float64, ok bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindDecimal:
		f8, err := v.Decimal.Float64Value()
		if err != nil || !f8.Valid {
			return 0, false
		}
		return f8.Float64, true
	default:
		return 0, false
	}
}

// Any returns the value in a form accepted by the storage driver.
func (v Value) Any() any {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindDecimal:
		return v.Decimal
	case KindString:
		return v.Str
	case KindTime:
		return v.Time
	default:
		return nil
	}
}

// String renders the value for logs and warnings.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindDecimal:
		b, err := v.Decimal.MarshalJSON()
		if err != nil {
			return "?"
		}
		return string(b)
	case KindString:
		return v.Str
	case KindTime:
		return v.Time.Format(time.DateOnly)
	default:
		return "NULL"
	}
}

// Field is one named value of a ParsedRecord.
type Field struct {
	Name  string
	Value Value
}

// ParsedRecord is an ordered mapping from column name to value.
type ParsedRecord struct {
	Fields []Field
}

// Get returns the value for a column (case-insensitive).
func (r ParsedRecord) Get(name string) (Value, bool) {
	for _, f := range r.Fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Set replaces the value of an existing column or appends a new one.
func (r *ParsedRecord) Set(name string, v Value) {
	for i := range r.Fields {
		if strings.EqualFold(r.Fields[i].Name, name) {
			r.Fields[i].Value = v
			return
		}
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: v})
}

// ValidationOutcome is the result of validating one record.
// Errors block the row; warnings do not.
type ValidationOutcome struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ImportPhase indicates the current stage of a table import.
type ImportPhase string

const (
	PhaseDiscovering ImportPhase = "discovering"
	PhaseReconciling ImportPhase = "reconciling"
	PhaseImporting   ImportPhase = "importing"
	PhaseComplete    ImportPhase = "complete"
	PhaseFailed      ImportPhase = "failed"
	PhaseCancelled   ImportPhase = "cancelled"
)

// ImportProgress is streamed while a table is being processed.
type ImportProgress struct {
	Table          string      `json:"table"`
	Phase          ImportPhase `json:"phase"`
	LinesProcessed int         `json:"linesProcessed"`
	TotalLines     int         `json:"totalLines"`
	Succeeded      int         `json:"succeeded"`
	Failed         int         `json:"failed"`
	Status         string      `json:"status"`
}

// Percent returns the progress as a percentage (0-100).
func (p ImportProgress) Percent() int {
	if p.TotalLines <= 0 {
		return 0
	}
	return (p.LinesProcessed * 100) / p.TotalLines
}

// ProgressCallback receives progress updates. It must not block.
type ProgressCallback func(ImportProgress)

// ImportResult is the final outcome of importing one table.
type ImportResult struct {
	Table       string                `json:"table"`
	Success     bool                  `json:"success"`
	Succeeded   int                   `json:"succeeded"`
	Failed      int                   `json:"failed"`
	Skipped     int                   `json:"skipped"`
	TotalLines  int                   `json:"totalLines"`
	Elapsed     time.Duration         `json:"elapsed"`
	Warnings    []string              `json:"warnings,omitempty"`
	ErrorCounts map[ErrorCategory]int `json:"errorCounts,omitempty"`
	FatalError  string                `json:"fatalError,omitempty"`
	Cancelled   bool                  `json:"cancelled,omitempty"`
}

// RunOutcome summarizes how an import run ended.
type RunOutcome string

const (
	OutcomeCompleted           RunOutcome = "completed"
	OutcomeCancelledNoProgress RunOutcome = "cancelled_no_progress"
	OutcomeCancelledPartial    RunOutcome = "cancelled_partial"
	OutcomeAbortedMaxErrors    RunOutcome = "aborted_max_errors"
)

// RunReport holds one ImportResult per table touched by a run.
type RunReport struct {
	RunID   string         `json:"runId"`
	Dir     string         `json:"dir"`
	Outcome RunOutcome     `json:"outcome"`
	Results []ImportResult `json:"results"`
	Started time.Time      `json:"started"`
	Elapsed time.Duration  `json:"elapsed"`
}

// Totals returns the number of written and failed rows across all tables.
func (r RunReport) Totals() (succeeded, failed int) {
	for _, res := range r.Results {
		succeeded += res.Succeeded
		failed += res.Failed
	}
	return succeeded, failed
}
