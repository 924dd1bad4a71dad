package core

// upsert.go writes parsed records into destination tables.
//
// Writing is split in two steps. Prepare shapes a record for the live
// schema: unknown columns are dropped, text is cut to the storage-reported
// byte capacity and competence codes become dates. Write then runs the
// existence check and the insert or update in one transaction per row, so a
// failed row never rolls back rows written before it.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// DuplicatePolicy decides what happens when a row's key already exists.
type DuplicatePolicy string

const (
	PolicyIgnore DuplicatePolicy = "ignore"
	PolicyUpdate DuplicatePolicy = "update"
	PolicyError  DuplicatePolicy = "error"
)

// DefaultDuplicatePolicy is used when no policy is configured.
const DefaultDuplicatePolicy = PolicyUpdate

// ParseDuplicatePolicy parses a policy name. Empty means the default.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultDuplicatePolicy, nil
	case PolicyIgnore:
		return PolicyIgnore, nil
	case PolicyUpdate:
		return PolicyUpdate, nil
	case PolicyError:
		return PolicyError, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q (want ignore, update or error)", s)
	}
}

// upperCaseColumns lists descriptive columns that are always stored in
// upper case, keyed by table.
var upperCaseColumns = map[string]string{
	"RL_PROCEDIMENTO_CID":      "NO_CID",
	"RL_PROCEDIMENTO_OCUPACAO": "NO_OCUPACAO",
}

// PreparedRow is a record shaped for the live schema of its table.
type PreparedRow struct {
	Table     string
	Key       []Field
	Fields    []Field
	Truncated []string
	// BadDates lists DATE columns whose value was not a YYYYMM competence.
	BadDates []string
}

// Values returns the field values in column order for bulk loading.
func (p PreparedRow) Values(columns []string) []any {
	out := make([]any, len(columns))
	for i, name := range columns {
		for _, f := range p.Fields {
			if strings.EqualFold(f.Name, name) {
				out[i] = f.Value.Any()
				break
			}
		}
	}
	return out
}

// Upserter writes records under a duplicate policy.
type Upserter struct {
	store      Store
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewUpserter creates an upsert engine. The reconciler supplies live
// column capacities and key inference.
func NewUpserter(store Store, reconciler *Reconciler, logger *slog.Logger) *Upserter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Upserter{store: store, reconciler: reconciler, logger: logger}
}

// Prepare shapes rec for the live schema of meta's table.
func (u *Upserter) Prepare(ctx context.Context, meta *TableMetadata, rec ParsedRecord) (PreparedRow, error) {
	u.reconciler.EnsureKeys(meta)

	live, err := u.reconciler.Columns(ctx, meta.Name)
	if err != nil {
		return PreparedRow{}, fmt.Errorf("load columns of %s: %w", meta.Name, err)
	}

	row := PreparedRow{Table: meta.Name, Fields: make([]Field, 0, len(rec.Fields))}
	upperCol := upperCaseColumns[strings.ToUpper(meta.Name)]

	for _, f := range rec.Fields {
		lc, ok := live[strings.ToUpper(f.Name)]
		if !ok {
			continue
		}

		v := f.Value
		if v.Kind == KindString && upperCol != "" && strings.EqualFold(f.Name, upperCol) {
			v.Str = strings.ToUpper(v.Str)
		}
		v = u.coerce(meta.Name, lc, v, &row)

		row.Fields = append(row.Fields, Field{Name: lc.Name, Value: v})
	}

	for _, keyCol := range meta.PrimaryKeyColumns() {
		lc, ok := live[strings.ToUpper(keyCol)]
		if !ok {
			return PreparedRow{}, fmt.Errorf("%w: key column %s.%s missing from storage", ErrSchemaMismatch, meta.Name, keyCol)
		}
		v, _ := fieldValue(row.Fields, lc.Name)
		row.Key = append(row.Key, Field{Name: lc.Name, Value: v})
	}

	return row, nil
}

// coerce fits a value to its live column.
func (u *Upserter) coerce(table string, lc LiveColumn, v Value, row *PreparedRow) Value {
	if v.Kind != KindString {
		return v
	}

	if lc.Kind == StorageDate {
		if t, ok := CompetenceToDate(v.Str); ok {
			return TimeValue(t)
		}
		if strings.TrimSpace(v.Str) != "" {
			row.BadDates = append(row.BadDates, lc.Name)
		}
		return NullValue()
	}

	if !lc.Kind.IsText() {
		return v
	}

	cut, chars := TruncateToRunes(v.Str, lc.Length)
	cut, byteCut := SafeTruncate(cut, lc.MaxBytes)
	if !chars && !byteCut {
		return v
	}
	row.Truncated = append(row.Truncated, lc.Name)
	if lc.MaxBytes > 0 && len(cut) > lc.MaxBytes {
		u.logger.Error("value still exceeds column capacity after truncation",
			"table", table, "column", lc.Name, "bytes", len(cut), "capacity", lc.MaxBytes)
	} else {
		u.logger.Debug("value truncated",
			"table", table, "column", lc.Name, "from_bytes", len(v.Str), "to_bytes", len(cut))
	}
	return StringValue(cut)
}

// Write stores a prepared row in its own transaction. It reports whether a
// row was inserted or updated; skipped duplicates return false.
func (u *Upserter) Write(ctx context.Context, row PreparedRow, policy DuplicatePolicy) (bool, error) {
	if policy == "" {
		policy = DefaultDuplicatePolicy
	}

	wrote := false
	err := u.store.InTx(ctx, func(tx RowStore) error {
		if len(row.Key) > 0 {
			exists, err := tx.Exists(ctx, row.Table, row.Key)
			if err != nil {
				return fmt.Errorf("check existing row: %w", err)
			}
			if exists {
				switch policy {
				case PolicyIgnore:
					return nil
				case PolicyError:
					return fmt.Errorf("%w: table %s key %s", ErrDuplicateKey, row.Table, describeKey(row.Key))
				default:
					if err := tx.Update(ctx, row.Table, row.Key, nonKeyFields(row)); err != nil {
						return fmt.Errorf("update row: %w", err)
					}
					wrote = true
					return nil
				}
			}
		}

		if err := tx.Insert(ctx, row.Table, row.Fields); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
		wrote = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return wrote, nil
}

// Upsert prepares and writes one record.
func (u *Upserter) Upsert(ctx context.Context, meta *TableMetadata, rec ParsedRecord, policy DuplicatePolicy) (bool, error) {
	row, err := u.Prepare(ctx, meta, rec)
	if err != nil {
		return false, err
	}
	return u.Write(ctx, row, policy)
}

func nonKeyFields(row PreparedRow) []Field {
	out := make([]Field, 0, len(row.Fields))
	for _, f := range row.Fields {
		if _, isKey := fieldValue(row.Key, f.Name); !isKey {
			out = append(out, f)
		}
	}
	return out
}

func fieldValue(fields []Field, name string) (Value, bool) {
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return NullValue(), false
}

func describeKey(key []Field) string {
	parts := make([]string, len(key))
	for i, f := range key {
		parts[i] = f.Name + "=" + f.Value.String()
	}
	return strings.Join(parts, ",")
}
