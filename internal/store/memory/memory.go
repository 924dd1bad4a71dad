// Package memory implements core.Store in process memory.
//
// It backs dry runs, where an import is exercised end to end without a
// database, and the core tests. It enforces the same rules a real table
// would: unique primary keys, NOT NULL and text byte capacities. Failed
// transactions are rolled back through an undo journal.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/sigtap/internal/core"
	"github.com/jackc/pgx/v5/pgtype"
)

// Row is one stored row keyed by upper-cased column name.
type Row map[string]core.Value

type table struct {
	name       string
	columns    []core.LiveColumn
	primaryKey []string
	rows       []Row
}

func (t *table) column(name string) (int, bool) {
	for i, c := range t.columns {
		if strings.EqualFold(c.Name, name) {
			return i, true
		}
	}
	return -1, false
}

// Store is an in-memory core.Store and core.BulkStore.
type Store struct {
	mu     sync.Mutex
	tables map[string]*table
}

// New creates an empty store.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

func (s *Store) lookup(name string) (*table, error) {
	t, ok := s.tables[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", name)
	}
	return t, nil
}

// TableExists reports whether the table has been created.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[strings.ToUpper(name)]
	return ok, nil
}

// LiveColumns returns a copy of the table's columns. Unknown tables have
// no columns.
func (s *Store) LiveColumns(ctx context.Context, name string) ([]core.LiveColumn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[strings.ToUpper(name)]
	if !ok {
		return nil, nil
	}
	out := make([]core.LiveColumn, len(t.columns))
	copy(out, t.columns)
	return out, nil
}

// CreateTable creates a table. Creating an existing table is a no-op.
func (s *Store) CreateTable(ctx context.Context, name string, columns []core.ColumnSpec, primaryKey []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToUpper(name)
	if _, ok := s.tables[key]; ok {
		return nil
	}
	t := &table{name: name, primaryKey: append([]string(nil), primaryKey...)}
	for _, c := range columns {
		t.columns = append(t.columns, liveColumn(c))
	}
	s.tables[key] = t
	return nil
}

// AddColumn appends a column. Existing rows get null.
func (s *Store) AddColumn(ctx context.Context, name string, column core.ColumnSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(name)
	if err != nil {
		return err
	}
	if _, ok := t.column(column.Name); ok {
		return nil
	}
	if !column.Nullable && len(t.rows) > 0 {
		return fmt.Errorf("column %q of relation %q contains null values", column.Name, name)
	}
	t.columns = append(t.columns, liveColumn(column))
	return nil
}

// WidenColumn changes a column's type. Existing values must fit.
func (s *Store) WidenColumn(ctx context.Context, name string, column core.ColumnSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(name)
	if err != nil {
		return err
	}
	i, ok := t.column(column.Name)
	if !ok {
		return fmt.Errorf("column %q of relation %q does not exist", column.Name, name)
	}
	widened := liveColumn(column)
	widened.Name = t.columns[i].Name
	widened.Nullable = t.columns[i].Nullable
	t.columns[i] = widened
	return nil
}

func liveColumn(c core.ColumnSpec) core.LiveColumn {
	lc := core.LiveColumn{Name: c.Name, Kind: c.Type.Kind, Nullable: c.Nullable}
	if c.Type.Kind == core.StorageVarchar || c.Type.Kind == core.StorageChar {
		lc.Length = c.Type.Length
		lc.MaxBytes = c.Type.Length
	}
	return lc
}

// InTx runs fn while holding the store lock. Changes made by fn are undone
// when it returns an error.
func (s *Store) InTx(ctx context.Context, fn func(core.RowStore) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txStore{store: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// CopyRows inserts all rows or none.
func (s *Store) CopyRows(ctx context.Context, name string, columns []string, rows [][]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txStore{store: s}
	for _, values := range rows {
		if len(values) != len(columns) {
			tx.rollback()
			return 0, fmt.Errorf("copy into %s: got %d values for %d columns", name, len(values), len(columns))
		}
		fields := make([]core.Field, len(columns))
		for i, col := range columns {
			fields[i] = core.Field{Name: col, Value: valueFromAny(values[i])}
		}
		if err := tx.insert(name, fields); err != nil {
			tx.rollback()
			return 0, fmt.Errorf("copy into %s: %w", name, err)
		}
	}
	return int64(len(rows)), nil
}

// Rows returns a copy of a table's rows.
func (s *Store) Rows(name string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[strings.ToUpper(name)]
	if !ok {
		return nil
	}
	out := make([]Row, len(t.rows))
	for i, r := range t.rows {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

// RowCount returns the number of rows in a table.
func (s *Store) RowCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[strings.ToUpper(name)]; ok {
		return len(t.rows)
	}
	return 0
}

// Tables returns the names of all created tables.
func (s *Store) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tables))
	for _, t := range s.tables {
		names = append(names, t.name)
	}
	return names
}

// txStore implements core.RowStore. The caller holds the store lock.
type txStore struct {
	store *Store
	undo  []func()
}

func (tx *txStore) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *txStore) Exists(ctx context.Context, name string, key []core.Field) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	t, err := tx.store.lookup(name)
	if err != nil {
		return false, err
	}
	return findRow(t, key) >= 0, nil
}

func (tx *txStore) Insert(ctx context.Context, name string, fields []core.Field) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.insert(name, fields)
}

func (tx *txStore) insert(name string, fields []core.Field) error {
	t, err := tx.store.lookup(name)
	if err != nil {
		return err
	}

	row := make(Row, len(t.columns))
	for _, f := range fields {
		i, ok := t.column(f.Name)
		if !ok {
			return fmt.Errorf("column %q of relation %q does not exist", f.Name, name)
		}
		if err := checkCapacity(t.columns[i], f.Value); err != nil {
			return err
		}
		row[strings.ToUpper(t.columns[i].Name)] = f.Value
	}
	for _, c := range t.columns {
		if v, ok := row[strings.ToUpper(c.Name)]; !c.Nullable && (!ok || v.IsNull()) {
			return fmt.Errorf("null value in column %q of relation %q violates not-null constraint", c.Name, name)
		}
	}

	if len(t.primaryKey) > 0 {
		key := make([]core.Field, len(t.primaryKey))
		for i, k := range t.primaryKey {
			key[i] = core.Field{Name: k, Value: row[strings.ToUpper(k)]}
		}
		if findRow(t, key) >= 0 {
			return fmt.Errorf("duplicate key value violates unique constraint %q", t.name+"_pkey")
		}
	}

	t.rows = append(t.rows, row)
	tx.undo = append(tx.undo, func() { t.rows = t.rows[:len(t.rows)-1] })
	return nil
}

func (tx *txStore) Update(ctx context.Context, name string, key, fields []core.Field) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := tx.store.lookup(name)
	if err != nil {
		return err
	}

	idx := findRow(t, key)
	if idx < 0 {
		return nil
	}

	next := make(Row, len(t.rows[idx]))
	for k, v := range t.rows[idx] {
		next[k] = v
	}
	for _, f := range fields {
		i, ok := t.column(f.Name)
		if !ok {
			return fmt.Errorf("column %q of relation %q does not exist", f.Name, name)
		}
		if err := checkCapacity(t.columns[i], f.Value); err != nil {
			return err
		}
		next[strings.ToUpper(t.columns[i].Name)] = f.Value
	}

	prev := t.rows[idx]
	t.rows[idx] = next
	tx.undo = append(tx.undo, func() { t.rows[idx] = prev })
	return nil
}

func findRow(t *table, key []core.Field) int {
	if len(key) == 0 {
		return -1
	}
	for i, row := range t.rows {
		match := true
		for _, f := range key {
			if !valuesEqual(row[strings.ToUpper(f.Name)], f.Value) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func valuesEqual(a, b core.Value) bool {
	if a.IsNull() || b.IsNull() {
		return false
	}
	return a.String() == b.String()
}

func checkCapacity(c core.LiveColumn, v core.Value) error {
	if v.Kind != core.KindString || c.MaxBytes <= 0 || !c.Kind.IsText() {
		return nil
	}
	if len(v.Str) > c.MaxBytes {
		return fmt.Errorf("value too long for column %q (%d bytes, capacity %d)", c.Name, len(v.Str), c.MaxBytes)
	}
	return nil
}

func valueFromAny(v any) core.Value {
	switch x := v.(type) {
	case nil:
		return core.NullValue()
	case int64:
		return core.IntValue(x)
	case int:
		return core.IntValue(int64(x))
	case string:
		return core.StringValue(x)
	case time.Time:
		return core.TimeValue(x)
	case pgtype.Numeric:
		return core.DecimalValue(x)
	default:
		return core.StringValue(fmt.Sprint(x))
	}
}

var (
	_ core.Store     = (*Store)(nil)
	_ core.BulkStore = (*Store)(nil)
)
