package core

// schema.go keeps destination tables in step with layout metadata.
//
// Reconciliation only grows a table: missing tables are created, missing
// columns are added and narrow text columns are widened. Nothing is ever
// dropped or narrowed. A failure on one table is returned to the caller,
// which records it and moves on to the next table.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// StorageKind is the physical column type in the destination store.
type StorageKind int

const (
	StorageVarchar StorageKind = iota
	StorageChar
	StorageText
	StorageInteger
	StorageBigInt
	StorageNumeric
	StorageDate
)

// TextBlobThreshold is the declared length above which text columns are
// stored as unbounded TEXT.
const TextBlobThreshold = 4000

// maxIntegerDigits is the widest declared number that fits a 32-bit integer.
const maxIntegerDigits = 9

// StorageType is a storage kind plus its length for sized text types.
type StorageType struct {
	Kind   StorageKind
	Length int
}

// String renders the type as standard SQL.
func (t StorageType) String() string {
	switch t.Kind {
	case StorageChar:
		return fmt.Sprintf("CHAR(%d)", t.Length)
	case StorageVarchar:
		return fmt.Sprintf("VARCHAR(%d)", t.Length)
	case StorageText:
		return "TEXT"
	case StorageInteger:
		return "INTEGER"
	case StorageBigInt:
		return "BIGINT"
	case StorageNumeric:
		return "NUMERIC"
	case StorageDate:
		return "DATE"
	default:
		return "TEXT"
	}
}

// IsText reports whether the kind stores character data.
func (k StorageKind) IsText() bool {
	return k == StorageVarchar || k == StorageChar || k == StorageText
}

// MapStorageType maps a declared column to its storage type.
func MapStorageType(col ColumnDefinition) StorageType {
	switch col.Type {
	case TypeNumber:
		if col.Length <= maxIntegerDigits {
			return StorageType{Kind: StorageInteger}
		}
		return StorageType{Kind: StorageBigInt}
	case TypeDate:
		return StorageType{Kind: StorageDate}
	case TypeChar:
		if col.Length > TextBlobThreshold {
			return StorageType{Kind: StorageText}
		}
		return StorageType{Kind: StorageChar, Length: col.Length}
	default:
		if col.Length > TextBlobThreshold {
			return StorageType{Kind: StorageText}
		}
		return StorageType{Kind: StorageVarchar, Length: col.Length}
	}
}

// ReconcileReport describes what Ensure changed for one table.
type ReconcileReport struct {
	Table      string   `json:"table"`
	Created    bool     `json:"created"`
	PrimaryKey []string `json:"primaryKey,omitempty"`
	Added      []string `json:"added,omitempty"`
	Widened    []string `json:"widened,omitempty"`
	Skipped    []string `json:"skipped,omitempty"`
}

// Reconciler creates and alters destination tables and caches their live
// columns for the upsert engine.
type Reconciler struct {
	store  SchemaStore
	logger *slog.Logger

	// InferKeys picks key columns for tables without an override.
	// Nil means InferPrimaryKeys.
	InferKeys KeyInferrer

	// KeyOverrides pins the key columns of specific tables by name.
	KeyOverrides map[string][]string

	mu      sync.Mutex
	columns map[string]map[string]LiveColumn
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(store SchemaStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:   store,
		logger:  logger,
		columns: make(map[string]map[string]LiveColumn),
	}
}

// KeysFor returns the key columns for a table: its override if one is
// configured, otherwise the inferrer's choice. An override naming a column
// the layout does not have is ignored with a warning.
func (r *Reconciler) KeysFor(meta *TableMetadata) []string {
	for name, keys := range r.KeyOverrides {
		if !strings.EqualFold(name, meta.Name) {
			continue
		}
		resolved, missing := resolveKeys(meta, keys)
		if len(missing) == 0 && len(resolved) > 0 {
			return resolved
		}
		r.logger.Warn("key override names unknown columns, inferring the key instead",
			"table", meta.Name, "override", keys, "missing", missing)
		break
	}
	infer := r.InferKeys
	if infer == nil {
		infer = InferPrimaryKeys
	}
	return infer(meta.Columns)
}

// resolveKeys maps key names onto the layout's column names.
func resolveKeys(meta *TableMetadata, keys []string) (resolved, missing []string) {
	for _, k := range keys {
		if c, ok := meta.Column(k); ok {
			resolved = append(resolved, c.Name)
		} else {
			missing = append(missing, k)
		}
	}
	return resolved, missing
}

// EnsureKeys back-fills primary-key flags on meta if they were never set.
func (r *Reconciler) EnsureKeys(meta *TableMetadata) {
	if meta.HasKeyFlags() {
		return
	}
	keys := r.KeysFor(meta)
	if meta.SetPrimaryKeys(keys) {
		r.logger.Debug("primary key assigned", "table", meta.Name, "columns", keys)
	}
}

// Ensure makes the live table a superset of meta.
func (r *Reconciler) Ensure(ctx context.Context, meta *TableMetadata) (ReconcileReport, error) {
	report := ReconcileReport{Table: meta.Name}

	r.EnsureKeys(meta)
	report.PrimaryKey = meta.PrimaryKeyColumns()

	exists, err := r.store.TableExists(ctx, meta.Name)
	if err != nil {
		return report, fmt.Errorf("check table %s: %w", meta.Name, err)
	}

	if !exists {
		specs := make([]ColumnSpec, len(meta.Columns))
		for i, col := range meta.Columns {
			specs[i] = columnSpec(col)
		}
		if err := r.store.CreateTable(ctx, meta.Name, specs, report.PrimaryKey); err != nil {
			return report, fmt.Errorf("create table %s: %w", meta.Name, err)
		}
		r.Invalidate(meta.Name)
		report.Created = true
		r.logger.Info("table created", "table", meta.Name, "columns", len(specs), "primary_key", report.PrimaryKey)
		return report, nil
	}

	live, err := r.store.LiveColumns(ctx, meta.Name)
	if err != nil {
		return report, fmt.Errorf("read columns of %s: %w", meta.Name, err)
	}
	byName := indexColumns(live)

	for _, col := range meta.Columns {
		spec := columnSpec(col)
		lc, ok := byName[strings.ToUpper(col.Name)]
		if !ok {
			if err := r.store.AddColumn(ctx, meta.Name, spec); err != nil {
				return report, fmt.Errorf("add column %s.%s: %w", meta.Name, col.Name, err)
			}
			report.Added = append(report.Added, col.Name)
			continue
		}

		if !needsWidening(lc, spec) {
			continue
		}
		spec.Name = lc.Name
		if err := r.widen(ctx, meta.Name, spec); err != nil {
			r.logger.Warn("column widening skipped",
				"table", meta.Name,
				"column", lc.Name,
				"from", lc.Length,
				"to", spec.Type.String(),
				"error", err,
			)
			report.Skipped = append(report.Skipped, lc.Name)
			continue
		}
		report.Widened = append(report.Widened, lc.Name)
	}

	if len(report.Added) > 0 || len(report.Widened) > 0 {
		r.Invalidate(meta.Name)
		r.logger.Info("table altered", "table", meta.Name, "added", report.Added, "widened", report.Widened)
	}
	return report, nil
}

// widen alters a column, retrying once when the failure is a lock conflict.
func (r *Reconciler) widen(ctx context.Context, table string, spec ColumnSpec) error {
	err := r.store.WidenColumn(ctx, table, spec)
	if err != nil && IsLockConflict(err) {
		r.logger.Debug("widening hit a lock, retrying", "table", table, "column", spec.Name)
		err = r.store.WidenColumn(ctx, table, spec)
	}
	return err
}

// needsWidening reports whether a live text column is narrower than the
// declared one. TEXT columns are never resized.
func needsWidening(lc LiveColumn, spec ColumnSpec) bool {
	if !lc.Kind.IsText() || !spec.Type.Kind.IsText() {
		return false
	}
	if lc.Kind == StorageText || lc.Length <= 0 {
		return false
	}
	if spec.Type.Kind == StorageText {
		return true
	}
	return lc.Length < spec.Type.Length
}

// Columns returns the live columns of a table keyed by upper-cased name.
// Results are cached until the table is altered through this reconciler.
func (r *Reconciler) Columns(ctx context.Context, table string) (map[string]LiveColumn, error) {
	key := strings.ToUpper(table)

	r.mu.Lock()
	cached, ok := r.columns[key]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	live, err := r.store.LiveColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, fmt.Errorf("%w: table %s has no columns", ErrSchemaMismatch, table)
	}

	byName := indexColumns(live)
	r.mu.Lock()
	r.columns[key] = byName
	r.mu.Unlock()
	return byName, nil
}

// Invalidate drops the cached columns of a table.
func (r *Reconciler) Invalidate(table string) {
	r.mu.Lock()
	delete(r.columns, strings.ToUpper(table))
	r.mu.Unlock()
}

func columnSpec(col ColumnDefinition) ColumnSpec {
	return ColumnSpec{
		Name:     col.Name,
		Type:     MapStorageType(col),
		Nullable: col.Nullable && !col.PrimaryKey,
	}
}

func indexColumns(live []LiveColumn) map[string]LiveColumn {
	byName := make(map[string]LiveColumn, len(live))
	for _, lc := range live {
		byName[strings.ToUpper(lc.Name)] = lc
	}
	return byName
}
