package core

// store.go defines the storage contract used by the reconciler, the upsert
// engine and the importer. Implementations live under internal/store; the
// core package never builds SQL.

import "context"

// LiveColumn describes a column as the destination store reports it.
// Length is the declared length in the store's own unit (characters for
// PostgreSQL); it drives widening and caps the character count of text
// values. MaxBytes is the storage-reported byte capacity used as the byte
// budget. Zero means unbounded for both.
type LiveColumn struct {
	Name     string
	Kind     StorageKind
	Length   int
	MaxBytes int
	Nullable bool
}

// ColumnSpec is a column to create, add or widen.
type ColumnSpec struct {
	Name     string
	Type     StorageType
	Nullable bool
}

// SchemaStore inspects and alters table structure.
type SchemaStore interface {
	TableExists(ctx context.Context, table string) (bool, error)
	LiveColumns(ctx context.Context, table string) ([]LiveColumn, error)
	CreateTable(ctx context.Context, table string, columns []ColumnSpec, primaryKey []string) error
	AddColumn(ctx context.Context, table string, column ColumnSpec) error
	WidenColumn(ctx context.Context, table string, column ColumnSpec) error
}

// RowStore reads and writes single rows. Fields are matched to columns by
// name; key fields identify the row by equality.
type RowStore interface {
	Exists(ctx context.Context, table string, key []Field) (bool, error)
	Insert(ctx context.Context, table string, fields []Field) error
	Update(ctx context.Context, table string, key []Field, fields []Field) error
}

// Store is the full storage contract. InTx runs fn in its own transaction,
// committing when fn returns nil and rolling back otherwise.
type Store interface {
	SchemaStore
	InTx(ctx context.Context, fn func(RowStore) error) error
}

// BulkStore is implemented by stores that can load many rows at once.
// The importer only uses it for tables created during the current run.
type BulkStore interface {
	CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}
