package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/JonMunkholm/sigtap/internal/core"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_Defaults(t *testing.T) {
	s := New("postgres://localhost/sigtap")
	if s.schema != "public" {
		t.Errorf("schema = %q, want public", s.schema)
	}
	if s.lockTimeout != DefaultLockTimeout {
		t.Errorf("lockTimeout = %v, want %v", s.lockTimeout, DefaultLockTimeout)
	}

	cfg := PoolConfig{MaxConns: 8, MinConns: 2}
	s = New("", WithSchema("sigtap"), WithPoolConfig(cfg), WithLogger(discardLogger()))
	if s.schema != "sigtap" || s.poolCfg != cfg {
		t.Errorf("options not applied: schema=%q pool=%+v", s.schema, s.poolCfg)
	}
}

func TestStore_NoDatabase(t *testing.T) {
	s := New("", WithLogger(discardLogger()))
	ctx := context.Background()

	if err := s.Ping(ctx); !errors.Is(err, ErrNoDatabase) {
		t.Errorf("Ping() = %v, want ErrNoDatabase", err)
	}
	if _, err := s.TableExists(ctx, "TB_GRUPO"); !errors.Is(err, ErrNoDatabase) {
		t.Errorf("TableExists() = %v, want ErrNoDatabase", err)
	}
	err := s.InTx(ctx, func(core.RowStore) error { return nil })
	if !errors.Is(err, ErrNoDatabase) {
		t.Errorf("InTx() = %v, want ErrNoDatabase", err)
	}
	if got := core.Classify(err); got != core.CategoryConnectivity {
		t.Errorf("Classify(ErrNoDatabase) = %s, want %s", got, core.CategoryConnectivity)
	}

	// Close without a pool is a no-op
	s.Close()
}

func TestStore_BadURL(t *testing.T) {
	s := New("://not a url", WithLogger(discardLogger()))
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping() with a malformed URL should fail")
	}
}

// TestStore_Integration runs the reconciler and upsert engine against a
// real database. Set SIGTAP_TEST_DATABASE_URL to enable it.
func TestStore_Integration(t *testing.T) {
	dsn := os.Getenv("SIGTAP_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SIGTAP_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := New(dsn, WithLogger(discardLogger()))
	defer store.Close()

	pool, err := store.Pool(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var encoding string
	if err := pool.QueryRow(ctx, "SHOW server_encoding").Scan(&encoding); err != nil {
		t.Fatal(err)
	}
	if encoding != "UTF8" {
		t.Skipf("server_encoding = %s, want UTF8", encoding)
	}

	table := fmt.Sprintf("TB_SIGTAP_TEST_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		pool, err := store.Pool(context.Background())
		if err == nil {
			pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+qualified("public", table))
		}
	})

	meta := &core.TableMetadata{
		Name: table,
		Columns: []core.ColumnDefinition{
			{Name: "CO_GRUPO", Length: 2, Start: 1, End: 2, Type: core.TypeVarchar, Nullable: true},
			{Name: "NO_GRUPO", Length: 8, Start: 3, End: 10, Type: core.TypeVarchar, Nullable: true},
			{Name: "DT_COMPETENCIA", Length: 6, Start: 11, End: 16, Type: core.TypeDate, Nullable: true},
		},
	}

	reconciler := core.NewReconciler(store, discardLogger())
	report, err := reconciler.Ensure(ctx, meta)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !report.Created {
		t.Fatal("Ensure() should create the table")
	}

	live, err := store.LiveColumns(ctx, table)
	if err != nil {
		t.Fatalf("LiveColumns() error = %v", err)
	}
	if len(live) != 3 || live[1].Kind != core.StorageVarchar || live[1].Length != 8 || live[1].MaxBytes != 32 || live[0].Nullable {
		t.Errorf("LiveColumns() = %+v", live)
	}

	upserter := core.NewUpserter(store, reconciler, discardLogger())
	rec := core.ParsedRecord{Fields: []core.Field{
		{Name: "CO_GRUPO", Value: core.StringValue("01")},
		{Name: "NO_GRUPO", Value: core.StringValue("AÇÃO AÇÃO")},
		{Name: "DT_COMPETENCIA", Value: core.StringValue("202401")},
	}}
	for i := 0; i < 2; i++ {
		if _, err := upserter.Upsert(ctx, meta, rec, core.PolicyUpdate); err != nil {
			t.Fatalf("Upsert() #%d error = %v", i+1, err)
		}
	}

	var (
		count int
		name  string
	)
	err = pool.QueryRow(ctx, "SELECT count(*), max(\"NO_GRUPO\") FROM "+qualified("public", table)).Scan(&count, &name)
	if err != nil {
		t.Fatal(err)
	}
	// Cut to 8 characters; the accents fit the 32-byte budget.
	if count != 1 || name != "AÇÃO AÇÃ" {
		t.Errorf("stored %d rows, name %q; want 1 row named %q", count, name, "AÇÃO AÇÃ")
	}

	_, err = upserter.Upsert(ctx, meta, rec, core.PolicyError)
	if !errors.Is(err, core.ErrDuplicateKey) {
		t.Errorf("Upsert() with error policy = %v, want ErrDuplicateKey", err)
	}
}
