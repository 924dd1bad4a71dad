package core_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/JonMunkholm/sigtap/internal/core"
	"github.com/JonMunkholm/sigtap/internal/store/memory"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapStorageType(t *testing.T) {
	tests := []struct {
		name string
		col  core.ColumnDefinition
		want string
	}{
		{"small number", col("VL_IDADE", 4, core.TypeNumber), "INTEGER"},
		{"nine digits", col("QT_X", 9, core.TypeNumber), "INTEGER"},
		{"ten digits", col("VL_SH", 10, core.TypeNumber), "BIGINT"},
		{"date", col("DT_COMPETENCIA", 6, core.TypeDate), "DATE"},
		{"char", col("TP_SEXO", 1, core.TypeChar), "CHAR(1)"},
		{"varchar", col("NO_GRUPO", 100, core.TypeVarchar), "VARCHAR(100)"},
		{"varchar at threshold", col("DS_X", 4000, core.TypeVarchar), "VARCHAR(4000)"},
		{"varchar above threshold", col("DS_PROCEDIMENTO", 4001, core.TypeVarchar), "TEXT"},
		{"char above threshold", col("DS_X", 5000, core.TypeChar), "TEXT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := core.MapStorageType(tt.col).String(); got != tt.want {
				t.Errorf("MapStorageType() = %s, want %s", got, tt.want)
			}
		})
	}
}

func liveColumn(t *testing.T, store *memory.Store, table, name string) core.LiveColumn {
	t.Helper()
	live, err := store.LiveColumns(context.Background(), table)
	if err != nil {
		t.Fatal(err)
	}
	for _, lc := range live {
		if lc.Name == name {
			return lc
		}
	}
	t.Fatalf("column %s.%s not found", table, name)
	return core.LiveColumn{}
}

func TestReconciler_EnsureCreatesTable(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := core.NewReconciler(store, discardLogger())
	meta := tableMeta(t, "TB_GRUPO", layoutGrupo)

	report, err := r.Ensure(ctx, meta)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !report.Created {
		t.Error("Ensure() should report the table as created")
	}
	if !slices.Equal(report.PrimaryKey, []string{"CO_GRUPO"}) {
		t.Errorf("PrimaryKey = %v, want [CO_GRUPO]", report.PrimaryKey)
	}

	key := liveColumn(t, store, "TB_GRUPO", "CO_GRUPO")
	if key.Nullable || key.MaxBytes != 2 || key.Kind != core.StorageVarchar {
		t.Errorf("CO_GRUPO = %+v, want non-nullable VARCHAR(2)", key)
	}
	if c := liveColumn(t, store, "TB_GRUPO", "DT_COMPETENCIA"); c.Kind != core.StorageChar || !c.Nullable {
		t.Errorf("DT_COMPETENCIA = %+v, want nullable CHAR(6)", c)
	}

	report, err = r.Ensure(ctx, meta)
	if err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
	if report.Created || len(report.Added) > 0 || len(report.Widened) > 0 {
		t.Errorf("second Ensure() = %+v, want no changes", report)
	}
}

func TestReconciler_EnsureGrowsTable(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	err := store.CreateTable(ctx, "TB_PROCEDIMENTO", []core.ColumnSpec{
		{Name: "CO_PROCEDIMENTO", Type: core.StorageType{Kind: core.StorageVarchar, Length: 10}},
		varchar("NO_PROCEDIMENTO", 50),
		varchar("DS_LONGA", 50),
		varchar("NO_CURTO", 20),
		{Name: "DS_TEXTO", Type: core.StorageType{Kind: core.StorageText}, Nullable: true},
	}, []string{"CO_PROCEDIMENTO"})
	if err != nil {
		t.Fatal(err)
	}

	meta := &core.TableMetadata{Name: "TB_PROCEDIMENTO", Columns: []core.ColumnDefinition{
		col("CO_PROCEDIMENTO", 10, core.TypeVarchar),
		col("NO_PROCEDIMENTO", 250, core.TypeVarchar),
		col("DS_LONGA", 5000, core.TypeVarchar),
		col("NO_CURTO", 10, core.TypeVarchar),
		col("DS_TEXTO", 100, core.TypeVarchar),
		col("VL_IDADE_MINIMA", 4, core.TypeNumber),
	}}

	report, err := core.NewReconciler(store, discardLogger()).Ensure(ctx, meta)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if report.Created {
		t.Error("existing table reported as created")
	}
	if !slices.Equal(report.Added, []string{"VL_IDADE_MINIMA"}) {
		t.Errorf("Added = %v, want [VL_IDADE_MINIMA]", report.Added)
	}
	if !slices.Equal(report.Widened, []string{"NO_PROCEDIMENTO", "DS_LONGA"}) {
		t.Errorf("Widened = %v, want [NO_PROCEDIMENTO DS_LONGA]", report.Widened)
	}

	if c := liveColumn(t, store, "TB_PROCEDIMENTO", "NO_PROCEDIMENTO"); c.MaxBytes != 250 {
		t.Errorf("NO_PROCEDIMENTO capacity = %d, want 250", c.MaxBytes)
	}
	if c := liveColumn(t, store, "TB_PROCEDIMENTO", "DS_LONGA"); c.Kind != core.StorageText || c.MaxBytes != 0 {
		t.Errorf("DS_LONGA = %+v, want TEXT", c)
	}
	if c := liveColumn(t, store, "TB_PROCEDIMENTO", "NO_CURTO"); c.MaxBytes != 20 {
		t.Errorf("NO_CURTO capacity = %d, want 20 (never narrowed)", c.MaxBytes)
	}
	if c := liveColumn(t, store, "TB_PROCEDIMENTO", "DS_TEXTO"); c.Kind != core.StorageText {
		t.Errorf("DS_TEXTO = %+v, want TEXT untouched", c)
	}
}

// widenStore fails WidenColumn with the errors in failures, one per call.
type widenStore struct {
	*memory.Store
	failures []error
	calls    int
}

func (s *widenStore) WidenColumn(ctx context.Context, table string, column core.ColumnSpec) error {
	s.calls++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		if err != nil {
			return err
		}
	}
	return s.Store.WidenColumn(ctx, table, column)
}

func TestReconciler_Widening(t *testing.T) {
	lockErr := &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"}

	tests := []struct {
		name        string
		failures    []error
		wantWidened bool
		wantCalls   int
	}{
		{"succeeds", nil, true, 1},
		{"lock conflict retried", []error{lockErr}, true, 2},
		{"lock conflict twice skipped", []error{lockErr, lockErr}, false, 2},
		{"other failure skipped", []error{errors.New("permission denied")}, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := &widenStore{Store: memory.New(), failures: tt.failures}
			if err := store.CreateTable(ctx, "TB_GRUPO", []core.ColumnSpec{varchar("NO_GRUPO", 10)}, nil); err != nil {
				t.Fatal(err)
			}
			meta := &core.TableMetadata{Name: "TB_GRUPO", Columns: []core.ColumnDefinition{col("NO_GRUPO", 100, core.TypeVarchar)}}

			report, err := core.NewReconciler(store, discardLogger()).Ensure(ctx, meta)
			if err != nil {
				t.Fatalf("Ensure() error = %v", err)
			}
			if store.calls != tt.wantCalls {
				t.Errorf("WidenColumn calls = %d, want %d", store.calls, tt.wantCalls)
			}
			if tt.wantWidened {
				if !slices.Equal(report.Widened, []string{"NO_GRUPO"}) || len(report.Skipped) > 0 {
					t.Errorf("report = %+v, want NO_GRUPO widened", report)
				}
			} else {
				if !slices.Equal(report.Skipped, []string{"NO_GRUPO"}) || len(report.Widened) > 0 {
					t.Errorf("report = %+v, want NO_GRUPO skipped", report)
				}
				if c := liveColumn(t, store.Store, "TB_GRUPO", "NO_GRUPO"); c.MaxBytes != 10 {
					t.Errorf("capacity = %d, want unchanged 10", c.MaxBytes)
				}
			}
		})
	}
}

func TestReconciler_KeyOverride(t *testing.T) {
	r := core.NewReconciler(memory.New(), discardLogger())
	r.KeyOverrides = map[string][]string{"rl_procedimento_cid": {"CO_PROCEDIMENTO", "CO_CID"}}

	meta := tableMeta(t, "RL_PROCEDIMENTO_CID", layoutProcedimentoCID)
	report, err := r.Ensure(context.Background(), meta)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !slices.Equal(report.PrimaryKey, []string{"CO_PROCEDIMENTO", "CO_CID"}) {
		t.Errorf("PrimaryKey = %v, want override", report.PrimaryKey)
	}

	inferred := tableMeta(t, "RL_PROCEDIMENTO_CID", layoutProcedimentoCID)
	keys := core.NewReconciler(nil, discardLogger()).KeysFor(inferred)
	if !slices.Equal(keys, []string{"CO_PROCEDIMENTO", "CO_CID", "DT_COMPETENCIA"}) {
		t.Errorf("inferred keys = %v", keys)
	}
}

func TestReconciler_KeyOverrideUnknownColumn(t *testing.T) {
	inferred := core.NewReconciler(nil, discardLogger()).KeysFor(tableMeta(t, "TB_GRUPO", layoutGrupo))

	tests := []struct {
		name     string
		override []string
		want     []string
	}{
		{"known columns, canonical case", []string{"no_grupo"}, []string{"NO_GRUPO"}},
		{"unknown column", []string{"CO_GRUPOX"}, inferred},
		{"one of two unknown", []string{"CO_GRUPO", "CO_NADA"}, inferred},
		{"empty override", nil, inferred},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := core.NewReconciler(memory.New(), discardLogger())
			r.KeyOverrides = map[string][]string{"TB_GRUPO": tt.override}

			meta := tableMeta(t, "TB_GRUPO", layoutGrupo)
			report, err := r.Ensure(context.Background(), meta)
			if err != nil {
				t.Fatalf("Ensure() error = %v", err)
			}
			if !slices.Equal(report.PrimaryKey, tt.want) {
				t.Errorf("PrimaryKey = %v, want %v", report.PrimaryKey, tt.want)
			}
			if !slices.Equal(meta.PrimaryKeyColumns(), tt.want) {
				t.Errorf("PrimaryKeyColumns() = %v, want %v", meta.PrimaryKeyColumns(), tt.want)
			}
		})
	}
}

// existsErrStore fails every TableExists call.
type existsErrStore struct {
	*memory.Store
}

func (existsErrStore) TableExists(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestReconciler_EnsureStoreError(t *testing.T) {
	r := core.NewReconciler(existsErrStore{memory.New()}, discardLogger())
	_, err := r.Ensure(context.Background(), tableMeta(t, "TB_GRUPO", layoutGrupo))
	if err == nil {
		t.Fatal("Ensure() should fail when the store is unreachable")
	}
	if got := core.Classify(err); got != core.CategoryConnectivity {
		t.Errorf("Classify() = %s, want %s", got, core.CategoryConnectivity)
	}
}

func TestReconciler_Columns(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := core.NewReconciler(store, discardLogger())

	if _, err := r.Columns(ctx, "TB_GRUPO"); !errors.Is(err, core.ErrSchemaMismatch) {
		t.Errorf("Columns() on missing table = %v, want ErrSchemaMismatch", err)
	}

	if _, err := r.Ensure(ctx, tableMeta(t, "TB_GRUPO", layoutGrupo)); err != nil {
		t.Fatal(err)
	}
	cols, err := r.Columns(ctx, "tb_grupo")
	if err != nil {
		t.Fatalf("Columns() error = %v", err)
	}
	if len(cols) != 3 || cols["NO_GRUPO"].MaxBytes != 100 {
		t.Errorf("Columns() = %+v", cols)
	}

	// Changes made behind the reconciler's back stay invisible until
	// the cache entry is dropped.
	if err := store.AddColumn(ctx, "TB_GRUPO", varchar("DS_EXTRA", 10)); err != nil {
		t.Fatal(err)
	}
	if cols, _ := r.Columns(ctx, "TB_GRUPO"); len(cols) != 3 {
		t.Errorf("cached Columns() = %d columns, want 3", len(cols))
	}

	r.Invalidate("TB_GRUPO")
	cols, err = r.Columns(ctx, "TB_GRUPO")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cols["DS_EXTRA"]; !ok {
		t.Error("Columns() after Invalidate should see DS_EXTRA")
	}
}
