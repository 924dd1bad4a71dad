package core

import (
	"slices"
	"testing"
)

func columns(names ...string) []ColumnDefinition {
	out := make([]ColumnDefinition, len(names))
	for i, n := range names {
		out[i] = column(n, i+1, 1, TypeVarchar)
	}
	return out
}

func TestInferPrimaryKeys(t *testing.T) {
	tests := []struct {
		name    string
		columns []ColumnDefinition
		want    []string
	}{
		{
			name:    "no columns",
			columns: nil,
			want:    nil,
		},
		{
			name:    "single code column",
			columns: columns("CO_GRUPO", "NO_GRUPO", "DT_COMPETENCIA"),
			want:    []string{"CO_GRUPO"},
		},
		{
			name:    "relationship with competence",
			columns: columns("CO_PROCEDIMENTO", "CO_CID", "ST_PRINCIPAL", "DT_COMPETENCIA"),
			want:    []string{"CO_PROCEDIMENTO", "CO_CID", "DT_COMPETENCIA"},
		},
		{
			name:    "relationship without competence",
			columns: columns("CO_PROCEDIMENTO", "CO_OCUPACAO"),
			want:    []string{"CO_PROCEDIMENTO", "CO_OCUPACAO"},
		},
		{
			name:    "more than three codes",
			columns: columns("CO_A", "CO_B", "CO_C", "CO_D", "DT_COMPETENCIA"),
			want:    []string{"CO_A", "CO_B", "CO_C", "DT_COMPETENCIA"},
		},
		{
			name:    "lower-case names",
			columns: columns("co_grupo", "no_grupo"),
			want:    []string{"co_grupo"},
		},
		{
			name:    "no code column falls back to first",
			columns: columns("NO_DESCRICAO", "VL_X"),
			want:    []string{"NO_DESCRICAO"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferPrimaryKeys(tt.columns); !slices.Equal(got, tt.want) {
				t.Errorf("InferPrimaryKeys() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReconciler_KeysFor(t *testing.T) {
	meta := &TableMetadata{Name: "RL_PROCEDIMENTO_CID", Columns: columns("CO_PROCEDIMENTO", "CO_CID", "DT_COMPETENCIA")}

	r := NewReconciler(nil, nil)
	if got, want := r.KeysFor(meta), []string{"CO_PROCEDIMENTO", "CO_CID", "DT_COMPETENCIA"}; !slices.Equal(got, want) {
		t.Errorf("KeysFor() = %v, want %v", got, want)
	}

	r.KeyOverrides = map[string][]string{"rl_procedimento_cid": {"CO_PROCEDIMENTO", "CO_CID"}}
	if got, want := r.KeysFor(meta), []string{"CO_PROCEDIMENTO", "CO_CID"}; !slices.Equal(got, want) {
		t.Errorf("KeysFor() with override = %v, want %v", got, want)
	}

	r.KeyOverrides = nil
	r.InferKeys = func(cols []ColumnDefinition) []string { return []string{cols[len(cols)-1].Name} }
	if got, want := r.KeysFor(meta), []string{"DT_COMPETENCIA"}; !slices.Equal(got, want) {
		t.Errorf("KeysFor() with custom inferrer = %v, want %v", got, want)
	}
}

func TestReconciler_EnsureKeysOnce(t *testing.T) {
	meta := &TableMetadata{Name: "TB_GRUPO", Columns: columns("CO_GRUPO", "NO_GRUPO")}
	r := NewReconciler(nil, nil)

	r.EnsureKeys(meta)
	r.KeyOverrides = map[string][]string{"TB_GRUPO": {"NO_GRUPO"}}
	r.EnsureKeys(meta)

	if got := meta.PrimaryKeyColumns(); !slices.Equal(got, []string{"CO_GRUPO"}) {
		t.Errorf("PrimaryKeyColumns() = %v, want key fixed by the first call", got)
	}
}
