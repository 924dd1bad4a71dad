package core

import (
	"cmp"
	"slices"
	"strings"
)

// Import priorities. Lower values are imported first so referenced tables
// exist before the tables that point at them.
const (
	PriorityBaseDomain   = 10
	PriorityHierarchy    = 20
	PriorityProcedure    = 30
	PriorityRelationship = 40
	PriorityOther        = 90
)

// priorityPrefixes maps table-name prefixes to priorities. The longest
// matching prefix wins, so TB_SERVICO_CLASSIFICACAO is a hierarchy table
// even though TB_SERVICO is base domain.
var priorityPrefixes = map[string]int{
	"TB_FINANCIAMENTO":      PriorityBaseDomain,
	"TB_RUBRICA":            PriorityBaseDomain,
	"TB_MODALIDADE":         PriorityBaseDomain,
	"TB_REGISTRO":           PriorityBaseDomain,
	"TB_TIPO_LEITO":         PriorityBaseDomain,
	"TB_SERVICO":            PriorityBaseDomain,
	"TB_CID":                PriorityBaseDomain,
	"TB_OCUPACAO":           PriorityBaseDomain,
	"TB_HABILITACAO":        PriorityBaseDomain,
	"TB_GRUPO_HABILITACAO":  PriorityBaseDomain,
	"TB_REGRA_CONDICIONADA": PriorityBaseDomain,
	"TB_RENASES":            PriorityBaseDomain,
	"TB_TUSS":               PriorityBaseDomain,
	"TB_COMPONENTE_REDE":    PriorityBaseDomain,
	"TB_REDE_ATENCAO":       PriorityBaseDomain,
	"TB_SIA_SIH":            PriorityBaseDomain,
	"TB_DETALHE":            PriorityBaseDomain,

	"TB_GRUPO":                 PriorityHierarchy,
	"TB_SUB_GRUPO":             PriorityHierarchy,
	"TB_FORMA_ORGANIZACAO":     PriorityHierarchy,
	"TB_SERVICO_CLASSIFICACAO": PriorityHierarchy,

	"TB_PROCEDIMENTO": PriorityProcedure,

	"RL_":                  PriorityRelationship,
	"TB_DESCRICAO":         PriorityRelationship,
	"TB_DESCRICAO_DETALHE": PriorityRelationship,
}

// PriorityFor returns the import priority for a table name.
func PriorityFor(table string) int {
	upper := strings.ToUpper(table)

	best, bestLen := PriorityOther, 0
	for prefix, p := range priorityPrefixes {
		if len(prefix) > bestLen && strings.HasPrefix(upper, prefix) {
			best, bestLen = p, len(prefix)
		}
	}
	return best
}

// SortTables orders tables by ascending priority, then by name.
func SortTables(tables []*TableMetadata) {
	slices.SortStableFunc(tables, func(a, b *TableMetadata) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
}
