package core

import "strings"

// codePrefix marks SIGTAP code columns (CO_GRUPO, CO_PROCEDIMENTO, ...).
const codePrefix = "CO_"

// maxRelationalKeyCodes caps how many code columns form a composite key.
const maxRelationalKeyCodes = 3

// KeyInferrer picks primary-key column names for a table's columns.
type KeyInferrer func(columns []ColumnDefinition) []string

// InferPrimaryKeys is the default naming-convention heuristic:
//   - two or more CO_ columns: the table is relational, the key is the
//     first three of them plus DT_COMPETENCIA when present
//   - exactly one CO_ column: that column
//   - none: the first declared column
//
// The heuristic is approximate. Tables whose shape it gets wrong should be
// listed in Reconciler.KeyOverrides.
func InferPrimaryKeys(columns []ColumnDefinition) []string {
	if len(columns) == 0 {
		return nil
	}

	var (
		codes      []string
		competence string
	)
	for _, c := range columns {
		upper := strings.ToUpper(c.Name)
		if strings.HasPrefix(upper, codePrefix) {
			codes = append(codes, c.Name)
		}
		if upper == ColumnCompetence {
			competence = c.Name
		}
	}

	switch {
	case len(codes) >= 2:
		if len(codes) > maxRelationalKeyCodes {
			codes = codes[:maxRelationalKeyCodes]
		}
		if competence != "" {
			codes = append(codes, competence)
		}
		return codes
	case len(codes) == 1:
		return codes
	default:
		return []string{columns[0].Name}
	}
}
