package core

// validation.go checks parsed records before they are written.
//
// Only two checks block a row: a blank primary-key column and a missing
// non-nullable column. Everything else is a warning. The record parser has
// already degraded bad values, so the remaining checks describe data quality
// rather than stop the write.

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultAgeSentinel is the dataset's "not applicable" age value.
const DefaultAgeSentinel = 9999

// Well-known SIGTAP column names used by the domain checks.
const (
	ColumnCompetence = "DT_COMPETENCIA"
	ColumnMinAge     = "VL_IDADE_MINIMA"
	ColumnMaxAge     = "VL_IDADE_MAXIMA"
)

// monetaryPrefix marks value columns that must not be negative.
const monetaryPrefix = "VL_"

// Validator checks records against their table metadata.
type Validator struct {
	AgeSentinel int64
}

// NewValidator creates a validator with the dataset's default sentinel.
func NewValidator() *Validator {
	return &Validator{AgeSentinel: DefaultAgeSentinel}
}

// Validate returns the hard errors and warnings for one record.
func (v *Validator) Validate(rec ParsedRecord, meta *TableMetadata) ValidationOutcome {
	out := ValidationOutcome{Valid: true}

	addError := func(format string, args ...any) {
		out.Valid = false
		out.Errors = append(out.Errors, fmt.Sprintf(format, args...))
	}
	addWarning := func(format string, args ...any) {
		out.Warnings = append(out.Warnings, fmt.Sprintf(format, args...))
	}

	for _, col := range meta.Columns {
		val, present := rec.Get(col.Name)

		if col.PrimaryKey {
			if !present || val.IsBlank() {
				addError("column %s: primary key is empty", col.Name)
			}
			continue
		}

		if !col.Nullable && (!present || val.IsNull()) {
			addError("column %s: required field is empty", col.Name)
			continue
		}
		if !present || val.IsNull() {
			continue
		}

		switch {
		case col.Type == TypeNumber && !val.IsNumeric():
			addWarning("column %s: invalid number %q", col.Name, val.String())
		case col.Type.IsText() && val.Kind == KindString && utf8.RuneCountInString(val.Str) > col.Length:
			addWarning("column %s: %d characters exceed declared length %d",
				col.Name, utf8.RuneCountInString(val.Str), col.Length)
		}
	}

	for _, w := range v.domainWarnings(rec) {
		addWarning("%s", w)
	}

	return out
}

// domainWarnings runs the SIGTAP-specific soft checks.
func (v *Validator) domainWarnings(rec ParsedRecord) []string {
	var warnings []string

	if val, ok := rec.Get(ColumnCompetence); ok && !val.IsNull() {
		if s := val.String(); !isDigits(s) || len(s) != 6 {
			warnings = append(warnings, fmt.Sprintf("column %s: %q is not a 6-digit period", ColumnCompetence, s))
		}
	}

	if w := v.checkAgeRange(rec); w != "" {
		warnings = append(warnings, w)
	}

	for _, f := range rec.Fields {
		name := strings.ToUpper(f.Name)
		if !strings.HasPrefix(name, monetaryPrefix) || name == ColumnMinAge || name == ColumnMaxAge {
			continue
		}
		if n, ok := f.Value.Float(); ok && n < 0 {
			warnings = append(warnings, fmt.Sprintf("column %s: negative amount %s", f.Name, f.Value.String()))
		}
	}

	return warnings
}

// checkAgeRange validates the minimum/maximum age pair. Either bound set to
// the sentinel exempts the pair.
func (v *Validator) checkAgeRange(rec ParsedRecord) string {
	minVal, okMin := rec.Get(ColumnMinAge)
	maxVal, okMax := rec.Get(ColumnMaxAge)
	if !okMin || !okMax {
		return ""
	}
	lo, okLo := minVal.Float()
	hi, okHi := maxVal.Float()
	if !okLo || !okHi {
		return ""
	}

	sentinel := float64(v.AgeSentinel)
	if lo == sentinel || hi == sentinel {
		return ""
	}
	if lo < 0 || hi < 0 {
		return fmt.Sprintf("age range %s..%s has a negative bound", minVal.String(), maxVal.String())
	}
	if lo > hi {
		return fmt.Sprintf("age range %s..%s: minimum exceeds maximum", minVal.String(), maxVal.String())
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
