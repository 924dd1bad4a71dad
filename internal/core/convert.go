package core

// convert.go converts trimmed fixed-width field text into typed values.
//
// SIGTAP numbers come in three shapes:
//   - plain integers ("0000123", "-5")
//   - dot decimals ("12.50")
//   - comma decimals from localized exports ("1.234,56" or "12,5")
//
// The first shape that parses wins. Competence codes (YYYYMM) are kept as
// text by the record parser and turned into calendar dates only when they
// are written to a DATE column.

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// numericRegex validates a dot-decimal number after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// competenceRegex matches a YYYYMM competence token.
var competenceRegex = regexp.MustCompile(`^\d{4}(0[1-9]|1[0-2])$`)

// ParseNumber converts s to an integer or decimal Value. ok is false when
// no supported number format matches.
func ParseNumber(s string) (v Value, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NullValue(), false
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return IntValue(i), true
	}

	if n := ToPgNumeric(s); n.Valid {
		return DecimalValue(n), true
	}

	// Localized form: dots group thousands, the comma is the separator.
	if strings.Count(s, ",") == 1 {
		local := strings.ReplaceAll(s, ".", "")
		local = strings.Replace(local, ",", ".", 1)
		if n := ToPgNumeric(local); n.Valid {
			return DecimalValue(n), true
		}
	}

	return NullValue(), false
}

// ToPgNumeric converts a dot-decimal string to pgtype.Numeric.
// Returns invalid for empty or malformed input.
func ToPgNumeric(s string) pgtype.Numeric {
	s = strings.TrimSpace(s)
	if s == "" || !numericRegex.MatchString(s) {
		return pgtype.Numeric{Valid: false}
	}

	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{Valid: false}
	}
	return n
}

// IsCompetence reports whether s is a valid YYYYMM competence code.
func IsCompetence(s string) bool {
	return competenceRegex.MatchString(s)
}

// CompetenceToDate converts a YYYYMM token to the first day of that month.
func CompetenceToDate(s string) (time.Time, bool) {
	if !IsCompetence(s) {
		return time.Time{}, false
	}
	t, err := time.Parse("200601", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ToPgDate converts a YYYYMM token to pgtype.Date.
// Returns invalid if the token is not a competence code.
func ToPgDate(s string) pgtype.Date {
	t, ok := CompetenceToDate(strings.TrimSpace(s))
	if !ok {
		return pgtype.Date{Valid: false}
	}
	return pgtype.Date{Time: t, Valid: true}
}

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}
