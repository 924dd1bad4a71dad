package core

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ParseRecord extracts every declared column from a decoded fixed-width
// line. Offsets count characters, not bytes. A column that starts past the
// end of the line is empty; a column cut short by the end of the line gets
// the remainder. Conversion problems degrade the column to null or its
// zero value and are returned as warnings; they never abort the row.
func ParseRecord(line string, meta *TableMetadata) (ParsedRecord, []string) {
	runes := []rune(line)
	rec := ParsedRecord{Fields: make([]Field, 0, len(meta.Columns))}

	var warnings []string
	for _, col := range meta.Columns {
		raw := extractField(runes, col)
		value, warn := convertField(raw, col)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		rec.Fields = append(rec.Fields, Field{Name: col.Name, Value: value})
	}

	return rec, warnings
}

// extractField returns the trimmed text of col, clamped to the line.
func extractField(runes []rune, col ColumnDefinition) string {
	offset := col.Offset()
	if offset < 0 || offset >= len(runes) {
		return ""
	}
	end := offset + col.Length
	if end > len(runes) {
		end = len(runes)
	}
	return strings.TrimSpace(string(runes[offset:end]))
}

func convertField(raw string, col ColumnDefinition) (Value, string) {
	if raw == "" {
		return emptyValue(col), ""
	}

	switch col.Type {
	case TypeNumber:
		if v, ok := ParseNumber(raw); ok {
			return v, ""
		}
		return emptyValue(col), fmt.Sprintf("column %s: %q is not a number", col.Name, raw)

	case TypeDate:
		if utf8.RuneCountInString(raw) != 6 {
			return emptyValue(col), fmt.Sprintf("column %s: date %q is not a 6-character period", col.Name, raw)
		}
		return StringValue(raw), ""

	default:
		return StringValue(raw), ""
	}
}

// emptyValue is null for nullable columns and the type's zero value
// otherwise.
func emptyValue(col ColumnDefinition) Value {
	if col.Nullable {
		return NullValue()
	}
	switch col.Type {
	case TypeNumber:
		return IntValue(0)
	case TypeDate:
		return NullValue()
	default:
		return StringValue("")
	}
}
