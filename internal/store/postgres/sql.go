package postgres

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/sigtap/internal/core"
)

// quoteIdentifier safely quotes a PostgreSQL identifier.
// Table and column names come from layout files, so they are always
// quoted; embedded double quotes are doubled.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// qualified returns schema.table, both quoted.
func qualified(schema, table string) string {
	if schema == "" {
		return quoteIdentifier(table)
	}
	return quoteIdentifier(schema) + "." + quoteIdentifier(table)
}

func columnDDL(col core.ColumnSpec) string {
	ddl := quoteIdentifier(col.Name) + " " + col.Type.String()
	if !col.Nullable {
		ddl += " NOT NULL"
	}
	return ddl
}

func buildCreateTable(schema, table string, columns []core.ColumnSpec, primaryKey []string) string {
	parts := make([]string, 0, len(columns)+1)
	for _, col := range columns {
		parts = append(parts, columnDDL(col))
	}
	if len(primaryKey) > 0 {
		keys := make([]string, len(primaryKey))
		for i, k := range primaryKey {
			keys[i] = quoteIdentifier(k)
		}
		parts = append(parts, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		qualified(schema, table), strings.Join(parts, ",\n\t"))
}

func buildAddColumn(schema, table string, col core.ColumnSpec) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s",
		qualified(schema, table), columnDDL(col))
}

func buildWidenColumn(schema, table string, col core.ColumnSpec) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s",
		qualified(schema, table), quoteIdentifier(col.Name), col.Type.String())
}

// whereKey renders "col1" = $n AND "col2" = $n+1 ... starting at argument
// index start and returns the key values in order.
func whereKey(key []core.Field, start int) (string, []any) {
	conds := make([]string, len(key))
	args := make([]any, len(key))
	for i, f := range key {
		conds[i] = fmt.Sprintf("%s = $%d", quoteIdentifier(f.Name), start+i)
		args[i] = f.Value.Any()
	}
	return strings.Join(conds, " AND "), args
}

func buildExists(schema, table string, key []core.Field) (string, []any) {
	where, args := whereKey(key, 1)
	return fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s)", qualified(schema, table), where), args
}

func buildInsert(schema, table string, fields []core.Field) (string, []any) {
	cols := make([]string, len(fields))
	placeholders := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		cols[i] = quoteIdentifier(f.Name)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = f.Value.Any()
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualified(schema, table), strings.Join(cols, ", "), strings.Join(placeholders, ", ")), args
}

func buildUpdate(schema, table string, key, fields []core.Field) (string, []any) {
	sets := make([]string, len(fields))
	args := make([]any, 0, len(fields)+len(key))
	for i, f := range fields {
		sets[i] = fmt.Sprintf("%s = $%d", quoteIdentifier(f.Name), i+1)
		args = append(args, f.Value.Any())
	}
	where, keyArgs := whereKey(key, len(fields)+1)
	args = append(args, keyArgs...)
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		qualified(schema, table), strings.Join(sets, ", "), where), args
}

// storageKind maps information_schema data_type values to storage kinds.
func storageKind(dataType string) core.StorageKind {
	switch strings.ToLower(dataType) {
	case "character varying":
		return core.StorageVarchar
	case "character":
		return core.StorageChar
	case "text":
		return core.StorageText
	case "integer", "smallint":
		return core.StorageInteger
	case "bigint":
		return core.StorageBigInt
	case "numeric", "real", "double precision":
		return core.StorageNumeric
	case "date", "timestamp without time zone", "timestamp with time zone":
		return core.StorageDate
	default:
		return core.StorageText
	}
}

// liveColumn maps one information_schema.columns row.
func liveColumn(name, dataType, nullable string, maxChars, maxOctets *int32) core.LiveColumn {
	lc := core.LiveColumn{
		Name:     name,
		Kind:     storageKind(dataType),
		Nullable: nullable == "YES",
	}
	if lc.Kind == core.StorageText {
		return lc
	}
	if maxChars != nil {
		lc.Length = int(*maxChars)
	}
	if maxOctets != nil {
		lc.MaxBytes = int(*maxOctets)
	}
	return lc
}
