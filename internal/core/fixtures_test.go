package core_test

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/sigtap/internal/core"
)

const layoutGrupo = `Coluna,Tamanho,Inicio,Fim,Tipo
CO_GRUPO,2,1,2,VARCHAR2
NO_GRUPO,100,3,102,VARCHAR2
DT_COMPETENCIA,6,103,108,CHAR
`

const layoutProcedimento = `Coluna,Tamanho,Inicio,Fim,Tipo
CO_PROCEDIMENTO,10,1,10,VARCHAR2
NO_PROCEDIMENTO,250,11,260,VARCHAR2
VL_IDADE_MINIMA,4,261,264,NUMBER
VL_IDADE_MAXIMA,4,265,268,NUMBER
DT_COMPETENCIA,6,269,274,CHAR
`

const layoutProcedimentoCID = `Coluna,Tamanho,Inicio,Fim,Tipo
CO_PROCEDIMENTO,10,1,10,VARCHAR2
CO_CID,4,11,14,VARCHAR2
ST_PRINCIPAL,1,15,15,VARCHAR2
NO_CID,100,16,115,VARCHAR2
DT_COMPETENCIA,6,116,121,CHAR
`

func grupoLine(code, name, competence string) string {
	return fmt.Sprintf("%-2s%-100s%-6s", code, name, competence)
}

func procedimentoLine(code, name string, minAge, maxAge int, competence string) string {
	return fmt.Sprintf("%-10s%-250s%04d%04d%-6s", code, name, minAge, maxAge, competence)
}

func procedimentoCIDLine(procedure, cid, principal, cidName, competence string) string {
	return fmt.Sprintf("%-10s%-4s%-1s%-100s%-6s", procedure, cid, principal, cidName, competence)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeTable writes a layout/data pair named after table into dir.
func writeTable(t *testing.T, dir, table, layout string, lines ...string) {
	t.Helper()
	data := ""
	if len(lines) > 0 {
		data = strings.Join(lines, "\n") + "\n"
	}
	writeTableBytes(t, dir, table, layout, []byte(data))
}

func writeTableBytes(t *testing.T, dir, table, layout string, data []byte) {
	t.Helper()
	base := strings.ToLower(table)
	if err := os.WriteFile(filepath.Join(dir, base+"_layout.txt"), []byte(layout), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, base+".txt"), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// sigtapDir writes a small release with one hierarchy, one procedure and
// one relationship table.
func sigtapDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTable(t, dir, "TB_GRUPO", layoutGrupo,
		grupoLine("01", "ACOES DE PROMOCAO E PREVENCAO EM SAUDE", "202401"),
		grupoLine("02", "PROCEDIMENTOS COM FINALIDADE DIAGNOSTICA", "202401"),
	)
	writeTable(t, dir, "TB_PROCEDIMENTO", layoutProcedimento,
		procedimentoLine("0101010010", "ATIVIDADE EDUCATIVA", 0, 130, "202401"),
		procedimentoLine("0201010020", "BIOPSIA", 30, 20, "202401"),
	)
	writeTable(t, dir, "RL_PROCEDIMENTO_CID", layoutProcedimentoCID,
		procedimentoCIDLine("0201010020", "A00", "S", "colera", "202401"),
		"",
		procedimentoCIDLine("0201010020", "A01", "N", "febres tifoide e paratifoide", "202401"),
	)
	return dir
}

// tableMeta parses a layout into table metadata without touching disk.
func tableMeta(t *testing.T, name, layout string) *core.TableMetadata {
	t.Helper()
	cols, warnings, err := core.ParseLayout(strings.NewReader(layout), name)
	if err != nil {
		t.Fatalf("ParseLayout(%s) error = %v", name, err)
	}
	if len(warnings) > 0 {
		t.Fatalf("ParseLayout(%s) warnings = %v", name, warnings)
	}
	return &core.TableMetadata{Name: name, Columns: cols, Priority: core.PriorityFor(name)}
}

func col(name string, length int, typ core.DataType) core.ColumnDefinition {
	return core.ColumnDefinition{Name: name, Length: length, Start: 1, End: length, Type: typ, Nullable: true}
}

func varchar(name string, length int) core.ColumnSpec {
	return core.ColumnSpec{Name: name, Type: core.StorageType{Kind: core.StorageVarchar, Length: length}, Nullable: true}
}

func record(pairs ...string) core.ParsedRecord {
	var rec core.ParsedRecord
	for i := 0; i+1 < len(pairs); i += 2 {
		rec.Fields = append(rec.Fields, core.Field{Name: pairs[i], Value: core.StringValue(pairs[i+1])})
	}
	return rec
}
