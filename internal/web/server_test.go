package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/sigtap/internal/config"
	"github.com/JonMunkholm/sigtap/internal/core"
	"github.com/JonMunkholm/sigtap/internal/logging"
	"github.com/JonMunkholm/sigtap/internal/store/memory"
)

const grupoLayout = "Coluna,Tamanho,Inicio,Fim,Tipo\n" +
	"CO_GRUPO,2,1,2,VARCHAR2\n" +
	"NO_GRUPO,20,3,22,VARCHAR2\n" +
	"DT_COMPETENCIA,6,23,28,CHAR\n"

func pad(s string, n int) string {
	return s + strings.Repeat(" ", n-len(s))
}

// writeFixture writes a one-table SIGTAP directory and returns its path.
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	data := "01" + pad("Promocao e prevencao", 20) + "202401\n" +
		"02" + pad("Diagnostico", 20) + "202401\n"

	if err := os.WriteFile(filepath.Join(dir, "tb_grupo_layout.txt"), []byte(grupoLayout), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tb_grupo.txt"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, apiKeys []string, pinger Pinger) (*Server, *memory.Store) {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second, APIKeys: apiKeys},
		Import: config.ImportConfig{MandatoryTables: core.DefaultMandatoryTables},
	}
	store := memory.New()
	service := core.NewService(store, core.DefaultImportOptions(), logging.Discard())
	return NewServer(service, cfg, pinger), store
}

func do(t *testing.T, s *Server, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		pinger     Pinger
		wantStatus int
		wantDB     string
	}{
		{"no database", nil, http.StatusOK, "disabled"},
		{"database up", fakePinger{}, http.StatusOK, "ok"},
		{"database down", fakePinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, nil, tt.pinger)
			rec := do(t, s, http.MethodGet, "/healthz", nil, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decode[map[string]string](t, rec)
			if body["database"] != tt.wantDB {
				t.Errorf("database = %q, want %q", body["database"], tt.wantDB)
			}
		})
	}
}

func TestListTables(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	dir := writeFixture(t)

	rec := do(t, s, http.MethodGet, "/api/tables?dir="+dir, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decode[TablesResponse](t, rec)
	if len(resp.Tables) != 1 || resp.Tables[0].Name != "TB_GRUPO" {
		t.Fatalf("tables = %+v, want [TB_GRUPO]", resp.Tables)
	}
	var keys []string
	for _, c := range resp.Tables[0].Columns {
		if c.PrimaryKey {
			keys = append(keys, c.Name)
		}
	}
	if len(keys) != 1 || keys[0] != "CO_GRUPO" {
		t.Errorf("primary key = %v, want [CO_GRUPO]", keys)
	}
	if len(resp.MissingMandatory) != 3 {
		t.Errorf("missingMandatory = %v, want the 3 absent mandatory tables", resp.MissingMandatory)
	}
}

func TestListTables_BadDir(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"missing dir", "/api/tables", http.StatusBadRequest},
		{"nonexistent dir", "/api/tables?dir=" + filepath.Join(t.TempDir(), "nope"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, tt.target, nil, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestStartImport_Validation(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	dir := writeFixture(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown policy", map[string]any{"dir": dir, "policy": "merge"}},
		{"negative max errors", map[string]any{"dir": dir, "maxErrors": -1}},
		{"no dir", map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/imports", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestImportLifecycle(t *testing.T) {
	s, store := newTestServer(t, nil, nil)
	dir := writeFixture(t)

	rec := do(t, s, http.MethodPost, "/api/imports", map[string]any{"dir": dir}, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body.String())
	}
	runID := decode[map[string]string](t, rec)["runId"]
	if runID == "" {
		t.Fatal("no runId returned")
	}

	rec = do(t, s, http.MethodGet, "/api/imports/"+runID+"/result?wait=true", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[RunResponse](t, rec)
	if resp.Outcome != core.OutcomeCompleted {
		t.Errorf("outcome = %q, want %q", resp.Outcome, core.OutcomeCompleted)
	}
	if resp.Succeeded != 2 || resp.Failed != 0 {
		t.Errorf("succeeded/failed = %d/%d, want 2/0", resp.Succeeded, resp.Failed)
	}
	if got := store.RowCount("TB_GRUPO"); got != 2 {
		t.Errorf("rows stored = %d, want 2", got)
	}

	// A finished run still streams its last progress and a complete event.
	rec = do(t, s, http.MethodGet, "/api/imports/"+runID+"/progress", nil, nil)
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	stream := rec.Body.String()
	if !strings.Contains(stream, "event: progress") || !strings.Contains(stream, "event: complete") {
		t.Errorf("stream missing events: %q", stream)
	}

	rec = do(t, s, http.MethodGet, "/api/imports/status", nil, nil)
	status := decode[core.ServiceStatus](t, rec)
	if len(status.Runs) != 1 || !status.Runs[0].Done {
		t.Errorf("status runs = %+v, want one finished run", status.Runs)
	}
}

func TestUnknownRun(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	for _, target := range []string{
		"/api/imports/nope/result",
		"/api/imports/nope/progress",
	} {
		rec := do(t, s, http.MethodGet, target, nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", target, rec.Code)
		}
	}

	rec := do(t, s, http.MethodPost, "/api/imports/nope/cancel", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cancel status = %d, want 404", rec.Code)
	}
	body := decode[ErrorResponse](t, rec)
	if body.Code != "RUN002" {
		t.Errorf("code = %q, want RUN002", body.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	s, _ := newTestServer(t, []string{"secret"}, nil)
	dir := writeFixture(t)

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"missing key", nil, http.StatusUnauthorized},
		{"wrong key", map[string]string{"X-API-Key": "guess"}, http.StatusForbidden},
		{"valid key", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, "/api/tables?dir="+dir, nil, tt.headers)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if rec := do(t, s, http.MethodGet, "/healthz", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200 without a key", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	rec := do(t, s, http.MethodGet, "/healthz", nil, nil)

	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("header %s not set", h)
		}
	}
}
