package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/JonMunkholm/sigtap/internal/core"
	"github.com/JonMunkholm/sigtap/internal/logging"
	"github.com/go-chi/chi/v5"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 64 * 1024

// TablesResponse lists the importable tables of a directory.
type TablesResponse struct {
	Dir              string                `json:"dir"`
	Tables           []*core.TableMetadata `json:"tables"`
	MissingMandatory []string              `json:"missingMandatory,omitempty"`
}

// RunResponse wraps a run report for JSON encoding.
type RunResponse struct {
	*core.RunReport
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Duration  string `json:"duration"`
	Error     string `json:"error,omitempty"`
}

// toResponse converts a RunReport to a JSON-friendly format.
func toResponse(report *core.RunReport, runErr error) RunResponse {
	if report == nil {
		report = &core.RunReport{}
	}
	succeeded, failed := report.Totals()
	resp := RunResponse{
		RunReport: report,
		Succeeded: succeeded,
		Failed:    failed,
		Duration:  report.Elapsed.String(),
	}
	if runErr != nil {
		resp.Error = core.FormatUserError(runErr)
	}
	return resp
}

// resolveDir falls back to the configured import directory and checks the
// result is a readable directory.
func (s *Server) resolveDir(dir string) (string, error) {
	if dir == "" {
		dir = s.cfg.Import.Dir
	}
	if dir == "" {
		return "", fmt.Errorf("%w: dir is required", errBadRequest)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("import directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", errBadRequest, dir)
	}
	return dir, nil
}

// handleListTables returns the tables a run over dir would import, in
// import order.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	dir, err := s.resolveDir(r.URL.Query().Get("dir"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	tables, err := s.service.ListTables(dir)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, TablesResponse{
		Dir:              dir,
		Tables:           tables,
		MissingMandatory: core.MissingMandatory(tables, s.cfg.Import.MandatoryTables),
	})
}

// handleStartImport starts a background run and returns its ID.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	var req core.ImportRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil && err != io.EOF {
		respondError(w, r, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err))
		return
	}

	if _, err := core.ParseDuplicatePolicy(string(req.Policy)); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.MaxErrors < 0 {
		respondError(w, r, fmt.Errorf("%w: maxErrors must be non-negative", errBadRequest))
		return
	}

	dir, err := s.resolveDir(req.Dir)
	if err != nil {
		respondError(w, r, err)
		return
	}
	req.Dir = dir

	runID, err := s.service.StartImport(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "run_id", runID).Info("import requested", "dir", dir, "policy", req.Policy)
	writeJSON(w, r, http.StatusAccepted, map[string]string{"runId": runID})
}

// handleImportProgress streams run progress via Server-Sent Events. The
// stream ends with a "complete" event carrying the run report.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	progressCh, err := s.service.SubscribeProgress(runID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, fmt.Errorf("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	eventID := 0
	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				// Channel closed - run finished
				report, _, runErr := s.service.Report(runID)
				data, _ := json.Marshal(toResponse(report, runErr))
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				flusher.Flush()
				return
			}

			eventID++
			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", eventID, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleImportResult returns the report of a run. While the run is going
// it answers 202, unless wait=true asks to block until it finishes.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if r.URL.Query().Get("wait") == "true" {
		report, err := s.service.GetRunReport(r.Context(), runID)
		if report == nil && err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toResponse(report, err))
		return
	}

	report, done, err := s.service.Report(runID)
	if !done {
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusAccepted, map[string]string{"runId": runID, "status": "running"})
		return
	}
	writeJSON(w, r, http.StatusOK, toResponse(report, err))
}

// handleCancelImport cancels a run. Rows already written stay committed.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if err := s.service.CancelImport(runID); err != nil {
		respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "run_id", runID).Info("import cancel requested")
	writeJSON(w, r, http.StatusOK, map[string]string{"runId": runID, "status": "cancelling"})
}

// handleImportStatus returns the run slot and every tracked run.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.RunStatus())
}
