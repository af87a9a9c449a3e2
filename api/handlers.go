package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/gidra39/modelselect/dataset"
	"github.com/gidra39/modelselect/logging"
	"github.com/gidra39/modelselect/runstore"
	"github.com/gidra39/modelselect/selector"
	"github.com/gidra39/modelselect/types"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Detail: err.Error()})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// process runs model selection on an uploaded CSV and returns the report.
func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "parse multipart form"))
		return
	}

	taskType := r.FormValue("task_type")
	if _, err := types.ParseTaskKind(taskType); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("Invalid task type. Must be 'classification' or 'regression'."))
		return
	}
	target := strings.TrimSpace(r.FormValue("target_column"))
	if target == "" {
		writeError(w, http.StatusBadRequest, errors.New("target_column is required"))
		return
	}
	nTrials := 0
	if v := r.FormValue("n_trials"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.Errorf("n_trials must be a positive integer, got %q", v))
			return
		}
		nTrials = n
	}

	file, header, err := r.FormFile("csv_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "csv_file"))
		return
	}
	defer file.Close()
	ds, err := dataset.ReadCSV(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.runner.Run(r.Context(), selector.Request{
		Dataset:      ds,
		DatasetID:    header.Filename,
		TargetColumn: target,
		Task:         taskType,
		NTrials:      nTrials,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, types.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	s.index(r, header.Filename, taskType, res)
	writeJSON(w, http.StatusOK, res.Report)
}

func (s *Server) index(r *http.Request, datasetID, taskType string, res *selector.Result) {
	if s.runs == nil {
		return
	}
	body, err := json.Marshal(res.Report)
	if err == nil {
		err = s.runs.Put(r.Context(), runstore.Record{
			RunID:     res.ModelUUID,
			DatasetID: datasetID,
			Task:      strings.ToLower(taskType),
			ModelName: res.Report.BestModelInfo.ModelName,
			Report:    body,
		})
	}
	if err != nil {
		logging.Warn().Err(err).Str(logging.KeyRunID, res.ModelUUID).Msg("run not indexed")
	}
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, runstore.ErrNotFound)
		return
	}
	rec, err := s.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) datasetRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusOK, []runstore.Record{})
		return
	}
	recs, err := s.runs.ByDataset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []runstore.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}
