package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/civicdata/internal/catalog"
	"github.com/malbeclabs/civicdata/internal/pipeline"
)

const maxRequestBytes = 64 << 10

type AnswerRequest struct {
	Question  string `json:"question"`
	DatasetID string `json:"dataset_id,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind      string `json:"kind"`
	Stage     string `json:"stage,omitempty"`
	Message   string `json:"message"`
	DatasetID string `json:"dataset_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type DatasetsResponse struct {
	Datasets  []catalog.Summary `json:"datasets"`
	Reasoning string            `json:"reasoning,omitempty"`
	FellBack  bool              `json:"fell_back,omitempty"`
}

func (s *Server) answerHandler(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, errorBody{Kind: "bad_request", Message: "invalid request body"})
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, r, http.StatusBadRequest, errorBody{Kind: "bad_request", Message: "question is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	var (
		answer *pipeline.Answer
		err    error
	)
	if req.DatasetID != "" {
		answer, err = s.cfg.Pipeline.AnswerWithDataset(ctx, req.Question, req.DatasetID)
	} else {
		answer, err = s.cfg.Pipeline.Answer(ctx, req.Question)
	}
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, answer)
}

func (s *Server) searchDatasetsHandler(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		all, err := s.cfg.Store.ListAll(r.Context())
		if err != nil {
			s.log.Error("server: failed to list datasets", "error", err)
			s.writeError(w, r, http.StatusInternalServerError, errorBody{Kind: "internal", Message: "failed to list datasets"})
			return
		}
		s.writeJSON(w, http.StatusOK, DatasetsResponse{Datasets: all})
		return
	}

	opts, err := parseRetrieveOptions(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, errorBody{Kind: "bad_request", Message: err.Error()})
		return
	}
	ranking, err := s.cfg.Pipeline.Search(r.Context(), q, opts)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, DatasetsResponse{
		Datasets:  ranking.Datasets,
		Reasoning: ranking.Reasoning,
		FellBack:  ranking.FellBack,
	})
}

func parseRetrieveOptions(r *http.Request) (pipeline.RetrieveOptions, error) {
	opts := pipeline.RetrieveOptions{Limit: defaultSearchLimit}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxSearchLimit {
			return opts, errors.New("limit must be between 1 and 100")
		}
		opts.Limit = n
	}
	if v := r.URL.Query().Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < -1 || t > 1 {
			return opts, errors.New("threshold must be between -1 and 1")
		}
		opts.Threshold = &t
	}
	return opts, nil
}

func (s *Server) getDatasetHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.cfg.Store.Get(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, r, http.StatusNotFound, errorBody{Kind: "not_found", Message: "dataset not found", DatasetID: id})
		return
	}
	if err != nil {
		s.log.Error("server: failed to get dataset", "id", id, "error", err)
		s.writeError(w, r, http.StatusInternalServerError, errorBody{Kind: "internal", Message: "failed to get dataset"})
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

// writePipelineError renders refusals as 422 and faults by kind.
func (s *Server) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{
		Kind:    pipeline.ErrorKind(err),
		Stage:   string(pipeline.ErrorStage(err)),
		Message: err.Error(),
	}

	var ue *pipeline.UnanswerableError
	if errors.As(err, &ue) {
		body.Message = ue.Reasoning
		body.DatasetID = ue.DatasetID
		s.writeError(w, r, http.StatusUnprocessableEntity, body)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case body.Kind == "retrieval":
		status = http.StatusServiceUnavailable
	case body.Kind == "load", body.Kind == "synthesis":
		status = http.StatusBadGateway
	case body.Kind == "internal":
		s.log.Error("server: answer failed", "error", err)
		body.Message = "internal error"
	}
	s.writeError(w, r, status, body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, body errorBody) {
	body.RequestID = requestIDFrom(r.Context())
	s.writeJSON(w, status, ErrorResponse{Error: body})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}
