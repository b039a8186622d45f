package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/taskgrid/internal/engine"
	"github.com/seantiz/taskgrid/internal/model"
	"github.com/seantiz/taskgrid/internal/store"
	"github.com/seantiz/taskgrid/internal/task"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// submitTaskRequest is the JSON body for POST /v1/tasks.
type submitTaskRequest struct {
	Task       string          `json:"task"`
	Arg        json.RawMessage `json:"arg"`
	TimeoutMS  int64           `json:"timeout_ms"`
	NoFailover bool            `json:"no_failover"`
	Nodes      []string        `json:"nodes"`
	Principal  string          `json:"principal"`
	Attributes map[string]any  `json:"attributes"`
	// Wait blocks the request until the task finishes.
	Wait bool `json:"wait"`
}

// siblingView is one dispatched job of a live task.
type siblingView struct {
	JobID string `json:"job_id"`
	Node  string `json:"node"`
	Done  bool   `json:"done"`
}

// taskResponse describes a task. Live fields are present while the task is
// registered with the engine or when it finished during the request.
type taskResponse struct {
	SessionID  string         `json:"session_id"`
	TaskName   string         `json:"task_name"`
	State      string         `json:"state"`
	Live       bool           `json:"live"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Siblings   []siblingView  `json:"siblings,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`

	Record *model.TaskRecord `json:"record,omitempty"`
}

// listTasksResponse wraps the paginated list response.
type listTasksResponse struct {
	Tasks  []*model.TaskRecord `json:"tasks"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

func futureView(f *engine.Future) taskResponse {
	resp := taskResponse{
		SessionID:  f.SessionID(),
		TaskName:   f.TaskName(),
		State:      f.State(),
		CreatedAt:  f.CreatedAt().UTC(),
		Attributes: f.Session().Attributes(),
	}
	for _, sib := range f.Siblings() {
		resp.Siblings = append(resp.Siblings, siblingView{JobID: sib.JobID, Node: sib.Node, Done: sib.Done})
	}
	select {
	case <-f.Done():
		v, err := f.Get(context.Background())
		resp.Result = v
		if err != nil {
			resp.Error = err.Error()
		}
	default:
		resp.Live = true
	}
	return resp
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Task == "" {
		s.writeError(w, http.StatusBadRequest, "task is required")
		return
	}
	if req.TimeoutMS < 0 {
		s.writeError(w, http.StatusBadRequest, "timeout_ms must not be negative")
		return
	}

	opts := engine.SubmissionOptions{
		Timeout:    time.Duration(req.TimeoutMS) * time.Millisecond,
		NoFailover: req.NoFailover,
		Nodes:      req.Nodes,
		Principal:  req.Principal,
		Attributes: req.Attributes,
	}
	f, err := s.engine.Submit(r.Context(), task.ByName(req.Task), req.Arg, opts)
	if errors.Is(err, engine.ErrShutdown) {
		s.writeError(w, http.StatusServiceUnavailable, "engine is shutting down")
		return
	}
	if err != nil {
		s.logger.Error("submit task", "task", req.Task, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}

	if req.Wait {
		select {
		case <-f.Done():
		case <-r.Context().Done():
			return
		}
		s.writeJSON(w, http.StatusOK, futureView(f))
		return
	}

	s.writeJSON(w, http.StatusAccepted, futureView(f))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetTask(r.Context(), id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("get task", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	if f, ok := s.engine.Lookup(id); ok {
		resp := futureView(f)
		resp.Record = rec
		s.writeJSON(w, http.StatusOK, resp)
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}

	s.writeJSON(w, http.StatusOK, recordView(rec))
}

func recordView(rec *model.TaskRecord) taskResponse {
	resp := taskResponse{
		SessionID: rec.SessionID,
		TaskName:  rec.TaskName,
		State:     rec.State,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
		Record:    rec,
	}
	if len(rec.Result) > 0 {
		resp.Result = json.RawMessage(rec.Result)
	}
	return resp
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	tasks, total, err := s.store.ListTasks(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list tasks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	if tasks == nil {
		tasks = []*model.TaskRecord{}
	}

	s.writeJSON(w, http.StatusOK, listTasksResponse{
		Tasks:  tasks,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	f, ok := s.engine.Lookup(id)
	if !ok {
		if _, err := s.store.GetTask(r.Context(), id); err == nil {
			s.writeError(w, http.StatusConflict, "task already finished")
			return
		}
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}

	if !f.Cancel() {
		s.writeError(w, http.StatusConflict, "task already finished")
		return
	}
	<-f.Done()
	s.writeJSON(w, http.StatusOK, futureView(f))
}

func (s *Server) handleSetAttributes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var attrs map[string]any
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(attrs) == 0 {
		s.writeError(w, http.StatusBadRequest, "attributes are required")
		return
	}

	f, ok := s.engine.Lookup(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "task not running")
		return
	}

	err := f.Session().SetAttributes(r.Context(), attrs)
	if errors.Is(err, engine.ErrSessionNotShared) {
		s.writeError(w, http.StatusConflict, "task does not share its session")
		return
	}
	if err != nil {
		s.logger.Error("set task attributes", "session_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to set attributes")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
