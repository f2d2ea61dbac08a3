package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvrefinery/internal/core"
	"github.com/JonMunkholm/csvrefinery/internal/ingest"
	"github.com/JonMunkholm/csvrefinery/internal/trigger"
)

// handleHealth reports liveness and ingestion slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":   "ok",
		"active":   s.limiter.Active(),
		"capacity": s.limiter.Capacity(),
	})
}

// handleEvent ingests the object named by an S3 event notification body.
// The response is the outcome on success, or an ErrorResponse carrying it.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, core.Errorf(core.KindInvalidTrigger, "read event", "body exceeds %d bytes", tooLarge.Limit), nil)
			return
		}
		respondError(w, r, core.E(core.KindInvalidTrigger, "read event", err), nil)
		return
	}

	obj, err := trigger.Parse(r.Context(), body)
	if err != nil {
		respondError(w, r, err, nil)
		return
	}

	if err := s.limiter.Acquire(r.Context()); err != nil {
		if errors.Is(err, ingest.ErrBusy) {
			w.Header().Set("Retry-After", retryAfter(s.cfg.Pipeline.MaxWaitTime))
		}
		respondError(w, r, err, nil)
		return
	}
	defer s.limiter.Release()

	// The ingestion outlives a disconnected client; its outcome is still logged.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.ingestTimeout())
	defer cancel()

	out, err := s.ingester.Handle(ctx, obj)
	if err != nil {
		respondError(w, r, err, out)
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

type fieldView struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type schemaView struct {
	Key    string      `json:"key"`
	Label  string      `json:"label"`
	Fields []fieldView `json:"fields"`
	Rules  []string    `json:"rules"`
}

func viewSchema(sc *core.Schema) schemaView {
	v := schemaView{Key: sc.Key, Label: sc.Label}
	for _, f := range sc.Fields {
		v.Fields = append(v.Fields, fieldView{Name: f.Name, Type: f.Type.String()})
	}
	for _, rule := range sc.Rules {
		v.Rules = append(v.Rules, rule.Column+": "+rule.Reason)
	}
	return v
}

// handleListSchemas returns every registered schema.
func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	keys := core.Schemas()
	views := make([]schemaView, 0, len(keys))
	for _, key := range keys {
		if sc, ok := core.GetSchema(key); ok {
			views = append(views, viewSchema(sc))
		}
	}
	writeJSON(w, r, http.StatusOK, views)
}

// handleGetSchema returns one schema by key.
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "schemaKey")
	sc, ok := core.GetSchema(key)
	if !ok {
		writeJSON(w, r, http.StatusNotFound, ErrorResponse{
			Error:   "unknown schema " + strconv.Quote(key),
			Message: "Schema not found",
			Code:    "SCH404",
			Kind:    core.KindSchema.String(),
		})
		return
	}
	writeJSON(w, r, http.StatusOK, viewSchema(sc))
}

// handleListOutcomes returns recent outcomes from the history database.
func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, r, http.StatusNotFound, ErrorResponse{
			Error:   "outcome history is disabled",
			Message: "Outcome history is not configured",
			Action:  "Set DATABASE_URL to enable history",
			Code:    "CFG002",
			Kind:    core.KindConfiguration.String(),
		})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, r, http.StatusBadRequest, ErrorResponse{
				Error:   "invalid limit " + strconv.Quote(raw),
				Message: "limit must be a positive integer",
				Code:    "REQ001",
				Kind:    core.KindUnknown.String(),
			})
			return
		}
		limit = n
	}

	outcomes, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, outcomes)
}
