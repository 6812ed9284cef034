package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/schemalens/pkg/adapters/datasource"
	"github.com/ekaya-inc/schemalens/pkg/apperrors"
	"github.com/ekaya-inc/schemalens/pkg/config"
	"github.com/ekaya-inc/schemalens/pkg/engine"
	"github.com/ekaya-inc/schemalens/pkg/models"
)

// SchemaHandler exposes term resolution, query building, snapshots, and the
// runtime configuration surface.
type SchemaHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewSchemaHandler creates a SchemaHandler.
func NewSchemaHandler(eng *engine.Engine, logger *zap.Logger) *SchemaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaHandler{engine: eng, logger: logger}
}

// RegisterRoutes registers the schema API routes on the given mux.
func (h *SchemaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/resolve", h.ResolveTerm)
	mux.HandleFunc("POST /api/learn", h.Learn)
	mux.HandleFunc("POST /api/query", h.BuildQuery)
	mux.HandleFunc("GET /api/snapshot", h.Snapshot)
	mux.HandleFunc("GET /api/options", h.GetOptions)
	mux.HandleFunc("PUT /api/options", h.PutOptions)
	mux.HandleFunc("GET /api/stats", h.Stats)
	mux.HandleFunc("GET /api/adapters", h.Adapters)
}

type resolveRequest struct {
	Term    string `json:"term"`
	Context string `json:"context,omitempty"`
}

type resolveResponse struct {
	Mappings []models.SemanticMapping `json:"mappings"`
}

// ResolveTerm handles POST /api/resolve.
func (h *SchemaHandler) ResolveTerm(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Term == "" {
		writeError(w, http.StatusBadRequest, "term is required")
		return
	}

	mappings, err := h.engine.ResolveTerm(r.Context(), req.Term, req.Context)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Mappings: mappings})
}

type learnRequest struct {
	Term    string                 `json:"term"`
	Mapping models.SemanticMapping `json:"mapping"`
}

// Learn handles POST /api/learn.
func (h *SchemaHandler) Learn(w http.ResponseWriter, r *http.Request) {
	var req learnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Term == "" || req.Mapping.SchemaPath == "" {
		writeError(w, http.StatusBadRequest, "term and mapping.schema_path are required")
		return
	}

	if err := h.engine.LearnFromSuccess(r.Context(), req.Term, req.Mapping); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type queryRequest struct {
	Intent   models.QueryIntent       `json:"intent"`
	Mappings []models.SemanticMapping `json:"mappings,omitempty"`
}

// BuildQuery handles POST /api/query.
func (h *SchemaHandler) BuildQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	plan, err := h.engine.BuildQuery(r.Context(), &req.Intent, req.Mappings)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

type snapshotResponse struct {
	Snapshot *models.SchemaSnapshot `json:"snapshot"`
	Stale    bool                   `json:"stale"`
	State    string                 `json:"state"`
}

// Snapshot handles GET /api/snapshot. ?refresh=true forces a discovery pass.
func (h *SchemaHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "true"

	snap, stale, err := h.engine.GetSnapshot(r.Context(), force)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{
		Snapshot: snap,
		Stale:    stale,
		State:    h.engine.State(),
	})
}

type optionsPayload struct {
	TTLSeconds              int     `json:"ttl_seconds"`
	SimilarityThreshold     float64 `json:"similarity_threshold"`
	MaxSuggestions          int     `json:"max_suggestions"`
	DiscoveryTimeoutSeconds int     `json:"discovery_timeout_seconds"`
	StaleCeilingSeconds     int     `json:"stale_ceiling_seconds"`
}

// GetOptions handles GET /api/options.
func (h *SchemaHandler) GetOptions(w http.ResponseWriter, r *http.Request) {
	opts := h.engine.Options()
	writeJSON(w, http.StatusOK, optionsPayload{
		TTLSeconds:              int(opts.TTL / time.Second),
		SimilarityThreshold:     opts.SimilarityThreshold,
		MaxSuggestions:          opts.MaxSuggestions,
		DiscoveryTimeoutSeconds: int(opts.DiscoveryTimeout / time.Second),
		StaleCeilingSeconds:     int(opts.StaleCeiling / time.Second),
	})
}

// PutOptions handles PUT /api/options, hot-reloading the runtime tunables.
func (h *SchemaHandler) PutOptions(w http.ResponseWriter, r *http.Request) {
	var req optionsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.engine.ApplyOptions(config.Options{
		TTL:                 time.Duration(req.TTLSeconds) * time.Second,
		SimilarityThreshold: req.SimilarityThreshold,
		MaxSuggestions:      req.MaxSuggestions,
		DiscoveryTimeout:    time.Duration(req.DiscoveryTimeoutSeconds) * time.Second,
		StaleCeiling:        time.Duration(req.StaleCeilingSeconds) * time.Second,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statsResponse struct {
	State string      `json:"state"`
	Cache interface{} `json:"cache"`
}

// Stats handles GET /api/stats.
func (h *SchemaHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		State: h.engine.State(),
		Cache: h.engine.CacheStats(),
	})
}

// Adapters handles GET /api/adapters, listing compiled-in datasource types.
func (h *SchemaHandler) Adapters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, datasource.RegisteredAdapters())
}

type errorBody struct {
	Error        string                   `json:"error"`
	Alternatives []models.SemanticMapping `json:"alternatives,omitempty"`
}

// writeEngineError maps the error taxonomy onto HTTP statuses. Ambiguity and
// missing tables carry their alternatives so callers can build a
// disambiguation prompt.
func (h *SchemaHandler) writeEngineError(w http.ResponseWriter, err error) {
	var ambiguous *apperrors.AmbiguousMappingError
	if errors.As(err, &ambiguous) {
		writeJSON(w, http.StatusConflict, errorBody{
			Error:        ambiguous.Error(),
			Alternatives: ambiguous.Alternatives,
		})
		return
	}

	var noTable *apperrors.NoTableFoundError
	if errors.As(err, &noTable) {
		writeJSON(w, http.StatusNotFound, errorBody{
			Error:        noTable.Error(),
			Alternatives: noTable.Alternatives,
		})
		return
	}

	switch {
	case errors.Is(err, apperrors.ErrNoMappingFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperrors.ErrNoSchemaAvailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, apperrors.ErrDiscoveryTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		h.logger.Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
