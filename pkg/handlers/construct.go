package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/prompt-forge/pkg/apperrors"
	"github.com/ekaya-inc/prompt-forge/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// ConstructRequest for POST /api/prompts/construct
type ConstructRequest struct {
	Question        string `json:"question"`
	UserID          string `json:"user_id,omitempty"`
	MaxTables       int    `json:"max_tables,omitempty"`
	MaxTokens       int    `json:"max_tokens,omitempty"`
	Verbosity       string `json:"verbosity,omitempty"`
	IncludeRules    *bool  `json:"include_rules,omitempty"`
	IncludeExamples *bool  `json:"include_examples,omitempty"`
	AllowSynthesis  *bool  `json:"allow_synthesis,omitempty"`
}

// ConstructResponse for POST /api/prompts/construct
type ConstructResponse struct {
	Prompt     string   `json:"prompt,omitempty"`
	TokenCount int      `json:"token_count,omitempty"`
	TraceID    string   `json:"trace_id"`
	Tables     []string `json:"tables,omitempty"`
	Degraded   bool     `json:"degraded,omitempty"`
	Confidence float64  `json:"confidence"`
	Efficiency float64  `json:"efficiency"`

	// FailedStage and Reason describe a construction that produced no
	// prompt; the trace id above still resolves for explain.
	FailedStage string `json:"failed_stage,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ============================================================================
// Handler
// ============================================================================

// ConstructHandler exposes prompt construction and trace explanation.
type ConstructHandler struct {
	pipeline services.PromptConstructionService
	logger   *zap.Logger
}

// NewConstructHandler creates a new construct handler.
func NewConstructHandler(pipeline services.PromptConstructionService, logger *zap.Logger) *ConstructHandler {
	return &ConstructHandler{pipeline: pipeline, logger: logger}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *ConstructHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/prompts/construct", h.Construct)
	mux.HandleFunc("/api/traces/", h.Explain)
}

// Construct handles POST /api/prompts/construct.
func (h *ConstructHandler) Construct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req ConstructRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}

	// Unset fields stay nil so the pipeline applies its configured
	// defaults.
	opts := &services.ConstructionOptions{
		MaxTables:       req.MaxTables,
		MaxTokens:       req.MaxTokens,
		Verbosity:       req.Verbosity,
		IncludeRules:    req.IncludeRules,
		IncludeExamples: req.IncludeExamples,
		AllowSynthesis:  req.AllowSynthesis,
	}

	result, err := h.pipeline.ConstructPrompt(r.Context(), services.ConstructionRequest{
		Question: req.Question,
		UserID:   req.UserID,
		Options:  opts,
	})
	if result == nil {
		h.logger.Error("construction returned no result", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "construction failed")
		return
	}

	resp := ConstructResponse{
		TraceID:    result.Trace.ID.String(),
		Degraded:   result.Degraded,
		Confidence: result.Trace.OverallConfidence,
		Efficiency: result.Trace.EfficiencyScore,
	}
	if result.Schema != nil {
		resp.Tables = result.Schema.TableNames()
	}

	if result.Failure != nil {
		resp.FailedStage = result.Failure.Stage
		resp.Reason = result.Failure.Error()
		status := http.StatusUnprocessableEntity
		if errors.Is(result.Failure.Err, apperrors.ErrAssemblyFailure) {
			status = http.StatusInternalServerError
		}
		if err := WriteJSON(w, status, resp); err != nil {
			h.logger.Error("Failed to encode construct response", zap.Error(err))
		}
		return
	}

	resp.Prompt = result.PromptText
	resp.TokenCount = result.TokenCount
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode construct response", zap.Error(err))
	}
}

// Explain handles GET /api/traces/{traceID}/explain.
func (h *ConstructHandler) Explain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/traces/")
	idPart, ok := strings.CutSuffix(rest, "/explain")
	if !ok {
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "unknown trace route")
		return
	}
	traceID, err := uuid.Parse(idPart)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "malformed trace id")
		return
	}

	report, err := h.pipeline.ExplainConstruction(r.Context(), traceID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = ErrorResponse(w, http.StatusNotFound, "not_found", "trace not found")
			return
		}
		h.logger.Error("Failed to explain construction",
			zap.String("trace_id", traceID.String()),
			zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to load trace")
		return
	}

	if err := WriteJSON(w, http.StatusOK, report); err != nil {
		h.logger.Error("Failed to encode explain response", zap.Error(err))
	}
}
