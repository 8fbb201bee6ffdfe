package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/prompt-forge/pkg/apperrors"
	"github.com/ekaya-inc/prompt-forge/pkg/config"
	"github.com/ekaya-inc/prompt-forge/pkg/logging"
	"github.com/ekaya-inc/prompt-forge/pkg/metrics"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
	"github.com/ekaya-inc/prompt-forge/pkg/repositories"
)

// ============================================================================
// Request / result types
// ============================================================================

// ConstructionOptions override per-request what the pipeline config
// defaults. Zero values and nil pointers mean "use the configured
// default", so a caller setting only MaxTokens keeps every other default.
type ConstructionOptions struct {
	// MaxTables caps schema discovery for this request.
	MaxTables int
	// MaxTokens is the generation-model input allowance for this request.
	MaxTokens int
	// Verbosity steers template selection and synthesis: concise,
	// standard or detailed.
	Verbosity string
	// IncludeRules and IncludeExamples gate the optional prompt slots.
	IncludeRules    *bool
	IncludeExamples *bool
	// AllowSynthesis permits a dynamic template when no corpus template
	// clears the quality threshold.
	AllowSynthesis *bool
}

// ConstructionRequest is one question to build a prompt for.
type ConstructionRequest struct {
	Question string
	UserID   string
	// Options is nil for config defaults.
	Options *ConstructionOptions
}

// ConstructionResult is always returned, success or not. On success
// PromptText carries the assembled prompt; on failure Failure names the
// stage that could not complete. Trace is never nil.
type ConstructionResult struct {
	PromptText string
	TokenCount int
	Trace      *models.ConstructionTrace
	Schema     *models.ContextualSchema
	Examples   []repositories.WorkedExample
	// Degraded is set when a classifier fallback or partial retrieval
	// reduced confidence without stopping the pipeline.
	Degraded bool
	// Failure is non-nil when no prompt was produced.
	Failure *apperrors.ConstructionError
}

// Succeeded reports whether a usable prompt was produced.
func (r *ConstructionResult) Succeeded() bool {
	return r.Failure == nil && r.PromptText != ""
}

// ============================================================================
// Service
// ============================================================================

// PromptConstructionService runs the full construction pipeline. Every
// call yields a finalized, published trace; ConstructPrompt never
// panics through to the caller and the returned result is never nil.
type PromptConstructionService interface {
	ConstructPrompt(ctx context.Context, req ConstructionRequest) (*ConstructionResult, error)
	ExplainConstruction(ctx context.Context, traceID uuid.UUID) (*models.ExplainReport, error)
}

type promptConstructionService struct {
	analyzer  ContextAnalyzer
	retrieval RetrievalEngine
	sections  *SectionBuilder
	assembly  AssemblyEngine
	selector  TemplateSelector
	assembler PromptAssembler
	examples  repositories.ExampleStore
	traces    TraceManager
	estimator TokenEstimator
	sink      metrics.Sink
	cfg       config.PipelineConfig
	logger    *zap.Logger
	clock     func() time.Time
}

// NewPromptConstructionService wires the five stage services behind one
// entry point. sink may be nil to discard metrics.
func NewPromptConstructionService(
	analyzer ContextAnalyzer,
	retrieval RetrievalEngine,
	sections *SectionBuilder,
	assembly AssemblyEngine,
	selector TemplateSelector,
	assembler PromptAssembler,
	examples repositories.ExampleStore,
	traces TraceManager,
	estimator TokenEstimator,
	sink metrics.Sink,
	cfg config.PipelineConfig,
	logger *zap.Logger,
) PromptConstructionService {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &promptConstructionService{
		analyzer:  analyzer,
		retrieval: retrieval,
		sections:  sections,
		assembly:  assembly,
		selector:  selector,
		assembler: assembler,
		examples:  examples,
		traces:    traces,
		estimator: estimator,
		sink:      sink,
		cfg:       cfg,
		logger:    logger,
		clock:     time.Now,
	}
}

var _ PromptConstructionService = (*promptConstructionService)(nil)

// resolvedOptions is ConstructionOptions with every default applied.
type resolvedOptions struct {
	MaxTables       int
	MaxTokens       int
	Verbosity       string
	IncludeRules    bool
	IncludeExamples bool
	AllowSynthesis  bool
}

// resolveOptions fills unset request options from the pipeline config.
func (s *promptConstructionService) resolveOptions(opts *ConstructionOptions) resolvedOptions {
	resolved := resolvedOptions{
		MaxTables:       s.cfg.MaxTables,
		MaxTokens:       s.cfg.MaxPromptTokens,
		Verbosity:       VerbosityStandard,
		IncludeRules:    true,
		IncludeExamples: true,
		AllowSynthesis:  true,
	}
	if opts == nil {
		return resolved
	}
	if opts.MaxTables > 0 {
		resolved.MaxTables = opts.MaxTables
	}
	if opts.MaxTokens > 0 {
		resolved.MaxTokens = opts.MaxTokens
	}
	if opts.Verbosity != "" {
		resolved.Verbosity = opts.Verbosity
	}
	if opts.IncludeRules != nil {
		resolved.IncludeRules = *opts.IncludeRules
	}
	if opts.IncludeExamples != nil {
		resolved.IncludeExamples = *opts.IncludeExamples
	}
	if opts.AllowSynthesis != nil {
		resolved.AllowSynthesis = *opts.AllowSynthesis
	}
	return resolved
}

// remainingStages lists the stage names after the one that failed, in
// pipeline order, so a best-effort trace can mark them not started.
func remainingStages(failed string) []string {
	order := []string{
		models.StageAnalysis,
		models.StageRetrieval,
		models.StageAssembly,
		models.StageTemplateSelection,
		models.StagePromptAssembly,
	}
	for i, name := range order {
		if name == failed {
			return order[i+1:]
		}
	}
	return nil
}

// ConstructPrompt runs analysis, retrieval, budget assembly, template
// selection and prompt assembly for one question. Recoverable faults
// degrade the result; terminal faults return a *apperrors.ConstructionError
// alongside a result that still carries the finalized trace.
func (s *promptConstructionService) ConstructPrompt(ctx context.Context, req ConstructionRequest) (result *ConstructionResult, err error) {
	opts := s.resolveOptions(req.Options)
	tracer := NewConstructionTracer(req.Question, req.UserID, s.clock)
	acc := metrics.NewAccumulator()
	requestStart := s.clock()

	timeout := time.Duration(s.cfg.RequestTimeoutSeconds) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		acc.Observe("construction_duration", s.clock().Sub(requestStart))
		acc.FlushTo(s.sink)
	}()

	// A panic anywhere in the stages still yields a finalized trace and
	// a structured failure instead of unwinding into the caller.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("construction pipeline panicked",
				zap.String("trace_id", tracer.TraceID().String()),
				zap.Any("panic", r))
			panicErr := fmt.Errorf("%w: panic: %v", apperrors.ErrAssemblyFailure, r)
			_ = tracer.RecordStep(models.StageError, tracer.Now(), 0, false,
				map[string]any{"panic": fmt.Sprint(r)}, panicErr)
			trace := tracer.Finalize()
			s.traces.Publish(ctx, trace)
			failure := apperrors.NewConstructionError(models.StageError, trace.ID, panicErr)
			result = &ConstructionResult{Trace: trace, Failure: failure}
			err = failure
		}
	}()

	s.logger.Info("constructing prompt",
		zap.String("trace_id", tracer.TraceID().String()),
		zap.String("question", logging.SanitizeQuestion(req.Question)),
		zap.String("user_id", req.UserID))
	acc.Inc("construction_requests", 1)

	// --- Stage 1: context analysis -------------------------------------
	stageStart := tracer.Now()
	profile, analyzeErr := s.analyzer.Analyze(ctx, req.Question, req.UserID)
	if analyzeErr != nil {
		// Only context cancellation reaches here; keyword fallbacks
		// absorb classifier faults inside the analyzer.
		return s.fail(ctx, tracer, acc, models.StageAnalysis, stageStart, nil, analyzeErr)
	}
	if err := tracer.RecordStep(models.StageAnalysis, stageStart, profile.OverallConfidence, true, map[string]any{
		"intent":   profile.Intent.Type.String(),
		"domain":   profile.Domain.Name,
		"entities": len(profile.Entities),
		"degraded": profile.Degraded,
	}, nil); err != nil {
		return s.fail(ctx, tracer, acc, models.StageAnalysis, stageStart, nil, err)
	}
	if profile.Degraded {
		acc.Inc("analysis_degraded", 1)
	}

	// --- Stage 2: metadata retrieval ------------------------------------
	stageStart = tracer.Now()
	schema, retrieveErr := s.retrieval.Retrieve(ctx, profile, opts.MaxTables)
	if retrieveErr != nil && !apperrors.IsRecoverable(retrieveErr) {
		return s.fail(ctx, tracer, acc, models.StageRetrieval, stageStart, nil, retrieveErr)
	}
	if schema == nil || len(schema.Tables) == 0 {
		// Zero candidates is not an exception: the trace records the
		// outcome and the caller gets a structured failure, no prompt.
		acc.Inc("retrieval_empty", 1)
		reason := retrieveErr
		if reason == nil {
			reason = apperrors.ErrRetrievalEmpty
		}
		_ = tracer.RecordStep(models.StageRetrieval, stageStart, 0, false,
			map[string]any{"tables": 0}, reason)
		tracer.MarkNotStarted(remainingStages(models.StageRetrieval)...)
		trace := tracer.Finalize()
		s.traces.Publish(ctx, trace)
		return &ConstructionResult{
			Trace:    trace,
			Schema:   schema,
			Degraded: true,
			Failure:  apperrors.NewConstructionError(models.StageRetrieval, trace.ID, reason),
		}, nil
	}
	retrievalConfidence := schema.RelevanceScore
	if schema.Partial {
		acc.Inc("retrieval_partial", 1)
		retrievalConfidence *= 0.5
	}
	if err := tracer.RecordStep(models.StageRetrieval, stageStart, retrievalConfidence, true, map[string]any{
		"tables":    schema.TableNames(),
		"terms":     len(schema.Terms),
		"rules":     len(schema.Rules),
		"relevance": schema.RelevanceScore,
		"partial":   schema.Partial,
	}, retrieveErr); err != nil {
		return s.fail(ctx, tracer, acc, models.StageRetrieval, stageStart, schema, err)
	}

	// --- Stage 3: context assembly --------------------------------------
	stageStart = tracer.Now()
	budget := opts.MaxTokens - s.cfg.TemplateOverheadTokens - s.cfg.ReservedResponseTokens
	if budget < 0 {
		infeasible := fmt.Errorf("%w: max tokens %d leave no room after overhead %d and reserve %d",
			apperrors.ErrBudgetInfeasible, opts.MaxTokens, s.cfg.TemplateOverheadTokens, s.cfg.ReservedResponseTokens)
		return s.fail(ctx, tracer, acc, models.StageAssembly, stageStart, schema, infeasible)
	}
	candidates := s.sections.BuildSections(profile, schema)
	if !opts.IncludeRules {
		candidates = dropKind(candidates, models.SectionBusinessRule)
	}
	assembled, assembleErr := s.assembly.Assemble(candidates, budget)
	if assembleErr != nil {
		return s.fail(ctx, tracer, acc, models.StageAssembly, stageStart, schema, assembleErr)
	}
	if err := tracer.RecordStep(models.StageAssembly, stageStart, assemblyConfidence(assembled), true, map[string]any{
		"candidates":  len(candidates),
		"selected":    len(assembled.Sections),
		"tokens_used": assembled.TokensUsed,
		"budget":      assembled.Budget,
		"utilization": assembled.Utilization,
	}, nil); err != nil {
		return s.fail(ctx, tracer, acc, models.StageAssembly, stageStart, schema, err)
	}
	acc.Inc("assembly_tokens_used", float64(assembled.TokensUsed))

	// --- Stage 4: template selection ------------------------------------
	stageStart = tracer.Now()
	prefs := TemplatePreferences{
		Verbosity:       opts.Verbosity,
		IncludeRules:    opts.IncludeRules,
		IncludeExamples: opts.IncludeExamples,
		AllowSynthesis:  opts.AllowSynthesis,
	}
	template, selectErr := s.selector.Select(ctx, profile, prefs)
	if selectErr != nil {
		return s.fail(ctx, tracer, acc, models.StageTemplateSelection, stageStart, schema, selectErr)
	}
	templateConfidence := 1.0
	if template.Synthesized {
		templateConfidence = 0.8
		acc.Inc("templates_synthesized", 1)
	}
	overheadTokens := s.estimator.EstimateTokens(template.OverheadText())
	if overheadTokens > s.cfg.TemplateOverheadTokens {
		s.logger.Warn("template overhead exceeds configured allowance",
			zap.String("trace_id", tracer.TraceID().String()),
			zap.String("template", template.Name),
			zap.Int("overhead_tokens", overheadTokens),
			zap.Int("allowance", s.cfg.TemplateOverheadTokens))
	}
	if err := tracer.RecordStep(models.StageTemplateSelection, stageStart, templateConfidence, true, map[string]any{
		"template":        template.Name,
		"synthesized":     template.Synthesized,
		"overhead_tokens": overheadTokens,
	}, nil); err != nil {
		return s.fail(ctx, tracer, acc, models.StageTemplateSelection, stageStart, schema, err)
	}

	// --- Stage 5: prompt assembly ---------------------------------------
	stageStart = tracer.Now()
	var workedExamples []repositories.WorkedExample
	if opts.IncludeExamples && s.examples != nil && template.HasSlot(models.SlotExamples) {
		listed, listErr := s.examples.ListExamples(ctx)
		if listErr != nil {
			// Examples are optional; a store fault drops the slot content
			// rather than the whole prompt.
			s.logger.Warn("failed to list worked examples",
				zap.String("trace_id", tracer.TraceID().String()),
				zap.Error(listErr))
		} else {
			workedExamples = listed
		}
	}
	prompt, promptErr := s.assembler.Assemble(ctx, profile, template, assembled.Sections, workedExamples, s.cfg.MaxExamples)
	if promptErr != nil {
		return s.fail(ctx, tracer, acc, models.StagePromptAssembly, stageStart, schema, promptErr)
	}
	if limit := opts.MaxTokens - s.cfg.ReservedResponseTokens; prompt.TokenCount > limit {
		s.logger.Warn("assembled prompt exceeds overhead allowance",
			zap.String("trace_id", tracer.TraceID().String()),
			zap.Int("token_count", prompt.TokenCount),
			zap.Int("limit", limit))
	}
	if err := tracer.RecordStep(models.StagePromptAssembly, stageStart, 1.0, true, map[string]any{
		"template":    template.Name,
		"token_count": prompt.TokenCount,
		"examples":    len(prompt.Examples),
	}, nil); err != nil {
		return s.fail(ctx, tracer, acc, models.StagePromptAssembly, stageStart, schema, err)
	}

	trace := tracer.Finalize()
	s.traces.Publish(ctx, trace)
	acc.Inc("construction_success", 1)

	s.logger.Info("prompt constructed",
		zap.String("trace_id", trace.ID.String()),
		zap.Int("token_count", prompt.TokenCount),
		zap.Int("tables", len(schema.Tables)),
		zap.Float64("efficiency", trace.EfficiencyScore))

	return &ConstructionResult{
		PromptText: prompt.Text,
		TokenCount: prompt.TokenCount,
		Trace:      trace,
		Schema:     schema,
		Examples:   prompt.Examples,
		Degraded:   profile.Degraded || schema.Partial,
	}, nil
}

// ExplainConstruction returns the per-step rationale for a past request.
func (s *promptConstructionService) ExplainConstruction(ctx context.Context, traceID uuid.UUID) (*models.ExplainReport, error) {
	return s.traces.Explain(ctx, traceID)
}

// fail records the failed step, marks the unreached stages, finalizes and
// publishes the trace, and wraps the cause for the caller.
func (s *promptConstructionService) fail(
	ctx context.Context,
	tracer *ConstructionTracer,
	acc *metrics.Accumulator,
	stage string,
	stageStart time.Time,
	schema *models.ContextualSchema,
	cause error,
) (*ConstructionResult, error) {
	acc.Inc("construction_failure", 1)
	_ = tracer.RecordStep(stage, stageStart, 0, false, nil, cause)
	tracer.MarkNotStarted(remainingStages(stage)...)
	trace := tracer.Finalize()
	s.traces.Publish(ctx, trace)

	failure := apperrors.NewConstructionError(stage, trace.ID, cause)
	logFailure := s.logger.Warn
	if apperrors.IsTerminal(cause) {
		logFailure = s.logger.Error
	}
	logFailure("prompt construction failed",
		zap.String("trace_id", trace.ID.String()),
		zap.String("stage", stage),
		zap.Error(cause))

	result := &ConstructionResult{
		Trace:   trace,
		Schema:  schema,
		Failure: failure,
	}
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return result, fmt.Errorf("construction aborted at %s: %w", stage, cause)
	}
	return result, failure
}

// assemblyConfidence maps budget utilization to a step confidence: a
// fuller budget means the optimizer had room for the relevant context.
func assemblyConfidence(res *AssemblyResult) float64 {
	if res.Budget == 0 {
		return 0
	}
	c := 0.5 + 0.5*res.Utilization
	if c > 1 {
		c = 1
	}
	return c
}

// dropKind filters candidate sections of one kind before optimization.
func dropKind(sections []models.ContextSection, kind models.SectionKind) []models.ContextSection {
	kept := make([]models.ContextSection, 0, len(sections))
	for _, s := range sections {
		if s.Kind != kind {
			kept = append(kept, s)
		}
	}
	return kept
}
