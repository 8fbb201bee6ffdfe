package repositories

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ekaya-inc/prompt-forge/pkg/apperrors"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
)

// Snapshot is a frozen, in-memory view of the metadata store. It backs the
// in-memory implementations used by tests and by embedded callers that
// load their metadata from files instead of Postgres.
type Snapshot struct {
	Tables        []models.TableMetadata
	Columns       map[string][]models.ColumnMetadata
	GlossaryTerms []models.GlossaryTerm
	Rules         []models.BusinessRule
	Relationships []models.Relationship
	Templates     []models.PromptTemplate
	Examples      []WorkedExample
}

// ============================================================================
// MetadataStore
// ============================================================================

type memoryMetadataStore struct {
	snap *Snapshot
}

// NewMemoryMetadataStore creates a MetadataStore over a frozen snapshot.
func NewMemoryMetadataStore(snap *Snapshot) MetadataStore {
	return &memoryMetadataStore{snap: snap}
}

var _ MetadataStore = (*memoryMetadataStore)(nil)

func (s *memoryMetadataStore) ListTables(ctx context.Context) ([]models.TableMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]models.TableMetadata, len(s.snap.Tables))
	copy(out, s.snap.Tables)
	return out, nil
}

func (s *memoryMetadataStore) GetColumns(ctx context.Context, tableNames []string) (map[string][]models.ColumnMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string][]models.ColumnMetadata, len(tableNames))
	for _, name := range tableNames {
		if cols, ok := s.snap.Columns[name]; ok {
			copied := make([]models.ColumnMetadata, len(cols))
			copy(copied, cols)
			out[name] = copied
		}
	}
	return out, nil
}

func (s *memoryMetadataStore) ListGlossaryTerms(ctx context.Context) ([]models.GlossaryTerm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]models.GlossaryTerm, len(s.snap.GlossaryTerms))
	copy(out, s.snap.GlossaryTerms)
	return out, nil
}

func (s *memoryMetadataStore) GetRules(ctx context.Context, tableNames []string) ([]models.BusinessRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	selected := make(map[string]bool, len(tableNames))
	for _, name := range tableNames {
		selected[name] = true
	}
	var out []models.BusinessRule
	for _, rule := range s.snap.Rules {
		if len(rule.AppliesTo) == 0 {
			out = append(out, rule)
			continue
		}
		for _, table := range rule.AppliesTo {
			if selected[table] {
				out = append(out, rule)
				break
			}
		}
	}
	return out, nil
}

// ============================================================================
// RelationshipFinder
// ============================================================================

type memoryRelationshipFinder struct {
	snap *Snapshot
}

// NewMemoryRelationshipFinder creates a RelationshipFinder over a snapshot.
func NewMemoryRelationshipFinder(snap *Snapshot) RelationshipFinder {
	return &memoryRelationshipFinder{snap: snap}
}

var _ RelationshipFinder = (*memoryRelationshipFinder)(nil)

func (s *memoryRelationshipFinder) FindRelationships(ctx context.Context, tableNames []string) ([]models.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	selected := make(map[string]bool, len(tableNames))
	for _, name := range tableNames {
		selected[name] = true
	}
	var out []models.Relationship
	for _, rel := range s.snap.Relationships {
		if selected[rel.FromTable] && selected[rel.ToTable] {
			out = append(out, rel)
		}
	}
	return out, nil
}

// ============================================================================
// TemplateRepository
// ============================================================================

type memoryTemplateRepository struct {
	snap *Snapshot
}

// NewMemoryTemplateRepository creates a TemplateRepository over a snapshot.
func NewMemoryTemplateRepository(snap *Snapshot) TemplateRepository {
	return &memoryTemplateRepository{snap: snap}
}

var _ TemplateRepository = (*memoryTemplateRepository)(nil)

func (s *memoryTemplateRepository) ListTemplates(ctx context.Context) ([]models.PromptTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]models.PromptTemplate, len(s.snap.Templates))
	copy(out, s.snap.Templates)
	return out, nil
}

// ============================================================================
// ExampleStore
// ============================================================================

type memoryExampleStore struct {
	snap *Snapshot
}

// NewMemoryExampleStore creates an ExampleStore over a snapshot.
func NewMemoryExampleStore(snap *Snapshot) ExampleStore {
	return &memoryExampleStore{snap: snap}
}

var _ ExampleStore = (*memoryExampleStore)(nil)

func (s *memoryExampleStore) ListExamples(ctx context.Context) ([]WorkedExample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]WorkedExample, len(s.snap.Examples))
	copy(out, s.snap.Examples)
	return out, nil
}

// ============================================================================
// TraceStore
// ============================================================================

type memoryTraceStore struct {
	mu     sync.Mutex
	traces map[uuid.UUID]*models.ConstructionTrace
}

// NewMemoryTraceStore creates an in-memory append-only TraceStore.
func NewMemoryTraceStore() TraceStore {
	return &memoryTraceStore{traces: make(map[uuid.UUID]*models.ConstructionTrace)}
}

var _ TraceStore = (*memoryTraceStore)(nil)

func (s *memoryTraceStore) Append(ctx context.Context, trace *models.ConstructionTrace) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.traces[trace.ID]; exists {
		return apperrors.ErrTraceFinalized
	}
	s.traces[trace.ID] = trace
	return nil
}

func (s *memoryTraceStore) GetByID(ctx context.Context, traceID uuid.UUID) (*models.ConstructionTrace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	trace, ok := s.traces[traceID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return trace, nil
}
