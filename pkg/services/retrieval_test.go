package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/prompt-forge/pkg/apperrors"
	"github.com/ekaya-inc/prompt-forge/pkg/cache"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
	"github.com/ekaya-inc/prompt-forge/pkg/repositories"
	"github.com/ekaya-inc/prompt-forge/pkg/testhelpers"
)

func bankingProfile() *models.BusinessContextProfile {
	return &models.BusinessContextProfile{
		Question: "Top 10 depositors yesterday from the UK",
		Intent:   models.Intent{Type: models.IntentAggregation, Confidence: 0.9},
		Domain:   models.DomainMatch{Name: "banking", Score: 0.2},
		Entities: []models.BusinessEntity{
			{Name: "top", Category: models.EntityCategoryMetric, Confidence: 0.9},
			{Name: "depositors", Category: models.EntityCategoryTable, Confidence: 0.5},
			{Name: "yesterday", Category: models.EntityCategoryTime, Confidence: 0.8},
		},
	}
}

func uncategorizedProfile() *models.BusinessContextProfile {
	return &models.BusinessContextProfile{
		Question: "xyzzy plugh",
		Intent:   models.Intent{Type: models.IntentUnknown, Confidence: 0.1},
		Domain:   models.DomainMatch{Name: models.DomainUncategorized, Score: 0},
	}
}

func newTestRetrievalEngine(store repositories.MetadataStore, c cache.Cache[*models.ContextualSchema]) RetrievalEngine {
	snap := testhelpers.NewFixtureSnapshot()
	if store == nil {
		store = repositories.NewMemoryMetadataStore(snap)
	}
	return NewRetrievalEngine(
		store,
		repositories.NewMemoryRelationshipFinder(snap),
		NewLexicalScoring(),
		c,
		time.Hour,
		12,
		zap.NewNop(),
	)
}

func TestRetrievalEngine_Retrieve_BankingQuestion(t *testing.T) {
	engine := newTestRetrievalEngine(nil, nil)

	schema, err := engine.Retrieve(context.Background(), bankingProfile(), 5)
	require.NoError(t, err)

	// Glossary (depositor -> transactions, customers) plus domain tags rank
	// the banking tables; the name tiebreak orders the 0.20 pair.
	assert.Equal(t, []string{"customers", "transactions", "accounts"}, schema.TableNames())
	assert.False(t, schema.Partial)

	assert.InDelta(t, 0.20, schema.Tables[0].Score, 1e-9)
	assert.InDelta(t, 0.20, schema.Tables[1].Score, 1e-9)
	assert.InDelta(t, 0.05, schema.Tables[2].Score, 1e-9)
	assert.ElementsMatch(t, []string{"domain_tag", "glossary_term"}, schema.Tables[0].MatchedBy)

	require.Len(t, schema.Terms, 1)
	assert.Equal(t, "depositor", schema.Terms[0].Term)

	require.Len(t, schema.Rules, 2, "only banking rules apply to the selected tables")
	require.Len(t, schema.Relationships, 2, "only joins between selected tables survive")

	// 0.6*mean(table scores) + 0.2 (terms matched) + 0.2 (tables joined).
	assert.InDelta(t, 0.49, schema.RelevanceScore, 1e-9)
}

func TestRetrievalEngine_Retrieve_ExcludesForeignExclusiveTables(t *testing.T) {
	engine := newTestRetrievalEngine(nil, nil)

	schema, err := engine.Retrieve(context.Background(), bankingProfile(), 10)
	require.NoError(t, err)

	for _, name := range schema.TableNames() {
		assert.NotContains(t, []string{"players", "game_sessions"}, name,
			"gaming-exclusive tables must not leak into a banking question")
	}
}

func TestRetrievalEngine_Retrieve_MaxTablesTruncates(t *testing.T) {
	engine := newTestRetrievalEngine(nil, nil)

	schema, err := engine.Retrieve(context.Background(), bankingProfile(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers"}, schema.TableNames())
}

func TestRetrievalEngine_Retrieve_EmptyResult(t *testing.T) {
	engine := newTestRetrievalEngine(nil, nil)

	schema, err := engine.Retrieve(context.Background(), uncategorizedProfile(), 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRetrievalEmpty)
	require.NotNil(t, schema)
	assert.Empty(t, schema.Tables)
}

func TestRetrievalEngine_Retrieve_StoreFailureIsPartial(t *testing.T) {
	engine := newTestRetrievalEngine(&failingStore{}, nil)

	schema, err := engine.Retrieve(context.Background(), bankingProfile(), 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRetrievalTimeout)
	require.NotNil(t, schema)
	assert.True(t, schema.Partial)
	assert.Empty(t, schema.Tables)
}

func TestRetrievalEngine_Retrieve_EnrichmentFailureKeepsTables(t *testing.T) {
	snap := testhelpers.NewFixtureSnapshot()
	store := &flakyColumnStore{MetadataStore: repositories.NewMemoryMetadataStore(snap), failColumns: true}
	c := cache.New[*models.ContextualSchema](0, nil)
	engine := newTestRetrievalEngine(store, c)

	schema, err := engine.Retrieve(context.Background(), bankingProfile(), 5)
	require.NoError(t, err)
	assert.True(t, schema.Partial)
	assert.Len(t, schema.Tables, 3, "ranked tables survive a column lookup failure")
	assert.Empty(t, schema.Columns)

	// Partial schemas are never cached: the next call hits the store again.
	store.failColumns = false
	schema, err = engine.Retrieve(context.Background(), bankingProfile(), 5)
	require.NoError(t, err)
	assert.False(t, schema.Partial)
}

func TestRetrievalEngine_Retrieve_GlossaryFailureKeepsTables(t *testing.T) {
	snap := testhelpers.NewFixtureSnapshot()
	store := &flakyGlossaryStore{MetadataStore: repositories.NewMemoryMetadataStore(snap), failGlossary: true}
	c := cache.New[*models.ContextualSchema](0, nil)
	engine := newTestRetrievalEngine(store, c)

	// The domain strategy alone still ranks the banking tables; only the
	// glossary strategy and term matches drop out.
	schema, err := engine.Retrieve(context.Background(), bankingProfile(), 5)
	require.NoError(t, err)
	assert.True(t, schema.Partial)
	assert.NotEmpty(t, schema.Tables)
	assert.Empty(t, schema.Terms)

	// Partial schemas are never cached: once the glossary recovers, the
	// next call is complete again.
	store.failGlossary = false
	schema, err = engine.Retrieve(context.Background(), bankingProfile(), 5)
	require.NoError(t, err)
	assert.False(t, schema.Partial)
	assert.NotEmpty(t, schema.Terms)
}

func TestRetrievalEngine_Retrieve_TimestampColumnsSurviveTruncation(t *testing.T) {
	snap := &repositories.Snapshot{
		Tables: []models.TableMetadata{{
			Name:        "events",
			SchemaName:  "public",
			Description: "bank events",
			Domains:     []string{"banking"},
		}},
		Columns: map[string][]models.ColumnMetadata{
			"events": {
				{Name: "id", IsPrimaryKey: true},
				{Name: "payload"},
				{Name: "occurred_at", Tags: []string{"timestamp"}},
				{Name: "source"},
			},
		},
	}
	store := repositories.NewMemoryMetadataStore(snap)
	engine := NewRetrievalEngine(store, repositories.NewMemoryRelationshipFinder(snap), NewLexicalScoring(), nil, time.Hour, 2, zap.NewNop())

	profile := bankingProfile()
	profile.TimeRange = &models.TimeRange{Relative: "yesterday", Granularity: models.GranularityDay}

	schema, err := engine.Retrieve(context.Background(), profile, 5)
	require.NoError(t, err)
	require.Len(t, schema.Tables, 1)
	assert.Equal(t, []string{"id", "occurred_at"}, columnNames(schema.Columns["events"]))

	// Without a time window the tag carries no weight and ordinal order
	// fills the second slot.
	profile.TimeRange = nil
	schema, err = engine.Retrieve(context.Background(), profile, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "payload"}, columnNames(schema.Columns["events"]))
}

func columnNames(cols []models.ColumnMetadata) []string {
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}
	return names
}

func TestRetrievalEngine_Retrieve_CachesCompleteResults(t *testing.T) {
	snap := testhelpers.NewFixtureSnapshot()
	store := &countingStore{MetadataStore: repositories.NewMemoryMetadataStore(snap)}
	c := cache.New[*models.ContextualSchema](0, nil)
	engine := newTestRetrievalEngine(store, c)

	first, err := engine.Retrieve(context.Background(), bankingProfile(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, store.listCalls)

	second, err := engine.Retrieve(context.Background(), bankingProfile(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, store.listCalls, "second retrieval must be served from cache")
	assert.Same(t, first, second)

	// Case and spacing changes share the cache entry.
	_, err = engine.Retrieve(context.Background(), &models.BusinessContextProfile{
		Question: "  top 10 DEPOSITORS yesterday from the uk ",
		Domain:   models.DomainMatch{Name: "banking", Score: 0.2},
	}, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, store.listCalls)
}

func TestRetrievalEngine_OnSchemaChanged_ClearsCache(t *testing.T) {
	snap := testhelpers.NewFixtureSnapshot()
	store := &countingStore{MetadataStore: repositories.NewMemoryMetadataStore(snap)}
	c := cache.New[*models.ContextualSchema](0, nil)
	engine := newTestRetrievalEngine(store, c)

	_, err := engine.Retrieve(context.Background(), bankingProfile(), 5)
	require.NoError(t, err)

	engine.OnSchemaChanged()

	_, err = engine.Retrieve(context.Background(), bankingProfile(), 5)
	require.NoError(t, err)
	assert.Equal(t, 2, store.listCalls)
}

// ============================================================================
// Store mocks
// ============================================================================

type failingStore struct{}

func (failingStore) ListTables(ctx context.Context) ([]models.TableMetadata, error) {
	return nil, errors.New("deadline exceeded")
}

func (failingStore) GetColumns(ctx context.Context, tableNames []string) (map[string][]models.ColumnMetadata, error) {
	return nil, errors.New("deadline exceeded")
}

func (failingStore) ListGlossaryTerms(ctx context.Context) ([]models.GlossaryTerm, error) {
	return nil, errors.New("deadline exceeded")
}

func (failingStore) GetRules(ctx context.Context, tableNames []string) ([]models.BusinessRule, error) {
	return nil, errors.New("deadline exceeded")
}

type flakyGlossaryStore struct {
	repositories.MetadataStore
	failGlossary bool
}

func (s *flakyGlossaryStore) ListGlossaryTerms(ctx context.Context) ([]models.GlossaryTerm, error) {
	if s.failGlossary {
		return nil, errors.New("connection reset")
	}
	return s.MetadataStore.ListGlossaryTerms(ctx)
}

type flakyColumnStore struct {
	repositories.MetadataStore
	failColumns bool
}

func (s *flakyColumnStore) GetColumns(ctx context.Context, tableNames []string) (map[string][]models.ColumnMetadata, error) {
	if s.failColumns {
		return nil, errors.New("connection reset")
	}
	return s.MetadataStore.GetColumns(ctx, tableNames)
}

type countingStore struct {
	repositories.MetadataStore
	listCalls int
}

func (s *countingStore) ListTables(ctx context.Context) ([]models.TableMetadata, error) {
	s.listCalls++
	return s.MetadataStore.ListTables(ctx)
}
