package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/prompt-forge/pkg/apperrors"
	"github.com/ekaya-inc/prompt-forge/pkg/cache"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
	"github.com/ekaya-inc/prompt-forge/pkg/repositories"
)

// Merge weights for the four discovery strategies. They sum to 1 so the
// merged score stays in [0,1].
const (
	semanticStrategyWeight = 0.40
	domainStrategyWeight   = 0.25
	entityStrategyWeight   = 0.20
	glossaryStrategyWeight = 0.15
)

// Strategy names recorded on RankedTable.MatchedBy and in trace detail.
const (
	strategySemantic = "semantic"
	strategyDomain   = "domain_tag"
	strategyEntity   = "entity_name"
	strategyGlossary = "glossary_term"
)

// SchemaChangeListener is the external invalidation hook: the surrounding
// system calls OnSchemaChanged when the underlying schema metadata moves,
// and the engine drops its cached retrievals. TTL handles the common case.
type SchemaChangeListener interface {
	OnSchemaChanged()
}

// RetrievalEngine produces a ranked, domain-filtered ContextualSchema for
// a profile. A metadata-store timeout degrades to a partial result; zero
// candidates after filtering is the distinct ErrRetrievalEmpty outcome.
type RetrievalEngine interface {
	SchemaChangeListener

	Retrieve(ctx context.Context, profile *models.BusinessContextProfile, maxTables int) (*models.ContextualSchema, error)
}

type retrievalEngine struct {
	store              repositories.MetadataStore
	relationships      repositories.RelationshipFinder
	scoring            ScoringStrategy
	cache              cache.Cache[*models.ContextualSchema]
	cacheTTL           time.Duration
	maxColumnsPerTable int
	logger             *zap.Logger
}

// NewRetrievalEngine creates a new RetrievalEngine. cache may be nil to
// disable retrieval caching entirely.
func NewRetrievalEngine(
	store repositories.MetadataStore,
	relationships repositories.RelationshipFinder,
	scoring ScoringStrategy,
	retrievalCache cache.Cache[*models.ContextualSchema],
	cacheTTL time.Duration,
	maxColumnsPerTable int,
	logger *zap.Logger,
) RetrievalEngine {
	return &retrievalEngine{
		store:              store,
		relationships:      relationships,
		scoring:            scoring,
		cache:              retrievalCache,
		cacheTTL:           cacheTTL,
		maxColumnsPerTable: maxColumnsPerTable,
		logger:             logger,
	}
}

var _ RetrievalEngine = (*retrievalEngine)(nil)

// OnSchemaChanged implements SchemaChangeListener by dropping every cached
// retrieval.
func (e *retrievalEngine) OnSchemaChanged() {
	if e.cache != nil {
		e.cache.Clear()
		e.logger.Info("retrieval cache cleared after schema change")
	}
}

// Retrieve runs the four discovery strategies concurrently, merges and
// truncates candidates, then loads columns, rules and relationships for
// the survivors.
func (e *retrievalEngine) Retrieve(ctx context.Context, profile *models.BusinessContextProfile, maxTables int) (*models.ContextualSchema, error) {
	cacheKey := retrievalCacheKey(profile.Question, profile.UserID)
	if e.cache != nil {
		if cached, ok := e.cache.Get(cacheKey); ok {
			e.logger.Debug("retrieval cache hit", zap.String("key", cacheKey))
			return cached, nil
		}
	}

	// Candidate material comes from two store calls. Losing the table
	// list leaves nothing to rank; losing only the glossary keeps the
	// tables and degrades to a partial schema scored by the remaining
	// three strategies.
	var (
		allTables     []models.TableMetadata
		glossaryTerms []models.GlossaryTerm
		tablesErr     error
		glossaryErr   error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		allTables, tablesErr = e.store.ListTables(gctx)
		return nil
	})
	g.Go(func() error {
		glossaryTerms, glossaryErr = e.store.ListGlossaryTerms(gctx)
		return nil
	})
	_ = g.Wait()
	if tablesErr != nil {
		e.logger.Warn("metadata store unavailable, returning partial schema", zap.Error(tablesErr))
		return &models.ContextualSchema{
			Columns: map[string][]models.ColumnMetadata{},
			Partial: true,
		}, fmt.Errorf("%w: %v", apperrors.ErrRetrievalTimeout, tablesErr)
	}
	if glossaryErr != nil {
		e.logger.Warn("glossary lookup failed, schema is partial", zap.Error(glossaryErr))
		glossaryTerms = nil
	}

	// Hard domain exclusion runs before any ranking: domain-exclusive
	// tables for a different domain are removed outright.
	candidates := excludeForeignDomains(allTables, profile.Domain)

	ranked := e.rankCandidates(ctx, profile, candidates, glossaryTerms)
	if len(ranked) == 0 {
		return &models.ContextualSchema{
			Columns: map[string][]models.ColumnMetadata{},
		}, apperrors.ErrRetrievalEmpty
	}
	if maxTables > 0 && len(ranked) > maxTables {
		ranked = ranked[:maxTables]
	}

	tableNames := make([]string, 0, len(ranked))
	for _, rt := range ranked {
		tableNames = append(tableNames, rt.Table.Name)
	}

	schema := &models.ContextualSchema{
		Tables:  ranked,
		Terms:   matchedGlossaryTerms(glossaryTerms, profile.Question),
		Partial: glossaryErr != nil,
	}

	// Enrichment calls run against the already ranked set; any failure
	// flags the schema partial but keeps the tables we have.
	columns, err := e.store.GetColumns(ctx, tableNames)
	if err != nil {
		e.logger.Warn("column lookup failed, schema is partial", zap.Error(err))
		schema.Partial = true
		columns = map[string][]models.ColumnMetadata{}
	}
	schema.Columns = e.selectColumns(ctx, profile, columns)

	if rules, err := e.store.GetRules(ctx, tableNames); err != nil {
		e.logger.Warn("rule lookup failed, schema is partial", zap.Error(err))
		schema.Partial = true
	} else {
		schema.Rules = rules
	}

	if rels, err := e.relationships.FindRelationships(ctx, tableNames); err != nil {
		e.logger.Warn("relationship discovery failed, schema is partial", zap.Error(err))
		schema.Partial = true
	} else {
		schema.Relationships = rels
	}

	schema.RelevanceScore = aggregateRelevance(schema)

	if e.cache != nil && !schema.Partial {
		e.cache.SetIfAbsent(cacheKey, schema, e.cacheTTL)
	}
	return schema, nil
}

// ============================================================================
// Candidate ranking
// ============================================================================

type strategyScores struct {
	scores map[string]float64
	name   string
}

// rankCandidates runs the four strategies concurrently over the candidate
// tables and merges their scores by weight. The merge is a pure function
// over the four independent score maps; no strategy mutates shared state.
func (e *retrievalEngine) rankCandidates(
	ctx context.Context,
	profile *models.BusinessContextProfile,
	candidates []models.TableMetadata,
	glossaryTerms []models.GlossaryTerm,
) []models.RankedTable {
	var semantic, domain, entity, glossary strategyScores

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		semantic = e.scoreSemantic(gctx, profile, candidates)
		return nil
	})
	g.Go(func() error {
		domain = scoreDomainTags(profile, candidates)
		return nil
	})
	g.Go(func() error {
		entity = e.scoreEntityNames(gctx, profile, candidates)
		return nil
	})
	g.Go(func() error {
		glossary = scoreGlossaryTerms(profile, candidates, glossaryTerms)
		return nil
	})
	// Strategies degrade internally to empty score maps; the only join
	// error would come from the context, handled by the caller's deadline.
	_ = g.Wait()

	weighted := []struct {
		s strategyScores
		w float64
	}{
		{semantic, semanticStrategyWeight},
		{domain, domainStrategyWeight},
		{entity, entityStrategyWeight},
		{glossary, glossaryStrategyWeight},
	}

	merged := make(map[string]*models.RankedTable, len(candidates))
	for _, t := range candidates {
		table := t
		merged[t.Name] = &models.RankedTable{Table: table}
	}
	for _, ws := range weighted {
		for name, score := range ws.s.scores {
			rt, ok := merged[name]
			if !ok || score <= 0 {
				continue
			}
			rt.Score += score * ws.w
			rt.MatchedBy = append(rt.MatchedBy, ws.s.name)
		}
	}

	ranked := make([]models.RankedTable, 0, len(merged))
	for _, rt := range merged {
		if rt.Score > 0 {
			ranked = append(ranked, *rt)
		}
	}
	// Name tiebreak keeps ranking deterministic for equal scores.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Table.Name < ranked[j].Table.Name
	})
	return ranked
}

func (e *retrievalEngine) scoreSemantic(ctx context.Context, profile *models.BusinessContextProfile, tables []models.TableMetadata) strategyScores {
	scores := make(map[string]float64, len(tables))
	for _, t := range tables {
		descriptor := t.Name + " " + t.Description
		score, err := e.scoring.Score(ctx, profile.Question, descriptor)
		if err != nil {
			e.logger.Warn("semantic scoring failed",
				zap.String("table", t.Name),
				zap.Error(err))
			continue
		}
		scores[t.Name] = score
	}
	return strategyScores{scores: scores, name: strategySemantic}
}

func scoreDomainTags(profile *models.BusinessContextProfile, tables []models.TableMetadata) strategyScores {
	scores := make(map[string]float64, len(tables))
	if profile.Domain.Name == models.DomainUncategorized {
		return strategyScores{scores: scores, name: strategyDomain}
	}
	for _, t := range tables {
		for _, d := range t.Domains {
			if d == profile.Domain.Name {
				scores[t.Name] = profile.Domain.Score
				break
			}
		}
	}
	return strategyScores{scores: scores, name: strategyDomain}
}

func (e *retrievalEngine) scoreEntityNames(ctx context.Context, profile *models.BusinessContextProfile, tables []models.TableMetadata) strategyScores {
	scores := make(map[string]float64, len(tables))
	mentions := profile.EntitiesByCategory(models.EntityCategoryTable)
	mentions = append(mentions, profile.EntitiesByCategory(models.EntityCategoryDimension)...)
	if len(mentions) == 0 {
		return strategyScores{scores: scores, name: strategyEntity}
	}
	for _, t := range tables {
		best := 0.0
		for _, m := range mentions {
			score, err := e.scoring.Score(ctx, m.Name, t.Name)
			if err != nil {
				continue
			}
			score *= m.Confidence
			if score > best {
				best = score
			}
		}
		if best > 0 {
			scores[t.Name] = best
		}
	}
	return strategyScores{scores: scores, name: strategyEntity}
}

func scoreGlossaryTerms(profile *models.BusinessContextProfile, tables []models.TableMetadata, glossaryTerms []models.GlossaryTerm) strategyScores {
	scores := make(map[string]float64, len(tables))
	matched := matchedGlossaryTerms(glossaryTerms, profile.Question)
	if len(matched) == 0 {
		return strategyScores{scores: scores, name: strategyGlossary}
	}
	related := make(map[string]bool)
	for _, term := range matched {
		for _, table := range term.RelatedTables {
			related[table] = true
		}
	}
	for _, t := range tables {
		if related[t.Name] {
			scores[t.Name] = 1.0
		}
	}
	return strategyScores{scores: scores, name: strategyGlossary}
}

// matchedGlossaryTerms returns the terms whose name or alias appears in
// the question.
func matchedGlossaryTerms(terms []models.GlossaryTerm, question string) []models.GlossaryTerm {
	lower := strings.ToLower(question)
	var matched []models.GlossaryTerm
	for _, t := range terms {
		if strings.Contains(lower, strings.ToLower(t.Term)) {
			matched = append(matched, t)
			continue
		}
		for _, alias := range t.Aliases {
			if strings.Contains(lower, strings.ToLower(alias)) {
				matched = append(matched, t)
				break
			}
		}
	}
	return matched
}

// excludeForeignDomains drops domain-exclusive tables tagged only for
// domains other than the profile's. Uncategorized profiles keep everything;
// there is no basis to exclude.
func excludeForeignDomains(tables []models.TableMetadata, domain models.DomainMatch) []models.TableMetadata {
	if domain.Name == models.DomainUncategorized {
		return tables
	}
	out := make([]models.TableMetadata, 0, len(tables))
	for _, t := range tables {
		if t.DomainExclusive && !containsString(t.Domains, domain.Name) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ============================================================================
// Column selection
// ============================================================================

// selectColumns keeps the most relevant columns per table under the
// per-table sub-budget. Keys and entity-matched columns rank first;
// original ordinal order breaks ties so selection stays deterministic.
func (e *retrievalEngine) selectColumns(ctx context.Context, profile *models.BusinessContextProfile, columns map[string][]models.ColumnMetadata) map[string][]models.ColumnMetadata {
	mentions := append(
		profile.EntitiesByCategory(models.EntityCategoryMetric),
		profile.EntitiesByCategory(models.EntityCategoryDimension)...,
	)
	mentions = append(mentions, profile.EntitiesByCategory(models.EntityCategoryColumn)...)

	out := make(map[string][]models.ColumnMetadata, len(columns))
	for table, cols := range columns {
		if len(cols) <= e.maxColumnsPerTable {
			out[table] = cols
			continue
		}

		type scoredColumn struct {
			col     models.ColumnMetadata
			score   float64
			ordinal int
		}
		scored := make([]scoredColumn, 0, len(cols))
		for i, col := range cols {
			score := 0.0
			if col.IsPrimaryKey || col.IsForeignKey {
				score += 0.5 // Keys are needed for join-aware prompting
			}
			if profile.TimeRange != nil && col.HasTag("timestamp") {
				score += 0.4 // Time-windowed questions filter on the timestamp column
			}
			for _, m := range mentions {
				s, err := e.scoring.Score(ctx, m.Name, col.Name+" "+col.Description)
				if err != nil {
					continue
				}
				if s*m.Confidence > score {
					score = s * m.Confidence
				}
			}
			scored = append(scored, scoredColumn{col: col, score: score, ordinal: i})
		}
		sort.SliceStable(scored, func(i, j int) bool {
			if scored[i].score != scored[j].score {
				return scored[i].score > scored[j].score
			}
			return scored[i].ordinal < scored[j].ordinal
		})
		scored = scored[:e.maxColumnsPerTable]
		// Restore schema order within the kept set.
		sort.Slice(scored, func(i, j int) bool { return scored[i].ordinal < scored[j].ordinal })

		kept := make([]models.ColumnMetadata, 0, len(scored))
		for _, sc := range scored {
			kept = append(kept, sc.col)
		}
		out[table] = kept
	}
	return out
}

// ============================================================================
// Aggregation and cache keys
// ============================================================================

// aggregateRelevance is the weighted average of the component scores:
// ranked tables dominate, glossary and relationship coverage round it out.
func aggregateRelevance(schema *models.ContextualSchema) float64 {
	if len(schema.Tables) == 0 {
		return 0
	}
	var tableScore float64
	for _, t := range schema.Tables {
		tableScore += t.Score
	}
	tableScore /= float64(len(schema.Tables))

	termScore := 0.0
	if len(schema.Terms) > 0 {
		termScore = 1.0
	}
	relScore := 0.0
	if len(schema.Tables) > 1 && len(schema.Relationships) > 0 {
		relScore = 1.0
	} else if len(schema.Tables) == 1 {
		relScore = 1.0 // Single-table schemas need no joins
	}

	return 0.6*tableScore + 0.2*termScore + 0.2*relScore
}

// retrievalCacheKey hashes the normalized question plus user id. Questions
// differing only in case or spacing share an entry.
func retrievalCacheKey(question, userID string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	h := fnv.New64a()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	return fmt.Sprintf("retrieval:%x", h.Sum64())
}
