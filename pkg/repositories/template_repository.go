package repositories

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/prompt-forge/pkg/database"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
)

// ============================================================================
// Postgres-backed corpus
// ============================================================================

type templateRepository struct {
	db *database.DB
}

// NewTemplateRepository creates a Postgres-backed TemplateRepository.
func NewTemplateRepository(db *database.DB) TemplateRepository {
	return &templateRepository{db: db}
}

var _ TemplateRepository = (*templateRepository)(nil)

func (r *templateRepository) ListTemplates(ctx context.Context) ([]models.PromptTemplate, error) {
	query := `
		SELECT id, name, body, slots, intents, domains
		FROM forge_templates
		ORDER BY name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []models.PromptTemplate
	for rows.Next() {
		var t models.PromptTemplate
		var intentNames []string
		if err := rows.Scan(&t.ID, &t.Name, &t.Body, &t.Slots, &intentNames, &t.Domains); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		for _, name := range intentNames {
			intent, err := models.ParseIntentType(name)
			if err != nil {
				return nil, fmt.Errorf("template %s has invalid intent tag: %w", t.Name, err)
			}
			t.Intents = append(t.Intents, intent)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}
	return templates, nil
}

// ============================================================================
// YAML seed corpus
// ============================================================================

// yamlTemplate mirrors models.PromptTemplate with string intent tags, which
// is what the seed file carries.
type yamlTemplate struct {
	Name    string                `yaml:"name"`
	Body    string                `yaml:"body"`
	Slots   []models.TemplateSlot `yaml:"slots"`
	Intents []string              `yaml:"intents"`
	Domains []string              `yaml:"domains"`
}

type yamlCorpus struct {
	Templates []yamlTemplate `yaml:"templates"`
}

type yamlTemplateRepository struct {
	templates []models.PromptTemplate
}

// NewYAMLTemplateRepository loads the template corpus from a YAML seed file.
// Used by deployments without a Postgres corpus and by tests.
func NewYAMLTemplateRepository(path string) (TemplateRepository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template corpus: %w", err)
	}

	var corpus yamlCorpus
	if err := yaml.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("failed to parse template corpus: %w", err)
	}

	templates := make([]models.PromptTemplate, 0, len(corpus.Templates))
	for _, yt := range corpus.Templates {
		t := models.PromptTemplate{
			// Seed files carry no IDs; derive a stable one from the name.
			ID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte("template:"+yt.Name)),
			Name:    yt.Name,
			Body:    yt.Body,
			Slots:   yt.Slots,
			Domains: yt.Domains,
		}
		for _, name := range yt.Intents {
			intent, err := models.ParseIntentType(name)
			if err != nil {
				return nil, fmt.Errorf("template %s has invalid intent tag: %w", yt.Name, err)
			}
			t.Intents = append(t.Intents, intent)
		}
		templates = append(templates, t)
	}

	return &yamlTemplateRepository{templates: templates}, nil
}

var _ TemplateRepository = (*yamlTemplateRepository)(nil)

func (r *yamlTemplateRepository) ListTemplates(ctx context.Context) ([]models.PromptTemplate, error) {
	out := make([]models.PromptTemplate, len(r.templates))
	copy(out, r.templates)
	return out, nil
}
