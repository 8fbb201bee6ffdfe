// Package testhelpers provides deterministic clocks and a shared metadata
// snapshot for testing prompt-forge components.
package testhelpers

import (
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/prompt-forge/pkg/models"
	"github.com/ekaya-inc/prompt-forge/pkg/repositories"
)

// FixtureNow is the frozen wall clock used across tests so relative time
// expressions and trace durations are reproducible.
var FixtureNow = time.Date(2025, time.March, 12, 10, 30, 0, 0, time.UTC)

// FixedClock returns a clock function pinned to t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// TickingClock returns a clock that advances by step on every call,
// starting at start. Useful when durations must be non-zero but stable.
func TickingClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		now := current
		current = current.Add(step)
		return now
	}
}

// fixtureID derives a stable UUID from a name so fixtures survive
// re-ordering without test churn.
func fixtureID(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
}

// NewFixtureSnapshot builds an in-memory metadata snapshot spanning the
// banking, gaming, customer and marketing domains. The banking and gaming
// tables are domain-exclusive so cross-domain leakage is observable in
// tests.
func NewFixtureSnapshot() *repositories.Snapshot {
	updated := FixtureNow.Add(-24 * time.Hour)

	tables := []models.TableMetadata{
		{
			ID:              fixtureID("table:transactions"),
			SchemaName:      "public",
			Name:            "transactions",
			Description:     "Monetary movements: deposits, withdrawals and transfers per account.",
			Domains:         []string{"banking"},
			DomainExclusive: true,
			RowCount:        48_000_000,
			UpdatedAt:       updated,
		},
		{
			ID:              fixtureID("table:accounts"),
			SchemaName:      "public",
			Name:            "accounts",
			Description:     "Customer bank accounts with balance and lifecycle status.",
			Domains:         []string{"banking"},
			DomainExclusive: true,
			RowCount:        2_100_000,
			UpdatedAt:       updated,
		},
		{
			ID:          fixtureID("table:customers"),
			SchemaName:  "public",
			Name:        "customers",
			Description: "Registered customers with contact details and home country.",
			Domains:     []string{"customer", "banking"},
			RowCount:    1_900_000,
			Governance:  models.GovernanceFlags{ContainsPII: true},
			UpdatedAt:   updated,
		},
		{
			ID:          fixtureID("table:countries"),
			SchemaName:  "public",
			Name:        "countries",
			Description: "ISO country reference data.",
			RowCount:    249,
			UpdatedAt:   updated,
		},
		{
			ID:              fixtureID("table:players"),
			SchemaName:      "public",
			Name:            "players",
			Description:     "Gaming platform players and registration details.",
			Domains:         []string{"gaming"},
			DomainExclusive: true,
			RowCount:        860_000,
			UpdatedAt:       updated,
		},
		{
			ID:              fixtureID("table:game_sessions"),
			SchemaName:      "public",
			Name:            "game_sessions",
			Description:     "Individual play sessions with wagered and won amounts.",
			Domains:         []string{"gaming"},
			DomainExclusive: true,
			RowCount:        120_000_000,
			UpdatedAt:       updated,
		},
		{
			ID:          fixtureID("table:campaigns"),
			SchemaName:  "public",
			Name:        "campaigns",
			Description: "Marketing campaigns with channel and spend.",
			Domains:     []string{"marketing"},
			RowCount:    3_400,
			UpdatedAt:   updated,
		},
	}

	columns := map[string][]models.ColumnMetadata{
		"transactions": {
			col("transactions", "id", "bigint", "Surrogate key.", true, false, nil),
			col("transactions", "account_id", "bigint", "Owning account.", false, true, nil),
			col("transactions", "amount", "numeric(18,2)", "Signed amount; deposits are positive.", false, false, []string{"metric"}),
			col("transactions", "transaction_type", "text", "deposit, withdrawal or transfer.", false, false, []string{"dimension"}),
			col("transactions", "country_code", "char(2)", "ISO code where the transaction originated.", false, false, []string{"dimension"}),
			col("transactions", "created_at", "timestamptz", "Posting time.", false, false, []string{"timestamp"}),
		},
		"accounts": {
			col("accounts", "id", "bigint", "Surrogate key.", true, false, nil),
			col("accounts", "customer_id", "bigint", "Owning customer.", false, true, nil),
			col("accounts", "balance", "numeric(18,2)", "Current balance.", false, false, []string{"metric"}),
			col("accounts", "status", "text", "open, frozen or closed.", false, false, []string{"dimension"}),
			col("accounts", "is_test", "boolean", "Internal test account flag.", false, false, nil),
			col("accounts", "opened_at", "timestamptz", "", false, false, []string{"timestamp"}),
		},
		"customers": {
			col("customers", "id", "bigint", "Surrogate key.", true, false, nil),
			col("customers", "full_name", "text", "Legal name.", false, false, nil),
			col("customers", "email", "text", "", false, false, nil),
			col("customers", "country_id", "int", "Home country.", false, true, []string{"dimension"}),
			col("customers", "created_at", "timestamptz", "Registration time.", false, false, []string{"timestamp"}),
		},
		"countries": {
			col("countries", "id", "int", "Surrogate key.", true, false, nil),
			col("countries", "iso_code", "char(2)", "ISO 3166-1 alpha-2.", false, false, []string{"dimension"}),
			col("countries", "name", "text", "English short name.", false, false, []string{"dimension"}),
		},
		"players": {
			col("players", "id", "bigint", "Surrogate key.", true, false, nil),
			col("players", "nickname", "text", "", false, false, nil),
			col("players", "country_id", "int", "Home country.", false, true, []string{"dimension"}),
			col("players", "registered_at", "timestamptz", "", false, false, []string{"timestamp"}),
		},
		"game_sessions": {
			col("game_sessions", "id", "bigint", "Surrogate key.", true, false, nil),
			col("game_sessions", "player_id", "bigint", "Owning player.", false, true, nil),
			col("game_sessions", "wagered", "numeric(18,2)", "Total amount wagered.", false, false, []string{"metric"}),
			col("game_sessions", "won", "numeric(18,2)", "Total amount won.", false, false, []string{"metric"}),
			col("game_sessions", "started_at", "timestamptz", "", false, false, []string{"timestamp"}),
		},
		"campaigns": {
			col("campaigns", "id", "int", "Surrogate key.", true, false, nil),
			col("campaigns", "name", "text", "", false, false, nil),
			col("campaigns", "channel", "text", "email, social or search.", false, false, []string{"dimension"}),
			col("campaigns", "budget", "numeric(12,2)", "Approved spend.", false, false, []string{"metric"}),
			col("campaigns", "started_at", "timestamptz", "", false, false, []string{"timestamp"}),
		},
	}

	terms := []models.GlossaryTerm{
		{
			ID:            fixtureID("term:depositor"),
			Term:          "depositor",
			Definition:    "A customer who made at least one deposit transaction in the period.",
			Aliases:       []string{"depositors"},
			RelatedTables: []string{"transactions", "customers"},
			Domains:       []string{"banking"},
		},
		{
			ID:            fixtureID("term:ggr"),
			Term:          "GGR",
			Definition:    "Gross gaming revenue: total wagered minus total won.",
			Aliases:       []string{"gross gaming revenue"},
			RelatedTables: []string{"game_sessions"},
			Domains:       []string{"gaming"},
		},
		{
			ID:            fixtureID("term:churn"),
			Term:          "churn",
			Definition:    "Customers with no activity in the trailing 90 days.",
			RelatedTables: []string{"customers"},
			Domains:       []string{"customer"},
		},
	}

	rules := []models.BusinessRule{
		{
			ID:          fixtureID("rule:test-accounts"),
			Name:        "exclude test accounts",
			Description: "Always filter accounts.is_test = false; test accounts pollute monetary aggregates.",
			AppliesTo:   []string{"accounts", "transactions"},
			Mandatory:   true,
			Domains:     []string{"banking"},
		},
		{
			ID:          fixtureID("rule:settled-only"),
			Name:        "settled transactions only",
			Description: "Monetary reporting counts settled transactions; pending ones are excluded.",
			AppliesTo:   []string{"transactions"},
			Domains:     []string{"banking"},
		},
		{
			ID:          fixtureID("rule:active-players"),
			Name:        "active players only",
			Description: "Player counts exclude self-excluded and banned players.",
			AppliesTo:   []string{"players"},
			Mandatory:   true,
			Domains:     []string{"gaming"},
		},
	}

	relationships := []models.Relationship{
		{FromTable: "transactions", FromColumn: "account_id", ToTable: "accounts", ToColumn: "id", Kind: models.RelationshipForeignKey, Confidence: 1},
		{FromTable: "accounts", FromColumn: "customer_id", ToTable: "customers", ToColumn: "id", Kind: models.RelationshipForeignKey, Confidence: 1},
		{FromTable: "customers", FromColumn: "country_id", ToTable: "countries", ToColumn: "id", Kind: models.RelationshipForeignKey, Confidence: 1},
		{FromTable: "players", FromColumn: "country_id", ToTable: "countries", ToColumn: "id", Kind: models.RelationshipForeignKey, Confidence: 1},
		{FromTable: "game_sessions", FromColumn: "player_id", ToTable: "players", ToColumn: "id", Kind: models.RelationshipForeignKey, Confidence: 1},
		{FromTable: "transactions", FromColumn: "country_code", ToTable: "countries", ToColumn: "iso_code", Kind: models.RelationshipInferred, Confidence: 0.7},
	}

	templates := []models.PromptTemplate{
		{
			ID:   fixtureID("template:analytical-standard"),
			Name: "analytical-standard",
			Body: "You are an expert SQL analyst.\n\n## Business Context\n{{business_context}}\n\n## Schema\n{{schema_context}}\n\n## Rules\n{{rules}}\n\n## Examples\n{{examples}}\n\n## Question\n{{question}}\n\nRespond with a single SQL query.",
			Slots: []models.TemplateSlot{
				{Name: models.SlotBusinessContext},
				{Name: models.SlotSchemaContext, Required: true},
				{Name: models.SlotRules},
				{Name: models.SlotExamples},
				{Name: models.SlotQuestion, Required: true},
			},
			Intents: []models.IntentType{models.IntentAnalytical, models.IntentAggregation, models.IntentTrend},
		},
		{
			ID:   fixtureID("template:banking-aggregation"),
			Name: "banking-aggregation",
			Body: "You write SQL for a retail bank.\n\n## Schema\n{{schema_context}}\n\n## Rules\n{{rules}}\n\n## Question\n{{question}}\n\nReturn only SQL.",
			Slots: []models.TemplateSlot{
				{Name: models.SlotSchemaContext, Required: true},
				{Name: models.SlotRules},
				{Name: models.SlotQuestion, Required: true},
			},
			Intents: []models.IntentType{models.IntentAggregation},
			Domains: []string{"banking"},
		},
	}

	examples := []repositories.WorkedExample{
		{
			ID:       fixtureID("example:deposits-by-country"),
			Question: "Total deposits by country last month",
			SQL:      "SELECT c.name, SUM(t.amount) FROM transactions t JOIN countries c ON c.iso_code = t.country_code WHERE t.transaction_type = 'deposit' AND t.created_at >= date_trunc('month', now() - interval '1 month') AND t.created_at < date_trunc('month', now()) GROUP BY c.name ORDER BY 2 DESC;",
			Tables:   []string{"transactions", "countries"},
			Domains:  []string{"banking"},
		},
		{
			ID:       fixtureID("example:top-wagering-players"),
			Question: "Top 5 players by amount wagered this week",
			SQL:      "SELECT p.nickname, SUM(g.wagered) FROM game_sessions g JOIN players p ON p.id = g.player_id WHERE g.started_at >= date_trunc('week', now()) GROUP BY p.nickname ORDER BY 2 DESC LIMIT 5;",
			Tables:   []string{"game_sessions", "players"},
			Domains:  []string{"gaming"},
		},
		{
			ID:       fixtureID("example:new-customers"),
			Question: "How many customers signed up yesterday?",
			SQL:      "SELECT COUNT(*) FROM customers WHERE created_at >= current_date - 1 AND created_at < current_date;",
			Tables:   []string{"customers"},
			Domains:  []string{"customer"},
		},
	}

	return &repositories.Snapshot{
		Tables:        tables,
		Columns:       columns,
		GlossaryTerms: terms,
		Rules:         rules,
		Relationships: relationships,
		Templates:     templates,
		Examples:      examples,
	}
}

func col(table, name, dataType, description string, pk, fk bool, tags []string) models.ColumnMetadata {
	return models.ColumnMetadata{
		ID:           fixtureID("column:" + table + "." + name),
		TableID:      fixtureID("table:" + table),
		TableName:    table,
		Name:         name,
		DataType:     dataType,
		Description:  description,
		IsPrimaryKey: pk,
		IsForeignKey: fk,
		Tags:         tags,
	}
}
