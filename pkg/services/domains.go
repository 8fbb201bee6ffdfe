package services

import (
	"github.com/ekaya-inc/prompt-forge/pkg/models"
)

// DefaultDomainRegistry returns the built-in domain descriptors. Callers
// with their own business taxonomy pass a custom registry to
// NewContextAnalyzer instead.
func DefaultDomainRegistry() []models.DomainDescriptor {
	return []models.DomainDescriptor{
		{
			Name:        "banking",
			Description: "Financial transactions, deposits, withdrawals, balances and payment flows",
			KeyConcepts: []string{"deposit", "withdrawal", "transaction", "balance", "payment", "depositor", "account", "currency"},
		},
		{
			Name:        "gaming",
			Description: "Game sessions, rounds, bets and gameplay activity",
			KeyConcepts: []string{"game", "session", "bet", "round", "spin", "wager", "jackpot", "tournament"},
		},
		{
			Name:        "customer",
			Description: "Player and customer profiles, registrations, segments and demographics",
			KeyConcepts: []string{"player", "customer", "user", "registration", "segment", "country", "signup", "profile"},
		},
		{
			Name:        "marketing",
			Description: "Campaigns, bonuses, promotions and acquisition channels",
			KeyConcepts: []string{"campaign", "bonus", "promotion", "channel", "affiliate", "conversion", "offer"},
		},
		{
			Name:        "support",
			Description: "Support tickets, complaints and service interactions",
			KeyConcepts: []string{"ticket", "complaint", "agent", "resolution", "escalation", "chat"},
		},
	}
}
