package services

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ekaya-inc/prompt-forge/pkg/apperrors"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
)

// AssemblyResult is the optimizer's output: the selected sections in
// candidate order, the exact token total and the budget utilization.
type AssemblyResult struct {
	Sections    []models.ContextSection
	TokensUsed  int
	Budget      int
	Utilization float64
}

// AssemblyEngine solves the token-budget selection problem over candidate
// sections: maximize relevance-weighted value subject to total token cost
// staying within budget. Sections marked essential are always included,
// shrinking lower-priority selections if needed.
type AssemblyEngine interface {
	Assemble(candidates []models.ContextSection, budget int) (*AssemblyResult, error)
}

type assemblyEngine struct {
	dpBudgetLimit int
	logger        *zap.Logger
}

// NewAssemblyEngine creates an AssemblyEngine. Budgets up to dpBudgetLimit
// are solved exactly with dynamic programming; larger budgets use greedy
// selection by descending efficiency, which is monotonic in efficiency
// order but not globally optimal.
func NewAssemblyEngine(dpBudgetLimit int, logger *zap.Logger) AssemblyEngine {
	return &assemblyEngine{dpBudgetLimit: dpBudgetLimit, logger: logger}
}

var _ AssemblyEngine = (*assemblyEngine)(nil)

func (e *assemblyEngine) Assemble(candidates []models.ContextSection, budget int) (*AssemblyResult, error) {
	if budget < 0 {
		return nil, fmt.Errorf("%w: negative budget %d", apperrors.ErrAssemblyFailure, budget)
	}

	var selected map[int]bool
	if budget <= e.dpBudgetLimit {
		selected = knapsackDP(candidates, budget)
	} else {
		selected = knapsackGreedy(candidates, budget)
	}

	// Post-pass 1: guarantee essential sections the optimizer excluded.
	selected, err := e.guaranteeEssentials(candidates, selected, budget)
	if err != nil {
		return nil, err
	}

	// Post-pass 2: sections that did not fit are tried in compressed form
	// before being dropped entirely.
	selected = fillWithCompressed(candidates, selected, budget)

	result := &AssemblyResult{Budget: budget}
	for i, c := range candidates {
		if !selected[i] {
			continue
		}
		result.Sections = append(result.Sections, c)
		result.TokensUsed += c.EffectiveCost()
	}
	if result.TokensUsed > budget {
		return nil, fmt.Errorf("%w: selection cost %d exceeds budget %d",
			apperrors.ErrAssemblyFailure, result.TokensUsed, budget)
	}
	if budget > 0 {
		result.Utilization = float64(result.TokensUsed) / float64(budget)
	}

	e.logger.Debug("context assembled",
		zap.Int("candidates", len(candidates)),
		zap.Int("selected", len(result.Sections)),
		zap.Int("tokens_used", result.TokensUsed),
		zap.Int("budget", budget),
		zap.Float64("utilization", result.Utilization))

	return result, nil
}

// knapsackDP solves the 0/1 selection exactly. Runtime and memory are
// proportional to candidates x budget, which is why it is gated behind
// dpBudgetLimit.
func knapsackDP(candidates []models.ContextSection, budget int) map[int]bool {
	n := len(candidates)
	value := make([][]float64, n+1)
	for i := range value {
		value[i] = make([]float64, budget+1)
	}

	for i := 1; i <= n; i++ {
		cost := candidates[i-1].TokenCost
		v := candidates[i-1].Relevance * candidates[i-1].Importance
		for w := 0; w <= budget; w++ {
			value[i][w] = value[i-1][w]
			if cost <= w && value[i-1][w-cost]+v > value[i][w] {
				value[i][w] = value[i-1][w-cost] + v
			}
		}
	}

	// Walk the table backwards to recover the selection.
	selected := make(map[int]bool, n)
	w := budget
	for i := n; i >= 1; i-- {
		if value[i][w] != value[i-1][w] {
			selected[i-1] = true
			w -= candidates[i-1].TokenCost
		}
	}
	return selected
}

// knapsackGreedy picks candidates by descending efficiency until the
// budget runs out. Approximation: monotonic in efficiency order, not
// globally optimal.
func knapsackGreedy(candidates []models.ContextSection, budget int) map[int]bool {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return candidates[order[a]].Efficiency() > candidates[order[b]].Efficiency()
	})

	selected := make(map[int]bool, len(candidates))
	remaining := budget
	for _, i := range order {
		if candidates[i].TokenCost <= remaining {
			selected[i] = true
			remaining -= candidates[i].TokenCost
		}
	}
	return selected
}

// guaranteeEssentials forces every essential candidate into the selection.
// To make room it first switches the least efficient non-essential
// selections to their compressed variants, then drops them outright. An
// essential section that still does not fit is itself tried compressed;
// if even the essential-only compressed selection exceeds the budget the
// request is infeasible.
func (e *assemblyEngine) guaranteeEssentials(candidates []models.ContextSection, selected map[int]bool, budget int) (map[int]bool, error) {
	used := 0
	for i := range candidates {
		if selected[i] {
			used += candidates[i].EffectiveCost()
		}
	}

	for i := range candidates {
		if !candidates[i].Essential || selected[i] {
			continue
		}

		need := candidates[i].TokenCost
		if used+need > budget {
			// Shrink lower-priority included sections: compress first,
			// then drop, in ascending efficiency order.
			order := nonEssentialByEfficiency(candidates, selected)
			for _, j := range order {
				if used+need <= budget {
					break
				}
				if !candidates[j].UsedCompressed && candidates[j].Compressed != nil {
					used -= candidates[j].TokenCost - candidates[j].Compressed.TokenCost
					candidates[j].UsedCompressed = true
				}
			}
			for _, j := range order {
				if used+need <= budget {
					break
				}
				used -= candidates[j].EffectiveCost()
				delete(selected, j)
			}
		}
		if used+need > budget && candidates[i].Compressed != nil {
			candidates[i].UsedCompressed = true
			need = candidates[i].Compressed.TokenCost
		}
		if used+need > budget {
			return nil, fmt.Errorf("%w: essential section %s needs %d tokens, %d available",
				apperrors.ErrBudgetInfeasible, candidates[i].ID, need, budget-used)
		}
		selected[i] = true
		used += need
	}
	return selected, nil
}

// nonEssentialByEfficiency lists the selected non-essential candidate
// indexes, least efficient first.
func nonEssentialByEfficiency(candidates []models.ContextSection, selected map[int]bool) []int {
	var order []int
	for i := range candidates {
		if selected[i] && !candidates[i].Essential {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return candidates[order[a]].Efficiency() < candidates[order[b]].Efficiency()
	})
	return order
}

// fillWithCompressed tries the compressed variant of every unselected
// section, most efficient first, consuming whatever budget remains.
func fillWithCompressed(candidates []models.ContextSection, selected map[int]bool, budget int) map[int]bool {
	used := 0
	for i := range candidates {
		if selected[i] {
			used += candidates[i].EffectiveCost()
		}
	}

	var order []int
	for i := range candidates {
		if !selected[i] && candidates[i].Compressed != nil {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return candidates[order[a]].Efficiency() > candidates[order[b]].Efficiency()
	})

	for _, i := range order {
		cost := candidates[i].Compressed.TokenCost
		if used+cost <= budget {
			candidates[i].UsedCompressed = true
			selected[i] = true
			used += cost
		}
	}
	return selected
}
