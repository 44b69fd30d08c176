package workflow

import (
	"sort"
	"time"

	"github.com/ledgerline/be-credit-limits/internal/repository"
)

// Resolve computes the ordered approval chain for a requested amount from a
// company's rule set. Pure and deterministic: no I/O, no clock reads beyond
// the caller-supplied now.
//
// The chain is every active rule whose range minimum lies strictly below the
// applicable rule's minimum (ascending by minimum), terminated by the
// applicable rule itself. The applicable rule is always last and never
// skipped. The first step is started at now; the rest are unstarted.
//
// Ties on range minimum are broken by jurisdiction id to keep the order
// total; configurations with duplicate minima are a setup smell, not a
// supported layout.
func Resolve(companyID string, amount int64, rules []*repository.WorkflowRule, now time.Time) ([]repository.StepSpec, error) {
	applicable := findApplicable(amount, rules)
	if applicable == nil {
		return nil, &NoApplicableRuleError{CompanyID: companyID, Amount: amount}
	}

	var lower []*repository.WorkflowRule
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		if r.MinAmount < applicable.MinAmount {
			lower = append(lower, r)
		}
	}

	sort.SliceStable(lower, func(i, j int) bool {
		if lower[i].MinAmount != lower[j].MinAmount {
			return lower[i].MinAmount < lower[j].MinAmount
		}
		return lower[i].JurisdictionID < lower[j].JurisdictionID
	})

	chain := append(lower, applicable)
	specs := make([]repository.StepSpec, 0, len(chain))
	for i, r := range chain {
		spec := repository.StepSpec{
			StepNumber:     i + 1,
			JurisdictionID: r.JurisdictionID,
			Subordination:  r.Subordination,
			RuleMinAmount:  r.MinAmount,
		}
		if i == 0 {
			started := now
			spec.StartedAt = &started
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

// findApplicable returns the active rule whose range contains amount. When
// ranges overlap, the rule with the lowest minimum wins, ties broken by
// jurisdiction id.
func findApplicable(amount int64, rules []*repository.WorkflowRule) *repository.WorkflowRule {
	var match *repository.WorkflowRule
	for _, r := range rules {
		if !r.IsActive || !r.Contains(amount) {
			continue
		}
		if match == nil ||
			r.MinAmount < match.MinAmount ||
			(r.MinAmount == match.MinAmount && r.JurisdictionID < match.JurisdictionID) {
			match = r
		}
	}
	return match
}
