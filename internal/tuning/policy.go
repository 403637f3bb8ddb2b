package tuning

import "fmt"

// BudgetPolicy decides how many objective evaluations one optimizer run
// gets in a given epoch.
type BudgetPolicy interface {
	Name() string
	Budget(base, epoch, totalEpochs int) int
}

type FixedBudgetPolicy struct{}

func (FixedBudgetPolicy) Name() string { return "fixed" }

func (FixedBudgetPolicy) Budget(base, _epoch, _totalEpochs int) int {
	if base < 0 {
		return 0
	}
	return base
}

// LinearDecayBudgetPolicy shrinks the budget linearly over the epochs down
// to MinBudget.
type LinearDecayBudgetPolicy struct {
	MinBudget int
}

func (LinearDecayBudgetPolicy) Name() string { return "linear_decay" }

func (p LinearDecayBudgetPolicy) Budget(base, epoch, totalEpochs int) int {
	if base <= 0 {
		return 0
	}
	if totalEpochs <= 0 {
		return base
	}
	remaining := totalEpochs - epoch
	if remaining < 1 {
		remaining = 1
	}
	budget := (base * remaining) / totalEpochs
	if budget < p.MinBudget {
		budget = p.MinBudget
	}
	return budget
}

// BudgetPolicyFromConfig builds a policy by name. For linear_decay, param
// is the minimum budget.
func BudgetPolicyFromConfig(name string, param int) (BudgetPolicy, error) {
	switch NormalizeBudgetPolicyName(name) {
	case "fixed":
		return FixedBudgetPolicy{}, nil
	case "linear_decay":
		if param < 1 {
			param = 1
		}
		return LinearDecayBudgetPolicy{MinBudget: param}, nil
	default:
		return nil, fmt.Errorf("unsupported budget policy: %s", name)
	}
}

func NormalizeBudgetPolicyName(name string) string {
	switch name {
	case "", "fixed", "const":
		return "fixed"
	case "linear", "linear_decay":
		return "linear_decay"
	default:
		return name
	}
}
