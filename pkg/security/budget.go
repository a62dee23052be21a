package security

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ActionBudget caps tool actions per hour. The bucket starts full and
// refills evenly across the hour.
type ActionBudget struct {
	limiter *rate.Limiter
	perHour int
}

// NewActionBudget returns an unlimited budget when perHour is not positive.
func NewActionBudget(perHour int) *ActionBudget {
	if perHour <= 0 {
		return &ActionBudget{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &ActionBudget{
		limiter: rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour),
		perHour: perHour,
	}
}

// Take spends one action.
func (b *ActionBudget) Take() error {
	if b == nil || b.limiter.Allow() {
		return nil
	}
	return fmt.Errorf("%w (%d per hour)", ErrBudgetExhausted, b.perHour)
}

// Guard combines the policy with its action budget for tool execution.
type Guard struct {
	policy Policy
	budget *ActionBudget
}

func NewGuard(policy Policy) *Guard {
	return &Guard{policy: policy, budget: NewActionBudget(policy.MaxActionsPerHour)}
}

// Policy returns the policy the guard enforces.
func (g *Guard) Policy() Policy {
	return g.policy
}

// Authorize checks the autonomy level and spends budget for mutating tools.
// A nil guard allows everything.
func (g *Guard) Authorize(tool string, mutating bool) error {
	if g == nil {
		return nil
	}
	if err := g.policy.CheckTool(tool, mutating); err != nil {
		return err
	}
	if !mutating {
		return nil
	}
	if err := g.budget.Take(); err != nil {
		return fmt.Errorf("tool %q: %w", tool, err)
	}
	return nil
}
