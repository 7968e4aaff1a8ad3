package engine

import (
	"ratewatch/internal/model"
)

// ConditionSatisfied reports whether a rate satisfies an alert condition.
// Both bounds are inclusive: above(t) fires at rate >= t and below(t) at
// rate <= t, so a rate exactly on the threshold triggers in either
// direction. Unknown condition tags never satisfy.
func ConditionSatisfied(cond model.AlertCondition, rate float64) bool {
	switch cond.Kind {
	case model.ConditionAbove:
		return rate >= cond.Threshold
	case model.ConditionBelow:
		return rate <= cond.Threshold
	default:
		return false
	}
}
