package application

import "time"

// SLABudgets maps each working stage to its expected-duration budget.
// Expedited applications are held to a fraction of the normal budget.
type SLABudgets struct {
	PerStage        map[Stage]time.Duration
	ExpeditedFactor float64
}

// DefaultSLABudgets reflects the published processing targets.
func DefaultSLABudgets() SLABudgets {
	return SLABudgets{
		PerStage: map[Stage]time.Duration{
			StageDraft:                  30 * 24 * time.Hour,
			StageIdentityVerification:   48 * time.Hour,
			StageEligibilityCheck:       48 * time.Hour,
			StageBackgroundVerification: 10 * 24 * time.Hour,
			StagePaymentProcessing:      7 * 24 * time.Hour,
			StageAdjudication:           5 * 24 * time.Hour,
			StageApproved:               24 * time.Hour,
		},
		ExpeditedFactor: 0.5,
	}
}

// BudgetFor returns the duration budget for a stage at a given priority.
// Terminal stages carry no budget.
func (b SLABudgets) BudgetFor(stage Stage, priority Priority) (time.Duration, bool) {
	budget, ok := b.PerStage[stage]
	if !ok {
		return 0, false
	}
	if priority == PriorityExpedited && b.ExpeditedFactor > 0 {
		budget = time.Duration(float64(budget) * b.ExpeditedFactor)
	}
	return budget, true
}
