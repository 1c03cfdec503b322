package abtest

import "github.com/jeylabbb/newsletter-hq/internal/models"

// PickWinner returns "A" or "B" for the given criteria. Exact ties go to A,
// a fixed documented bias that keeps evaluation deterministic. Zero signal
// in both cohorts therefore also yields A: the product favors forward
// progress over statistical rigor.
func PickWinner(criteria string, a, b models.CohortStats) string {
	if criteria == models.CriteriaCTR {
		return pickByCTR(a, b)
	}

	scoreA, scoreB := score(criteria, a), score(criteria, b)
	if scoreB > scoreA {
		return models.CohortB
	}
	return models.CohortA
}

func score(criteria string, s models.CohortStats) int {
	switch criteria {
	case models.CriteriaClicks:
		return s.Clicks
	case models.CriteriaCombined:
		return s.Clicks*2 + s.Opens
	default: // opens
		return s.Opens
	}
}

// pickByCTR compares clicks/opens. A cohort with zero opens has ctr 0 and
// never wins over a cohort with at least one open.
func pickByCTR(a, b models.CohortStats) string {
	if a.Opens == 0 && b.Opens == 0 {
		return models.CohortA
	}
	if a.Opens == 0 {
		return models.CohortB
	}
	if b.Opens == 0 {
		return models.CohortA
	}

	// Cross-multiplied to avoid float comparison.
	ctrA := a.Clicks * b.Opens
	ctrB := b.Clicks * a.Opens
	if ctrB > ctrA {
		return models.CohortB
	}
	return models.CohortA
}
