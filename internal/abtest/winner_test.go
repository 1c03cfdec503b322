package abtest

import (
	"testing"

	"github.com/jeylabbb/newsletter-hq/internal/models"
)

func TestPickWinner(t *testing.T) {
	tests := []struct {
		name     string
		criteria string
		a, b     models.CohortStats
		want     string
	}{
		{
			name:     "opens B wins",
			criteria: models.CriteriaOpens,
			a:        models.CohortStats{Opens: 3},
			b:        models.CohortStats{Opens: 7},
			want:     models.CohortB,
		},
		{
			name:     "opens tie goes to A",
			criteria: models.CriteriaOpens,
			a:        models.CohortStats{Opens: 5, Clicks: 1},
			b:        models.CohortStats{Opens: 5, Clicks: 9},
			want:     models.CohortA,
		},
		{
			name:     "clicks A wins",
			criteria: models.CriteriaClicks,
			a:        models.CohortStats{Clicks: 4},
			b:        models.CohortStats{Clicks: 2},
			want:     models.CohortA,
		},
		{
			name:     "combined weighs clicks double",
			criteria: models.CriteriaCombined,
			a:        models.CohortStats{Opens: 10, Clicks: 0}, // 10
			b:        models.CohortStats{Opens: 1, Clicks: 5},  // 11
			want:     models.CohortB,
		},
		{
			name:     "ctr higher rate wins",
			criteria: models.CriteriaCTR,
			a:        models.CohortStats{Opens: 10, Clicks: 1},
			b:        models.CohortStats{Opens: 4, Clicks: 2},
			want:     models.CohortB,
		},
		{
			name:     "ctr zero opens never beats one open",
			criteria: models.CriteriaCTR,
			a:        models.CohortStats{Opens: 0, Clicks: 0},
			b:        models.CohortStats{Opens: 1, Clicks: 0},
			want:     models.CohortB,
		},
		{
			name:     "ctr equal rates tie to A",
			criteria: models.CriteriaCTR,
			a:        models.CohortStats{Opens: 10, Clicks: 2},
			b:        models.CohortStats{Opens: 5, Clicks: 1},
			want:     models.CohortA,
		},
		{
			name:     "zero signal everywhere falls to A",
			criteria: models.CriteriaClicks,
			a:        models.CohortStats{},
			b:        models.CohortStats{},
			want:     models.CohortA,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PickWinner(tt.criteria, tt.a, tt.b); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
