// Package abtest implements the subject-line A/B test: cohort assignment,
// winner evaluation and the remainder-wave send.
package abtest

import (
	"hash/fnv"
	"sort"

	"github.com/jeylabbb/newsletter-hq/internal/models"
)

// AssignCohorts partitions a resolved recipient set into A/B/remainder
// cohorts. With modulus m, A and B each get len/m recipients and the
// remainder gets the rest (25/25/50 at the default modulus of 4).
//
// Assignment is a pure function of the campaign ID and the set itself:
// recipients are ranked by a stable hash of (campaign_id, email) and the
// ranked list is sliced. Repeated or concurrent computation over the same
// set always agrees, so a crashed dispatch can be re-run safely.
func AssignCohorts(campaignID string, emails []string, modulus int) map[string]string {
	ranked := make([]string, len(emails))
	copy(ranked, emails)

	sort.Slice(ranked, func(i, j int) bool {
		hi, hj := cohortKey(campaignID, ranked[i]), cohortKey(campaignID, ranked[j])
		if hi != hj {
			return hi < hj
		}
		return ranked[i] < ranked[j]
	})

	n := len(ranked) / modulus
	cohorts := make(map[string]string, len(ranked))
	for i, email := range ranked {
		switch {
		case i < n:
			cohorts[email] = models.CohortA
		case i < 2*n:
			cohorts[email] = models.CohortB
		default:
			cohorts[email] = models.CohortRemainder
		}
	}
	return cohorts
}

func cohortKey(campaignID, email string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(campaignID))
	h.Write([]byte{'|'})
	h.Write([]byte(email))
	return h.Sum64()
}
