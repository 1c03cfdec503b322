package abtest

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/jeylabbb/newsletter-hq/internal/models"
)

func emailSet(n int) []string {
	emails := make([]string, n)
	for i := range emails {
		emails[i] = fmt.Sprintf("user%03d@example.com", i)
	}
	return emails
}

func TestAssignCohortsDeterministic(t *testing.T) {
	emails := emailSet(37)

	first := AssignCohorts("campaign-1", emails, 4)
	for i := 0; i < 10; i++ {
		again := AssignCohorts("campaign-1", emails, 4)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("assignment changed between runs: %v vs %v", first, again)
		}
	}
}

func TestAssignCohortsProportions(t *testing.T) {
	for _, n := range []int{4, 7, 10, 37, 100, 1000} {
		cohorts := AssignCohorts("campaign-1", emailSet(n), 4)

		counts := map[string]int{}
		for _, c := range cohorts {
			counts[c]++
		}

		quarter := n / 4
		if counts[models.CohortA] != quarter {
			t.Errorf("n=%d: expected %d in cohort A, got %d", n, quarter, counts[models.CohortA])
		}
		if counts[models.CohortB] != quarter {
			t.Errorf("n=%d: expected %d in cohort B, got %d", n, quarter, counts[models.CohortB])
		}
		if got := counts[models.CohortRemainder]; got != n-2*quarter {
			t.Errorf("n=%d: expected %d in remainder, got %d", n, n-2*quarter, got)
		}
	}
}

func TestAssignCohortsHundredSplit(t *testing.T) {
	cohorts := AssignCohorts("campaign-1", emailSet(100), 4)

	counts := map[string]int{}
	for _, c := range cohorts {
		counts[c]++
	}

	if counts[models.CohortA] != 25 || counts[models.CohortB] != 25 || counts[models.CohortRemainder] != 50 {
		t.Errorf("expected 25/25/50 split, got %v", counts)
	}
}

func TestAssignCohortsVariesByCampaign(t *testing.T) {
	emails := emailSet(200)

	one := AssignCohorts("campaign-1", emails, 4)
	two := AssignCohorts("campaign-2", emails, 4)

	if reflect.DeepEqual(one, two) {
		t.Error("expected different campaigns to shuffle cohorts differently")
	}
}

func TestAssignCohortsSmallSet(t *testing.T) {
	// Fewer recipients than the modulus: everything lands in the remainder
	// and the tie-break rule decides the subject.
	cohorts := AssignCohorts("campaign-1", emailSet(3), 4)
	for email, c := range cohorts {
		if c != models.CohortRemainder {
			t.Errorf("expected %s in remainder, got %s", email, c)
		}
	}
}
