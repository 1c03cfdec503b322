// Package resolver expands a campaign's addressing spec into a deduplicated
// set of valid recipient addresses.
package resolver

import (
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"

	"github.com/jeylabbb/newsletter-hq/internal/metrics"
)

// GroupStore reads group membership. Membership is resolved lazily at
// resolution time, never cached, so changes between campaign creation and
// send are honored.
type GroupStore interface {
	Members(groupID string) ([]string, error)
}

// AddressingSpec is the campaign's recipient selection: group members,
// explicit addresses and manually entered free text, unioned.
type AddressingSpec struct {
	GroupIDs       []string
	ExplicitEmails []string
	ManualEmails   string
}

type Resolver struct {
	groups  GroupStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(groups GroupStore, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	return &Resolver{
		groups:  groups,
		metrics: m,
		logger:  logger.With("component", "resolver"),
	}
}

// Resolve expands the addressing spec into a sorted, deduplicated list of
// normalized addresses. Invalid manual entries are dropped, not errors;
// each drop is counted.
func (r *Resolver) Resolve(spec AddressingSpec) ([]string, error) {
	seen := make(map[string]struct{})

	for _, groupID := range spec.GroupIDs {
		members, err := r.groups.Members(groupID)
		if err != nil {
			return nil, fmt.Errorf("failed to expand group %s: %w", groupID, err)
		}
		for _, email := range members {
			r.add(seen, email)
		}
	}

	for _, email := range spec.ExplicitEmails {
		r.add(seen, email)
	}

	for _, email := range splitManual(spec.ManualEmails) {
		r.add(seen, email)
	}

	resolved := make([]string, 0, len(seen))
	for email := range seen {
		resolved = append(resolved, email)
	}
	sort.Strings(resolved)

	return resolved, nil
}

func (r *Resolver) add(seen map[string]struct{}, raw string) {
	email := Normalize(raw)
	if email == "" {
		return
	}
	if !ValidAddress(email) {
		r.metrics.InvalidAddressesTotal.Inc()
		r.logger.Debug("dropping invalid address", "address", raw)
		return
	}
	seen[email] = struct{}{}
}

// Normalize lower-cases and trims an address.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidAddress reports whether an address has a plausible mailbox shape.
func ValidAddress(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	// Reject display-name forms and addresses without a domain dot;
	// manual entry is bare addresses only.
	if addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	if at < 1 {
		return false
	}
	return strings.Contains(email[at+1:], ".")
}

// splitManual tokenizes free-text manual input on commas, semicolons and
// whitespace.
func splitManual(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n', '\r':
			return true
		}
		return false
	})
}
