package resolver

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/jeylabbb/newsletter-hq/internal/metrics"
)

type fakeGroupStore struct {
	members map[string][]string
	err     error
}

func (f *fakeGroupStore) Members(groupID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.members[groupID], nil
}

func newTestResolver(groups *fakeGroupStore) *Resolver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(groups, metrics.New(), logger)
}

func TestResolveDedupAndNormalize(t *testing.T) {
	r := newTestResolver(&fakeGroupStore{})

	resolved, err := r.Resolve(AddressingSpec{
		ExplicitEmails: []string{"a@x.com", "a@x.com"},
		ManualEmails:   "A@X.com ",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	want := []string{"a@x.com"}
	if !reflect.DeepEqual(resolved, want) {
		t.Errorf("expected %v, got %v", want, resolved)
	}
}

func TestResolveUnion(t *testing.T) {
	groups := &fakeGroupStore{members: map[string][]string{
		"g1": {"one@example.com", "two@example.com"},
		"g2": {"two@example.com", "three@example.com"},
	}}
	r := newTestResolver(groups)

	resolved, err := r.Resolve(AddressingSpec{
		GroupIDs:       []string{"g1", "g2"},
		ExplicitEmails: []string{"four@example.com"},
		ManualEmails:   "five@example.com, six@example.com; one@example.com",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	want := []string{
		"five@example.com", "four@example.com", "one@example.com",
		"six@example.com", "three@example.com", "two@example.com",
	}
	if !reflect.DeepEqual(resolved, want) {
		t.Errorf("expected %v, got %v", want, resolved)
	}
}

func TestResolveDropsInvalid(t *testing.T) {
	r := newTestResolver(&fakeGroupStore{})

	resolved, err := r.Resolve(AddressingSpec{
		ManualEmails: "good@example.com not-an-email @nope bare@nodot",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	want := []string{"good@example.com"}
	if !reflect.DeepEqual(resolved, want) {
		t.Errorf("expected %v, got %v", want, resolved)
	}
}

func TestResolveGroupStoreError(t *testing.T) {
	r := newTestResolver(&fakeGroupStore{err: errors.New("store down")})

	if _, err := r.Resolve(AddressingSpec{GroupIDs: []string{"g1"}}); err == nil {
		t.Error("expected error from group store")
	}
}

func TestValidAddress(t *testing.T) {
	valid := []string{"a@x.com", "first.last@sub.example.org", "x+tag@example.io"}
	for _, email := range valid {
		if !ValidAddress(email) {
			t.Errorf("expected %q to be valid", email)
		}
	}

	invalid := []string{"", "plain", "@x.com", "a@nodot", "Name <a@x.com>", "a b@x.com"}
	for _, email := range invalid {
		if ValidAddress(email) {
			t.Errorf("expected %q to be invalid", email)
		}
	}
}
