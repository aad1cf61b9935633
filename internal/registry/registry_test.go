package registry

import (
	"errors"
	"testing"
)

func twoTierCatalog() []Tier {
	return []Tier{
		{
			Rank: 1,
			Name: "premium",
			Providers: []Provider{
				{ID: "alpha", Model: "alpha-large"},
				{ID: "beta", Model: "beta-large"},
			},
			QualityThreshold: 0.8,
			MaxRetries:       2,
		},
		{
			Rank: 2,
			Name: "standard",
			Providers: []Provider{
				{ID: "gamma", Model: "gamma-small"},
			},
			QualityThreshold: 0.6,
			MaxRetries:       2,
		},
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for empty tier list")
	}

	dup := twoTierCatalog()
	dup[1].Rank = 1
	if _, err := New(dup); err == nil {
		t.Error("expected error for duplicate tier rank")
	}

	empty := twoTierCatalog()
	empty[1].Providers = nil
	if _, err := New(empty); err == nil {
		t.Error("expected error for tier without providers")
	}
}

func TestFindProvider_DuplicateIDFirstMatchWins(t *testing.T) {
	tiers := twoTierCatalog()
	// Same id in a later tier with a different model: lookups must resolve
	// to the lowest-rank occurrence.
	tiers[1].Providers = append(tiers[1].Providers, Provider{ID: "alpha", Model: "alpha-small"})

	r, err := New(tiers)
	if err != nil {
		t.Fatalf("New with duplicate provider id must not fail: %v", err)
	}

	p, rank, err := r.FindProvider("alpha")
	if err != nil {
		t.Fatalf("FindProvider: %v", err)
	}
	if rank != 1 {
		t.Errorf("rank: got %d, want 1", rank)
	}
	if p.Model != "alpha-large" {
		t.Errorf("Model: got %q, want the tier-1 occurrence %q", p.Model, "alpha-large")
	}
}

func TestFindProvider_Unknown(t *testing.T) {
	r, err := New(twoTierCatalog())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, _, err = r.FindProvider("ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReorderTier_Permutation(t *testing.T) {
	r, err := New(twoTierCatalog())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := r.ReorderTier(1, []string{"beta", "alpha"}); err != nil {
		t.Fatalf("ReorderTier: %v", err)
	}

	got := r.ProvidersIn(1)
	if got[0].ID != "beta" || got[1].ID != "alpha" {
		t.Errorf("order after reorder: got [%s %s], want [beta alpha]", got[0].ID, got[1].ID)
	}
}

func TestReorderTier_RejectsNonPermutations(t *testing.T) {
	r, err := New(twoTierCatalog())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name string
		rank int
		ids  []string
	}{
		{"wrong count", 1, []string{"alpha"}},
		{"non-member", 1, []string{"alpha", "gamma"}},
		{"repeated id", 1, []string{"alpha", "alpha"}},
		{"unknown rank", 9, []string{"alpha", "beta"}},
	}

	for _, tt := range tests {
		if err := r.ReorderTier(tt.rank, tt.ids); err == nil {
			t.Errorf("%s: expected rejection for ids %v on rank %d", tt.name, tt.ids, tt.rank)
		}
	}

	// Membership and order must be untouched after rejections.
	got := r.ProvidersIn(1)
	if len(got) != 2 || got[0].ID != "alpha" || got[1].ID != "beta" {
		t.Errorf("tier 1 changed after rejected reorders: %v", got)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	r, err := New(twoTierCatalog())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tiers := r.Tiers()
	tiers[0].Providers[0].ID = "mutated"

	p, _, err := r.FindProvider("alpha")
	if err != nil {
		t.Fatalf("FindProvider after external mutation: %v", err)
	}
	if p.ID != "alpha" {
		t.Errorf("catalog mutated through returned copy: got %q", p.ID)
	}
}
