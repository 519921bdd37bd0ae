// Package discovery is broker's Reference Discovery (spec.md §4.6): it
// reconciles import-toggle flips, lists a remote's references via the
// Git Adapter, applies the configured policy filter, and drops
// already-scanned references.
package discovery

import (
	"context"
	"fmt"
	"sort"

	"github.com/gobwas/glob"

	"github.com/fossas/broker/internal/config"
	"github.com/fossas/broker/internal/gitadapter"
	"github.com/fossas/broker/internal/refstore"
	"github.com/fossas/broker/internal/types"
)

// Lister is the subset of *gitadapter.Adapter Discovery depends on.
type Lister interface {
	ListRefs(ctx context.Context, integrationID, remote string, auth config.AuthDescriptor) ([]types.Reference, error)
}

// Discovery runs the reference discovery algorithm for one integration.
type Discovery struct {
	store *refstore.Store
	git   Lister
}

// New returns a Discovery backed by store and git.
func New(store *refstore.Store, git Lister) *Discovery {
	return &Discovery{store: store, git: git}
}

// Run executes the five-step algorithm of spec.md §4.6 and returns the
// surviving references in deterministic order (tags before branches,
// then lexicographic by name).
func (d *Discovery) Run(ctx context.Context, in config.Integration) ([]types.Reference, error) {
	if err := d.reconcileToggles(ctx, in); err != nil {
		return nil, fmt.Errorf("discovery: reconcile toggles: %w", err)
	}

	refs, err := d.git.ListRefs(ctx, in.ID, in.Remote, in.Auth)
	if err != nil {
		return nil, err
	}

	filtered := policyFilter(refs, in)

	survivors := make([]types.Reference, 0, len(filtered))
	for _, ref := range filtered {
		scanned, err := d.store.HasScanned(ctx, in.ID, ref.Kind, ref.Name, ref.Revision)
		if err != nil {
			return nil, fmt.Errorf("discovery: has_scanned: %w", err)
		}
		if !scanned {
			survivors = append(survivors, ref)
		}
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		if survivors[i].Kind != survivors[j].Kind {
			return survivors[i].Kind == types.KindTag // tags before branches
		}
		return survivors[i].Name < survivors[j].Name
	})

	return survivors, nil
}

// reconcileToggles implements step 1 of spec.md §4.6: forget scan
// history for any kind whose import flag flipped true->false, then
// persist the current toggle state for next cycle's comparison.
func (d *Discovery) reconcileToggles(ctx context.Context, in config.Integration) error {
	importBranches := in.ImportBranchesOrDefault()
	importTags := in.ImportTagsOrDefault()

	prev, had, err := d.store.PreviousToggles(ctx, in.ID)
	if err != nil {
		return err
	}
	if had {
		if prev.ImportBranches && !importBranches {
			if err := d.store.ForgetKind(ctx, in.ID, types.KindBranch); err != nil {
				return err
			}
		}
		if prev.ImportTags && !importTags {
			if err := d.store.ForgetKind(ctx, in.ID, types.KindTag); err != nil {
				return err
			}
		}
	}

	return d.store.SaveToggles(ctx, in.ID, importBranches, importTags)
}

// policyFilter implements step 3 of spec.md §4.6.
func policyFilter(refs []types.Reference, in config.Integration) []types.Reference {
	importBranches := in.ImportBranchesOrDefault()
	importTags := in.ImportTagsOrDefault()

	var branches, tags []types.Reference
	for _, ref := range refs {
		switch ref.Kind {
		case types.KindBranch:
			branches = append(branches, ref)
		case types.KindTag:
			tags = append(tags, ref)
		}
	}

	var out []types.Reference
	if importTags {
		out = append(out, tags...)
	}
	if importBranches {
		out = append(out, watchedBranches(branches, in.WatchedBranches)...)
	}
	return out
}

// watchedBranches computes the effective watched set for branches, per
// spec.md §4.6 step 3. Patterns match a branch's entire short name as a
// flat string: no separator is given to glob.Compile, so "*" crosses
// "/" the way spec.md §4.6 requires ("no path-segment semantics").
func watchedBranches(branches []types.Reference, patterns []string) []types.Reference {
	if len(patterns) > 0 {
		globs := make([]glob.Glob, 0, len(patterns))
		for _, pattern := range patterns {
			if g, err := glob.Compile(pattern); err == nil {
				globs = append(globs, g)
			}
		}

		var kept []types.Reference
		for _, ref := range branches {
			short := ref.ShortName()
			for _, g := range globs {
				if g.Match(short) {
					kept = append(kept, ref)
					break
				}
			}
		}
		return kept
	}

	byName := make(map[string]types.Reference, len(branches))
	for _, ref := range branches {
		byName[ref.ShortName()] = ref
	}
	if ref, ok := byName["main"]; ok {
		return []types.Reference{ref}
	}
	if ref, ok := byName["master"]; ok {
		return []types.Reference{ref}
	}
	return nil
}
