package rbac

import (
	"context"
	"sort"
	"strings"

	"github.com/automata-backoffice/backoffice/internal/shared"
)

// Resolver looks up permissions by name.
type Resolver interface {
	Resolve(ctx context.Context, name string) (Permission, error)
}

// Engine enforces maker/checker separation over candidate permission sets.
type Engine struct {
	catalog Resolver
}

// NewEngine constructs an Engine.
func NewEngine(catalog Resolver) *Engine {
	return &Engine{catalog: catalog}
}

// Validate resolves names and returns the materialised permission set ordered by name.
// A set holding both X and approve-X fails with MakerCheckerConflict. Any approve-* entry
// pulls in treat-requests when the caller did not ask for it.
func (e *Engine) Validate(ctx context.Context, names []string) ([]Permission, error) {
	ordered := CleanNames(names)
	selected := make(map[string]struct{}, len(ordered))
	for _, n := range ordered {
		selected[n] = struct{}{}
	}

	resolved := make(map[string]Permission, len(ordered)+1)
	treatRequestsAdded := false
	for _, name := range ordered {
		perm, err := e.catalog.Resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		resolved[perm.Name] = perm

		maker, ok := shared.MakerCounterpart(name)
		if !ok {
			continue
		}
		if _, conflict := selected[maker]; conflict {
			return nil, shared.MakerCheckerConflict(name)
		}
		if _, asked := selected[shared.PermTreatRequests]; !asked && !treatRequestsAdded {
			treat, err := e.catalog.Resolve(ctx, shared.PermTreatRequests)
			if err != nil {
				return nil, err
			}
			resolved[treat.Name] = treat
			treatRequestsAdded = true
		}
	}

	out := make([]Permission, 0, len(resolved))
	for _, p := range resolved {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CleanNames trims names and drops blanks and repeats, keeping first-seen order.
func CleanNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Verify runs Validate and discards the resolved set.
func (e *Engine) Verify(ctx context.Context, names []string) error {
	_, err := e.Validate(ctx, names)
	return err
}
