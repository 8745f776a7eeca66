// Package membership computes group membership: the components matched
// by the group's query, united with the include list, minus the exclude
// list. Exclude is applied last and wins over both.
package membership

import (
	"context"
	"sort"

	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/query"
)

// Source provides the inputs for membership evaluation.
type Source interface {
	GetGroup(ctx context.Context, name string) (*model.Group, error)
	ListComponents(ctx context.Context) ([]*model.Component, error)
}

// Engine evaluates group membership on demand. Groups are not
// materialized views; every resolution re-evaluates against the current
// component population.
type Engine struct {
	source Source
}

// NewEngine creates a membership engine backed by the given source.
func NewEngine(source Source) *Engine {
	return &Engine{source: source}
}

// Members resolves the member set of the named group against the
// current component population. The result is sorted, so unchanged
// inputs always produce an identical slice.
func (e *Engine) Members(ctx context.Context, group string) ([]string, error) {
	g, err := e.source.GetGroup(ctx, group)
	if err != nil {
		return nil, err
	}

	population, err := e.source.ListComponents(ctx)
	if err != nil {
		return nil, err
	}

	return Evaluate(g, population)
}

// Evaluate computes (match(query, population) ∪ include) \ exclude.
// An empty query matches nothing: such a group holds only its include
// list. The group's query is validated at the store boundary, so a
// parse failure here means the group bypassed the store.
func Evaluate(g *model.Group, population []*model.Component) ([]string, error) {
	pred := query.MatchNone()
	if len(g.Query) > 0 {
		parsed, err := query.Parse(g.Query)
		if err != nil {
			return nil, err
		}
		pred = parsed
	}

	present := make(map[string]bool, len(population))
	members := make(map[string]bool)

	for _, c := range population {
		present[c.ID] = true
		if pred.Match(c) {
			members[c.ID] = true
		}
	}

	// Include forces existing components in; unknown identifiers are
	// ignored since there is no component to be a member.
	for _, id := range g.Include {
		if present[id] {
			members[id] = true
		}
	}

	// Exclude always wins.
	for _, id := range g.Exclude {
		delete(members, id)
	}

	result := make([]string, 0, len(members))
	for id := range members {
		result = append(result, id)
	}
	sort.Strings(result)
	return result, nil
}
