package membership

import (
	"sort"

	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/query"
)

// Normalize prunes a group's include and exclude lists against the
// current population. Identifiers of components that no longer exist
// are dropped from both lists. Include entries already matched by the
// query are redundant and removed, as are include entries shadowed by
// an exclude, together with the exclude entry shadowing them. Exclude
// entries are kept only while they still override a query match.
// Membership is unchanged by normalization.
func Normalize(g *model.Group, population []*model.Component) (include, exclude []string, changed bool, err error) {
	pred := query.MatchNone()
	if len(g.Query) > 0 {
		parsed, perr := query.Parse(g.Query)
		if perr != nil {
			return nil, nil, false, perr
		}
		pred = parsed
	}

	present := make(map[string]bool, len(population))
	matched := make(map[string]bool)
	for _, c := range population {
		present[c.ID] = true
		if pred.Match(c) {
			matched[c.ID] = true
		}
	}

	excluded := make(map[string]bool, len(g.Exclude))
	for _, id := range g.Exclude {
		excluded[id] = true
	}

	included := make(map[string]bool, len(g.Include))
	include = make([]string, 0, len(g.Include))
	for _, id := range g.Include {
		if !present[id] || matched[id] || excluded[id] || included[id] {
			continue
		}
		included[id] = true
		include = append(include, id)
	}

	kept := make(map[string]bool, len(g.Exclude))
	exclude = make([]string, 0, len(g.Exclude))
	for _, id := range g.Exclude {
		if !present[id] || !matched[id] || kept[id] {
			continue
		}
		kept[id] = true
		exclude = append(exclude, id)
	}

	sort.Strings(include)
	sort.Strings(exclude)
	changed = !equalLists(include, g.Include) || !equalLists(exclude, g.Exclude)
	return include, exclude, changed, nil
}

func equalLists(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
