package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/tempest-orch/tempest/pkg/membership"
	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/telemetry"
)

// DefaultJanitorInterval is how often groups are scanned for redundant
// include and exclude entries.
const DefaultJanitorInterval = 1 * time.Minute

// GroupSource is the store surface the group janitor needs.
type GroupSource interface {
	ListGroups(ctx context.Context) ([]*model.Group, error)
	ListComponents(ctx context.Context) ([]*model.Component, error)
	UpdateGroup(ctx context.Context, g *model.Group) error
}

// GroupJanitor normalizes group include and exclude lists in the
// background. Manual membership edits accumulate entries that the query
// later subsumes or that reference deleted components; the janitor
// prunes them without changing any group's member set.
type GroupJanitor struct {
	store GroupSource
	log   *telemetry.Logger

	dirty []*model.Group
}

// NewGroupJanitor creates a janitor over the given store.
func NewGroupJanitor(store GroupSource, log *telemetry.Logger) *GroupJanitor {
	return &GroupJanitor{
		store: store,
		log:   log.NewComponentLogger("group-janitor"),
	}
}

// Name implements executor.Worker.
func (j *GroupJanitor) Name() string { return "group-janitor" }

// Poll implements executor.Worker. It computes the normalized lists for
// every group and remembers the ones that need rewriting.
func (j *GroupJanitor) Poll(ctx context.Context) (bool, error) {
	groups, err := j.store.ListGroups(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list groups: %w", err)
	}

	population, err := j.store.ListComponents(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list components: %w", err)
	}

	j.dirty = j.dirty[:0]
	for _, g := range groups {
		include, exclude, changed, err := membership.Normalize(g, population)
		if err != nil {
			j.log.WithField("group", g.Name).WithError(err).Warn("skipping group with invalid query")
			continue
		}
		if !changed {
			continue
		}
		g.Include = include
		g.Exclude = exclude
		j.dirty = append(j.dirty, g)
	}
	return len(j.dirty) > 0, nil
}

// Run implements executor.Worker.
func (j *GroupJanitor) Run(ctx context.Context) error {
	dirty := j.dirty
	j.dirty = nil

	for _, g := range dirty {
		if err := j.store.UpdateGroup(ctx, g); err != nil {
			if model.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("failed to normalize group %s: %w", g.Name, err)
		}
		j.log.WithField("group", g.Name).Info("group membership lists normalized")
	}
	return nil
}
