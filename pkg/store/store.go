package store

import (
	"context"
	"time"

	"github.com/tempest-orch/tempest/pkg/model"
)

// DeletionPolicy is the behavior applied to a dependent relationship
// when the referenced entity is deleted.
type DeletionPolicy string

const (
	// DeletionPolicyCascade deletes the dependents with the entity.
	DeletionPolicyCascade DeletionPolicy = "cascade"

	// DeletionPolicyClearReference nulls the dependent's reference
	// instead of deleting it.
	DeletionPolicyClearReference DeletionPolicy = "clear-reference"

	// DeletionPolicyRestrict refuses the deletion while dependents
	// exist.
	DeletionPolicyRestrict DeletionPolicy = "restrict"
)

// TriggerFilter narrows trigger listings.
type TriggerFilter struct {
	// Name filters by trigger name, if non-empty.
	Name string

	// Status filters by lifecycle state, if non-empty.
	Status model.TriggerStatus

	// Limit caps the number of results; 0 means no limit.
	Limit int
}

// Store is the persistence contract for the control-plane entities.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	// Component operations
	CreateComponent(ctx context.Context, c *model.Component) error
	GetComponent(ctx context.Context, id string) (*model.Component, error)
	UpdateComponent(ctx context.Context, c *model.Component) error
	DeleteComponent(ctx context.Context, id string) error
	ListComponents(ctx context.Context) ([]*model.Component, error)

	// Group operations
	CreateGroup(ctx context.Context, g *model.Group) error
	GetGroup(ctx context.Context, name string) (*model.Group, error)
	UpdateGroup(ctx context.Context, g *model.Group) error
	DeleteGroup(ctx context.Context, name string) error
	ListGroups(ctx context.Context) ([]*model.Group, error)

	// AddGroupMembers merges identifiers into the group's include and
	// exclude lists, skipping identifiers already present.
	AddGroupMembers(ctx context.Context, name string, include, exclude []string) (*model.Group, error)

	// Service operations
	CreateService(ctx context.Context, s *model.Service) error
	GetService(ctx context.Context, group, name string) (*model.Service, error)
	ListServices(ctx context.Context, group string) ([]*model.Service, error)
	DeleteService(ctx context.Context, group, name string) error

	// Application operations
	CreateApplication(ctx context.Context, a *model.Application) error
	GetApplication(ctx context.Context, name string) (*model.Application, error)
	DeleteApplication(ctx context.Context, name string) error
	ListApplications(ctx context.Context) ([]*model.Application, error)

	// Recipe operations
	CreateRecipe(ctx context.Context, r *model.Recipe) error
	GetRecipe(ctx context.Context, name string) (*model.Recipe, error)
	UpdateRecipe(ctx context.Context, r *model.Recipe) error
	DeleteRecipe(ctx context.Context, name string) error
	ListRecipes(ctx context.Context) ([]*model.Recipe, error)

	// Trigger lifecycle
	CreateTrigger(ctx context.Context, t *model.Trigger) error
	GetTrigger(ctx context.Context, id string) (*model.Trigger, error)
	ListTriggers(ctx context.Context, filter TriggerFilter) ([]*model.Trigger, error)

	// ClaimTrigger performs the atomic pending-to-running transition.
	// At most one caller wins; losers get a claim-conflict error.
	ClaimTrigger(ctx context.Context, id string) (*model.Trigger, error)

	// HeartbeatTrigger advances the heartbeat of a running trigger.
	HeartbeatTrigger(ctx context.Context, id string) error

	// CompleteTrigger transitions running to done with the result.
	CompleteTrigger(ctx context.Context, id string, result map[string]any) error

	// FailTrigger transitions running to error with a diagnostic result.
	FailTrigger(ctx context.Context, id string, result map[string]any) error

	// ListStaleTriggers returns running triggers whose heartbeat is
	// older than the staleness window.
	ListStaleTriggers(ctx context.Context, window time.Duration) ([]*model.Trigger, error)

	// RecoverStaleTrigger returns an abandoned trigger to pending, or
	// fails it once the retry budget is exhausted. Returns true if the
	// trigger went back to pending.
	RecoverStaleTrigger(ctx context.Context, id string, window time.Duration, maxRetries int) (bool, error)

	// MembershipSnapshot returns the last member set the dispatcher
	// reacted to for the group. Missing snapshots yield an empty set.
	MembershipSnapshot(ctx context.Context, group string) ([]string, error)

	// RecordDispatch atomically creates the triggers produced by one
	// membership-change event and stores the new snapshot. It
	// compares-and-swaps against the snapshot the caller observed the
	// transition from and fails with a claim conflict when another
	// dispatcher already recorded it, so the same transition cannot
	// dispatch twice.
	RecordDispatch(ctx context.Context, group string, previous, members []string, triggers []*model.Trigger) error
}

// Relationship deletion policies evaluated at delete time. Dependents
// are removed or cleared in an order that never leaves a dangling
// reference mid-transaction.
var (
	groupDeletionPolicies = map[string]DeletionPolicy{
		"services":               DeletionPolicyCascade,
		"component_links":        DeletionPolicyCascade,
		"application_components": DeletionPolicyCascade,
		"recipe_references":      DeletionPolicyClearReference,
	}

	applicationDeletionPolicies = map[string]DeletionPolicy{
		"component_links":        DeletionPolicyCascade,
		"application_components": DeletionPolicyCascade,
		"application_expose":     DeletionPolicyCascade,
	}

	serviceDeletionPolicies = map[string]DeletionPolicy{
		"component_links":    DeletionPolicyCascade,
		"application_expose": DeletionPolicyCascade,
	}
)
