package model

import (
	"time"
)

// Protocol is the transport protocol of a service endpoint.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Component is an infrastructure unit (server or process) registered with
// the control plane. Attributes carry arbitrary properties that group
// queries match against.
type Component struct {
	// ID is the unique component identifier (slug).
	ID string `json:"id" validate:"required,slug"`

	// Attributes are the query-matchable properties of the component.
	Attributes map[string]any `json:"attributes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Group is a named dynamic selection of components. Membership is
// (match(query) ∪ include) \ exclude; exclude always wins.
type Group struct {
	// Name is the unique group name (slug).
	Name string `json:"name" validate:"required,slug"`

	// Query is the structured predicate over component attributes.
	// It must deserialize into a predicate document; validated at the
	// store boundary, not at evaluation time.
	Query map[string]any `json:"query,omitempty"`

	// Include lists component identifiers forced into the group.
	Include []string `json:"include,omitempty"`

	// Exclude lists component identifiers forced out of the group.
	// Applied last, takes precedence over query match and include.
	Exclude []string `json:"exclude,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service is a network endpoint exposed by a group. Services are unique
// per (name, group) and are deleted together with their owning group.
type Service struct {
	// Name is the service name (slug), unique within the owning group.
	Name string `json:"name" validate:"required,slug"`

	// Group is the name of the owning group.
	Group string `json:"group" validate:"required,slug"`

	Protocol Protocol `json:"protocol" validate:"required,oneof=tcp udp"`
	Port     int      `json:"port" validate:"required,min=1,max=65535"`
}

// ServiceRef identifies a service by its owning group and name.
type ServiceRef struct {
	Group string `json:"group" validate:"required,slug"`
	Name  string `json:"name" validate:"required,slug"`
}

// Application is a deployable unit composed of component groups, exposing
// a subset of their services.
type Application struct {
	// Name is the unique application name (slug).
	Name string `json:"name" validate:"required,slug"`

	// Components are the names of the member groups.
	Components []string `json:"components,omitempty" validate:"dive,slug"`

	// Expose lists the services the application exposes.
	Expose []ServiceRef `json:"expose,omitempty"`

	// Links are the declared dependencies between the application's
	// components and services.
	Links []ComponentLink `json:"links,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ComponentLink declares a dependency from one component group to a
// service, scoped to an owning application. Links are unique per
// (application, from-group, to-service) and cascade-deleted with the
// application, the source group, or the target service.
type ComponentLink struct {
	// Application is the name of the owning application.
	Application string `json:"application" validate:"required,slug"`

	// FromGroup is the source component group.
	FromGroup string `json:"from_group" validate:"required,slug"`

	// ToService is the target service.
	ToService ServiceRef `json:"to_service"`
}

// Recipe is an automation unit: a script plus group-based matching
// criteria that determine when it auto-fires. A recipe with no group
// references is manually triggered only.
type Recipe struct {
	// Name is the unique recipe name (slug).
	Name string `json:"name" validate:"required,slug"`

	// Type is the recipe type tag (slug), naming the engine that runs it.
	Type string `json:"type" validate:"required,slug"`

	// Content is the recipe script.
	Content string `json:"content,omitempty"`

	// Options configure how the recipe runs.
	Options map[string]any `json:"options,omitempty"`

	// Params are substituted into the recipe content.
	Params map[string]any `json:"params,omitempty"`

	// AddTo fires the recipe once per component newly entering the
	// referenced group. Cleared (not cascaded) when the group is deleted.
	AddTo *string `json:"add_to,omitempty" validate:"omitempty,slug"`

	// TargetAllIn fires the recipe when its target set is a subset of
	// the referenced group's membership.
	TargetAllIn *string `json:"target_all_in,omitempty" validate:"omitempty,slug"`

	// TargetAnyOf fires the recipe when its target set intersects the
	// referenced group's membership.
	TargetAnyOf *string `json:"target_any_of,omitempty" validate:"omitempty,slug"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AutoDispatched returns true if the recipe carries at least one group
// reference and is therefore eligible for automatic dispatch.
func (r *Recipe) AutoDispatched() bool {
	return r.AddTo != nil || r.TargetAllIn != nil || r.TargetAnyOf != nil
}
