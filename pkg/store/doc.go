// Package store provides the durable entity store for the control plane.
// It enforces the uniqueness and referential invariants of the data
// model atomically with each mutation, applies per-relationship deletion
// policies, and owns the trigger lifecycle transitions including the
// atomic pending-to-running claim.
package store
