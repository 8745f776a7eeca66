// Package model defines the control-plane entities: components, groups,
// services, applications, component links, recipes and triggers, together
// with the trigger state machine and the classified error taxonomy shared
// by the store and the engines.
package model
