// Package worker holds the worker binary's configuration surface (the
// control-plane endpoint, the local database path, loop timing, and the
// telemetry settings) and the recipe runner that executes claimed
// triggers.
package worker
