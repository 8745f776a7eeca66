// Package reaper contains the maintenance workers that run alongside
// trigger execution: the stale trigger reaper, which returns abandoned
// running triggers to the pending pool, and the group janitor, which
// prunes redundant include and exclude entries from groups. Both are
// ordinary executor workers driven by the same polling loop.
package reaper
