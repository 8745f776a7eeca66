// Package executor provides the polling control loop that worker
// processes embed to consume asynchronous work.
//
// A Worker supplies two operations: Poll, a single non-blocking check
// for available work, and Run, which executes one unit. The Loop
// supplies the rest: it waits by polling with an inter-attempt delay,
// runs one unit, and absorbs any failure through an overridable error
// hook followed by a configurable backoff. A single unit's failure
// never terminates the loop; only context cancellation does, checked
// cooperatively at loop boundaries and never forced mid-run.
//
// TriggerExecutor is the concrete worker for trigger execution: it
// claims pending triggers with a compare-and-swap transition, maintains
// the heartbeat while the handler runs, and records the done or error
// outcome exactly once.
package executor
