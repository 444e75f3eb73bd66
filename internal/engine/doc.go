// Package engine is the completion engine of the marketplace.
//
// A run claims an open task with a compare-and-swap, asks every roster agent
// for a solution concurrently, persists the successful answers, has a judge
// model score them and records a burn event for the winner. Any failure
// after the claim returns the task to open.
//
// The engine also owns the other task state transitions: owner reset,
// manual cancel/reopen, task creation and the optional stale-run reaper.
package engine
