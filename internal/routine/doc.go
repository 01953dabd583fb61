// Package routine provides the periodic-task primitive that drives every
// background behavior in toybot.
//
// # Overview
//
// A Routine repeatedly invokes a caller-supplied unit of work on a fixed
// interval (a summed duration) or at a daily wall-clock time. It owns its own
// timing state, iteration counter and lifecycle, and exposes optional hooks
// that run before the first iteration, after the final one, and on each
// iteration error.
//
// # Lifecycle
//
// Start launches the run loop on its own goroutine and returns a Handle the
// caller may wait on. Stop requests a graceful exit: the routine finishes its
// current wait, runs one final iteration, then completes. Cancel exits at the
// next wait without running anything further. Restart cancels the live loop
// and starts a fresh one with counters reset.
//
// # Concurrency
//
// One goroutine per routine; routines never share state. The only blocking
// point in the loop is the interval wait, which also observes stop, cancel and
// context cancellation. A unit of work that is already executing always runs
// to completion; the scheduler imposes no timeout on it. Callers needing
// bounded execution must enforce it inside the unit of work.
//
// # Manager
//
// Manager is a registry over live routines for bulk stop/cancel. It holds
// non-owning references only: stopping through the manager delegates to each
// routine's own lifecycle methods. There is no implicit global registry;
// callers pass the manager explicitly.
package routine
