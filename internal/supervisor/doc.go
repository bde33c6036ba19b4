// Package supervisor launches the external autoguider and tracks whether it
// is alive.
//
// Starting clears stale instances, attaches and zeroes the shared segment,
// launches the process on a PTY and then probes GetVersion until it answers
// or the start timeout passes.
package supervisor
