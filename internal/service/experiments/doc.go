// Package experiments runs tasks over dataset snapshots and scores the results.
//
// Run pins a new experiment to the snapshot's version and invokes the task once per
// (example, repetition). Invocations fan out over a bounded worker group; each
// worker hands an immutable run record to a single collector, which is the only
// writer. Task failures, timeouts, panics and cancellations are stored on the run
// and never abort the experiment.
//
// Evaluate appends exactly one annotation per run per call. Prior annotations are
// never touched, so repeated passes accumulate.
package experiments
