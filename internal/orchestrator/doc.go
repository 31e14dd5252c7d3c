// Package orchestrator drives a workflow through the PREVEC phases.
//
// # State machine
//
// A workflow runs the phases active at its scale:
//
//	QUICK   E V
//	SMALL   P E V
//	MEDIUM  P R E V
//	LARGE   P R E V C
//
// Advance completes the current phase and starts the next one. Before
// moving, the built-in checks selected by GatesConfig run, followed by the
// configured gate definitions for the "from->to" transition. A failed gate
// returns a *GateError and the state on disk is left as it was. Advancing
// past the last active phase completes the workflow.
//
// # Execution
//
// Executor.RunPhase runs the current phase's recommended agents. It hands
// them a budgeted slice of the context manifold, records each result as a
// run and a manifold entry, and for Validation scores the results and
// loops back to Execution while the score is below the minimum and loops
// remain.
//
// Every operation is load, mutate, save on the whole state document. One
// orchestrator per project directory is assumed.
package orchestrator
