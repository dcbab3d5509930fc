// Package pipeline runs an incident through the four response stages
// (triage, investigation, resolution, communication) and records a trace
// of each run.
//
// Every stage makes exactly one text-generation call. Stage failures are
// reported as tagged results rather than returned errors; the Orchestrator
// aborts a run on the first failed substantive stage and leaves already
// applied store and session mutations in place.
package pipeline
