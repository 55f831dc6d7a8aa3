// Package saga runs the spoke side of the data asset creation workflow.
//
// Dispatchers are invoked by the coordinator with a callback token. Each one
// creates or updates its external job, persists the task context and starts
// the job, leaving the token parked in the stored context. Completers are
// driven by the job services' state change events: they recover the context
// from the job's correlation tags, fold the outcome in, and spend the token.
// FailureTask compensates and reports a failed saga back to the hub.
package saga
