// Package remote is the call layer the dispatcher drives: one synchronous request per
// attempt against a remote step-execution service.
//
// Failures are not returned as Go errors from Execute. Every call produces a Response
// carrying either the remote's ExecutionStatus or a tagged Fault:
//   - Timeout: the call exceeded the per-call timeout
//   - Concurrent: several underlying failures surfaced together (multi-error)
//   - Transport: the endpoint answered with a transport-level error (status code + text)
//   - Generic: anything else, with the raw message
//
// Each dispatch channel owns its own Client (see Factory) and never shares it.
package remote
