// Package dispatch runs one multi-channel, deadline-bounded pass of remote calls.
//
// A dispatch partitions the requested total work across C' channels (see package
// partition), runs one goroutine per channel, waits for every channel to finish and
// consolidates the per-channel tallies into a single Report.
//
// Channel loop:
//   - Before each attempt the channel stops if the deadline has passed, if the dispatch
//     context was cancelled, or if it has issued its quota.
//   - Attempts within a channel are strictly serial. A call in flight is never
//     cancelled by the dispatcher; it ends on its own per-call timeout.
//   - Each channel owns its remote.Client; nothing but the recorder, the telemetry sink
//     and the dispatcher totals is shared between channels.
//
// Outcome handling:
//   - Timeout, Transport, Concurrent and Generic faults, a non-success remote status,
//     and a panic from the client are all recorded and demote the channel to
//     PartialError. None of them stops the loop or a sibling channel.
//   - Failed attempts are always written to the audit log; successful ones only when
//     Request.AuditLog is set.
//   - Telemetry and history failures go to the audit error sink and are otherwise
//     ignored.
//
// Overall status:
//   - Success when no channel reported a failure (including zero attempts overall)
//   - PartialError when any channel reported a failure
//   - AllError when at least one attempt was issued and none succeeded
//
// There is no retry: one Run is one best-effort pass.
package dispatch
