// Package audit accumulates dispatch attempt records and writes them to the
// append-only audit log.
//
// One file exists per interface+step pair:
//
//	<dir>/LogsServiceRequester_<interface><step>.csv
//
// Every line has the same fourteen comma-delimited columns:
//
//	parent id, outcome, child id, interface, step-channel, elapsed (HH:MM:SS.cc),
//	timestamp, worker count, io count, channel count, queue size, quota,
//	server name, error detail
//
// The Recorder buffers lines in memory under a mutex and writes them with a single
// append when Flush is called after all channels finish. Lines already written are
// never written again. The ErrorSink bypasses the buffer and appends immediately; it is
// used for internal faults (telemetry, history) that must not wait for the dispatch to end.
package audit
