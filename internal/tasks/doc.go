// Package tasks runs resumable uploads with real-time progress reporting.
//
// # Upload Session
//
// A [Session] owns one unit's transfer and moves through
//
//	pending → initiating → transferring → verifying → completed
//
// with failed and paused reachable from every non-terminal state:
//   - The session handle is written to the ledger as soon as it is issued, so a crash after initiation is resumable.
//   - Each chunk starts at the committed offset the remote acknowledged. After an ambiguous failure the offset is re-read with a query before anything else is sent.
//   - Checkpoints are written every [SessionConfig.CheckpointEvery] acknowledged chunks and on every state change.
//   - An expired session is discarded and the unit starts over from offset zero.
//   - Repeated protocol anomalies on one session are treated like expiry.
//
// A paused entry keeps its handle and offset. The next run skips initiation and reconciles with a query first.
//
// # Engine
//
// [Engine.Run] plans units (deduped by identity, ordered by name) and runs them on an errgroup bounded by
// [EngineConfig.Concurrency]. The ledger is consulted before anything is sent:
//   - completed and abandoned units are skipped without network calls
//   - failed units are skipped unless [EngineConfig.RetryFailed] is set
//   - entries with a session handle resume
//
// An in-memory active set guarantees a single session per identity.
// Credential rejection halts the run. A daily quota denial pauses the unit and defers the rest.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
// The [ProgressUpdate] struct contains phase, step counters, messages, and a [UnitProgress] for UI rendering.
// Updates use select with default to prevent blocking.
//
// # Cancellation
//
// Waits on the governor and on retry backoff end immediately when the run context is cancelled.
// Requests already in flight get [SessionConfig.GracePeriod] to finish, then the session records a paused checkpoint.
// A grant that was never used is refunded.
package tasks
