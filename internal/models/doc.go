// Package models defines the domain entities of the resumable upload engine.
//
// The package contains three groups of types:
//
// 1. Work description: what the engine is asked to upload
//   - [UploadUnit] : a local file plus its opaque [VideoMetadata] and target collection
//
// 2. Runtime state: owned by exactly one session at a time
//   - [UploadSession] : progress of one unit through the [SessionState] machine
//   - [QuotaState] : the daily cost budget consumed so far
//
// 3. Persistent records: written to the ledger and read back on resume
//   - [LedgerEntry] : the durable record of a unit, keyed by its identity
//
// [FailureKind] is the shared error taxonomy every component classifies failures into.
package models
