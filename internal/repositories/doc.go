// Package repositories implements SQLite persistence for the upload engine.
//
// Key Implementations:
//   - [LedgerRepository] : the durable upload ledger, one row per unit identity, read on startup to resume interrupted uploads
//   - [QuotaRepository] : the daily quota counter and the log of granted operations
//
// Schemas live in the embedded migrations of package shared; run [shared.RunMigrations] before use.
package repositories
