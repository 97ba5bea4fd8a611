// Package core provides the import engine for CSV files.
//
// The package holds all import logic independent of storage and transport.
// Persistence, permissions, schemas, file contents and the background queue
// are reached through the interfaces in collaborators.go, so the engine can
// be driven by the HTTP server, the CLI, the worker or tests alike.
//
// # Architecture
//
//   - [Tokenizer]: splits text into rows with a configurable separator and
//     quote character. Quoted cells may contain separators and newlines.
//   - [Coercer]: turns cell text into typed values (dates, numbers, flags,
//     JSON) using the run's formats and timezone.
//   - [ParsePersonName]: splits a full name by a name-order format.
//   - [MultiValueMerger]: builds the email and phone lists of a record from
//     primary and alternate columns.
//   - [RowMapper]: builds a candidate record from a row.
//   - [DuplicateResolver]: picks create or update, flags duplicates and saves.
//   - [Importer]: runs, resumes and reverts imports and keeps the outcome log.
//
// # Runs
//
// A run goes through these statuses:
//
//	Standby     created in manual mode, waits for Resume
//	Pending     queued for the worker in idle mode
//	In Process  rows are being imported
//	Complete    all rows were processed
//	Failed      the loop stopped on an error
//
// Every imported row appends a [RowOutcome] and advances the run's
// checkpoint in one step. Resume with fromLastIndex skips rows up to the
// checkpoint, so an interrupted run can continue without creating the
// same records twice.
//
// # Error Handling
//
// Operations return wrapped sentinel errors ([ErrNotFound],
// [ErrPermissionDenied], [ErrInvalidRequest]). Technical errors are mapped
// to user-friendly messages using [MapError].
package core
