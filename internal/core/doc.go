// Package core provides the business logic for SIGTAP import operations.
//
// SIGTAP is published as a directory of fixed-width text files. Every table
// comes as a pair: "<table>_layout.txt" describes the columns and
// "<table>.txt" holds the data. This package turns such a directory into
// rows in a relational store, independent of any UI or transport layer. It
// is used by the CLI, the HTTP API and the tests without modification.
//
// # Architecture
//
// The package is organized around a handful of concepts:
//
//   - Layouts: [ParseLayout] reads column definitions; [Discover] pairs
//     layout and data files and orders them with [PriorityFor].
//   - Encoding: [EncodingDetector] scores candidate code pages against the
//     first lines of a file; [LineRepairer] fixes double-encoded lines.
//   - Records: [ParseRecord] cuts a decoded line into typed values and
//     [Validator] separates blocking errors from warnings.
//   - Storage: [Reconciler] creates and grows tables, [Upserter] writes
//     rows under a [DuplicatePolicy]. Both talk to a [Store]; the core never
//     builds SQL.
//   - Runs: [Importer] runs one import; [Service] runs imports in the
//     background and streams their progress.
//
// # Import Flow
//
// A run is strictly sequential and never fatal for a single bad line:
//
//  1. [Discover] lists table pairs, sorted so referenced tables load first
//  2. [Reconciler.Ensure] makes every live table a superset of its layout
//  3. Each data file is decoded with its detected encoding and split into lines
//  4. Every line is parsed, validated, shaped for the live schema and written
//     in its own transaction; tables created during the run are bulk loaded
//  5. Progress is broadcast to subscribers via [Service.SubscribeProgress]
//
// Cancellation is checked between tables and between lines. Rows already
// written stay committed.
//
// # Error Handling
//
// Failures are classified with [Classify] and mapped to user-facing
// messages with [MapError]. See the error code reference in
// error_messages.go.
package core
