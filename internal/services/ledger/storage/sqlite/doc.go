// Package sqlite implements the ledger record store and delivery outbox over
// a single SQLite file per node.
package sqlite
