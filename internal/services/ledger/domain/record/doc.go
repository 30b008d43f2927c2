// Package record defines the versioned, multi-party records tracked by the
// ledger and the references that point at one exact version of a record.
//
// A record's ID is stable across its whole version chain. Each version is
// addressed by a Reference whose Version token is derived from the
// transaction that produced it, so two versions with identical content never
// share a reference.
package record
