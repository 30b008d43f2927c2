// Package storage defines the persistence contracts a participant node needs:
// the versioned record store and the finality redelivery outbox.
package storage
