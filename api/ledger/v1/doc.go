// Package ledgerv1 declares the covenant.ledger.v1 wire contract: the
// peer-to-peer SessionService and the client-facing LedgerService. Messages
// travel as deterministic CBOR.
package ledgerv1
