// Package transaction defines the intent callers submit, the transaction a
// proposal turns into, and the phases a transaction moves through on its way
// to finality.
//
// A transaction's ID is the hash of its canonical body. Signatures and the
// authority signature sit outside the body: they are appended over time and
// never change what the ID commits to.
package transaction
