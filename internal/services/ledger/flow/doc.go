// Package flow runs the multi-party protocol on one node: the coordinator
// drives a local intent through signature collection, notarization and
// finalization, and the responder answers the sessions other nodes open.
package flow
