// Package timeouts defines shared timeout constants used across services.
// Centralizing these values keeps the proposer and its counterparties on the
// same bounded-wait policy.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// SignerSession caps how long a proposer waits for one counterparty to
// answer a signature request before treating it as a rejection.
const SignerSession = 10 * time.Second

// Notarize caps a single uniqueness authority request.
const Notarize = 5 * time.Second

// FinalityDelivery caps delivery of one finalized transaction to one
// participant.
const FinalityDelivery = 5 * time.Second

// AwaitFinality limits how long a countersigning participant keeps its
// session open waiting for the finalized transaction.
const AwaitFinality = time.Minute

// Shutdown limits how long a server waits for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second
