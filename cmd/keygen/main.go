// Package main provides a one-shot utility for signing key generation.
//
// It emits the ed25519 key pair a node or the notary reads from its
// environment.
package main

import (
	"flag"
	"os"

	"github.com/louisbranch/covenant/internal/platform/config"
	"github.com/louisbranch/covenant/internal/tools/keygen"
)

func main() {
	role := flag.String("role", "node", "Key owner: node or notary")
	flag.Parse()
	config.ExitIf(keygen.Run(os.Stdout, nil, *role), "generate key")
}
