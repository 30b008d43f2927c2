// Package keygen generates party and authority signing keys.
package keygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/louisbranch/covenant/internal/platform/config"
	"github.com/louisbranch/covenant/internal/services/ledger/identity"
)

// Run generates an ed25519 key pair and writes env exports for role, which
// is "node" or "notary".
func Run(out io.Writer, reader io.Reader, role string) error {
	if out == nil {
		return errors.New("output is required")
	}
	role = strings.ToUpper(strings.TrimSpace(role))
	switch role {
	case "":
		role = "NODE"
	case "NODE", "NOTARY":
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	if reader == nil {
		reader = rand.Reader
	}
	publicKey, privateKey, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate %s key: %w", strings.ToLower(role), err)
	}
	prefix := config.EnvPrefix + role + "_"
	if _, err := fmt.Fprintf(out, "export %sPRIVATE_KEY=%s\n", prefix, identity.EncodeKey(privateKey)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "export %sPUBLIC_KEY=%s\n", prefix, identity.EncodeKey(publicKey)); err != nil {
		return err
	}
	return nil
}
