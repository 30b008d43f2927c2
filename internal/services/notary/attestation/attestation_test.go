package attestation

import (
	"bytes"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
)

func testKeys(seed byte) (ed25519.PublicKey, ed25519.PrivateKey) {
	private := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	return private.Public().(ed25519.PublicKey), private
}

func TestSignAndVerify(t *testing.T) {
	pub, key := testKeys(1)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := Signer{Issuer: "notary", Key: key, Now: func() time.Time { return issued }}

	token, err := signer.Sign("tx-1", "p1", []string{"r2@v2", "r1@v1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := Verifier{Issuer: "notary", Key: pub}.Verify(token, "tx-1", []string{"r1@v1", "r2@v2"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.TransactionID != "tx-1" || claims.RequestingParty != "p1" || !claims.IssuedAt.Equal(issued) {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestSignWithoutInputs(t *testing.T) {
	pub, key := testKeys(2)
	token, err := Signer{Issuer: "notary", Key: key}.Sign("tx-create", "p1", nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := (Verifier{Key: pub}).Verify(token, "tx-create", nil); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejects(t *testing.T) {
	pub, key := testKeys(3)
	otherPub, otherKey := testKeys(4)
	token, err := Signer{Issuer: "notary", Key: key}.Sign("tx-1", "p1", []string{"r1@v1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	forged, err := Signer{Issuer: "notary", Key: otherKey}.Sign("tx-1", "p1", []string{"r1@v1"})
	if err != nil {
		t.Fatalf("sign forged: %v", err)
	}
	hmacToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ID: "tx-1"}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign hmac: %v", err)
	}

	cases := []struct {
		name     string
		verifier Verifier
		token    string
		txID     string
		inputs   []string
	}{
		{name: "empty token", verifier: Verifier{Key: pub}, token: "", txID: "tx-1", inputs: []string{"r1@v1"}},
		{name: "wrong key", verifier: Verifier{Key: pub}, token: forged, txID: "tx-1", inputs: []string{"r1@v1"}},
		{name: "other transaction", verifier: Verifier{Key: pub}, token: token, txID: "tx-2", inputs: []string{"r1@v1"}},
		{name: "other inputs", verifier: Verifier{Key: pub}, token: token, txID: "tx-1", inputs: []string{"r1@v0"}},
		{name: "other issuer", verifier: Verifier{Issuer: "rogue", Key: pub}, token: token, txID: "tx-1", inputs: []string{"r1@v1"}},
		{name: "hmac alg", verifier: Verifier{Key: pub}, token: hmacToken, txID: "tx-1"},
		{name: "garbage", verifier: Verifier{Key: otherPub}, token: "not.a.jwt", txID: "tx-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.verifier.Verify(tc.token, tc.txID, tc.inputs)
			if !apperrors.HasCode(err, apperrors.CodeNotarySignatureInvalid) {
				t.Fatalf("expected %s, got %v", apperrors.CodeNotarySignatureInvalid, err)
			}
		})
	}
}

func TestSignRequiresConfiguration(t *testing.T) {
	_, key := testKeys(5)
	if _, err := (Signer{Key: key}).Sign("tx", "p1", nil); err == nil {
		t.Fatal("expected missing issuer error")
	}
	if _, err := (Signer{Issuer: "notary"}).Sign("tx", "p1", nil); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, err := (Signer{Issuer: "notary", Key: key}).Sign(" ", "p1", nil); err == nil {
		t.Fatal("expected missing transaction id error")
	}
}
