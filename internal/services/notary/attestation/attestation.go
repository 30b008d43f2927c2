// Package attestation issues and validates the authority signature: an EdDSA
// JWT binding a transaction id to the inputs the authority consumed for it.
package attestation

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
)

// Claims are the validated contents of an authority signature.
type Claims struct {
	Issuer          string
	TransactionID   string
	RequestingParty string
	Inputs          []string
	IssuedAt        time.Time
}

// attestationClaims is the internal claims type used for JWT encoding.
type attestationClaims struct {
	jwt.RegisteredClaims
	Inputs []string `json:"inputs"`
}

// Signer issues authority signatures.
type Signer struct {
	Issuer string
	Key    ed25519.PrivateKey
	Now    func() time.Time
}

// Sign issues a token for transactionID over inputs (rendered id@version).
func (s Signer) Sign(transactionID, requestingParty string, inputs []string) (string, error) {
	if strings.TrimSpace(s.Issuer) == "" || len(s.Key) != ed25519.PrivateKeySize {
		return "", errors.New("attestation signer is not configured")
	}
	if strings.TrimSpace(transactionID) == "" {
		return "", errors.New("transaction id is required")
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	sorted := slices.Clone(inputs)
	slices.Sort(sorted)
	claims := attestationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.Issuer,
			Subject:  requestingParty,
			ID:       transactionID,
			IssuedAt: jwt.NewNumericDate(now().UTC()),
		},
		Inputs: sorted,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.Key)
	if err != nil {
		return "", fmt.Errorf("sign attestation: %w", err)
	}
	return token, nil
}

// Verifier validates authority signatures.
type Verifier struct {
	Issuer string
	Key    ed25519.PublicKey
}

// Verify checks token against the expected transaction id and inputs.
func (v Verifier) Verify(token, transactionID string, inputs []string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperrors.New(apperrors.CodeNotarySignatureInvalid, "authority signature is required")
	}
	if len(v.Key) != ed25519.PublicKeySize {
		return Claims{}, errors.New("attestation verifier is not configured")
	}

	var parsed attestationClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if v.Issuer != "" && parsed.Issuer != v.Issuer {
		return Claims{}, mismatch("issuer")
	}
	if parsed.ID == "" || parsed.ID != transactionID {
		return Claims{}, mismatch("transaction_id")
	}
	want := slices.Clone(inputs)
	slices.Sort(want)
	if !slices.Equal(parsed.Inputs, want) {
		return Claims{}, mismatch("inputs")
	}

	claims := Claims{
		Issuer:          parsed.Issuer,
		TransactionID:   parsed.ID,
		RequestingParty: parsed.Subject,
		Inputs:          parsed.Inputs,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

func mismatch(field string) error {
	return apperrors.WithMetadata(
		apperrors.CodeNotarySignatureInvalid,
		"authority signature "+field+" mismatch",
		map[string]string{"Field": field},
	)
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.Wrap(apperrors.CodeNotarySignatureInvalid, "authority signature is invalid", err)
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.Wrap(apperrors.CodeNotarySignatureInvalid, "authority signature alg is invalid", err)
	}
	return apperrors.Wrap(apperrors.CodeNotarySignatureInvalid, "authority signature is malformed", err)
}
