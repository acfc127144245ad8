// Package docid derives stable document keys from article identifiers.
package docid

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	apperrors "feedly-pipeline/internal/common/errors"
)

// KeyLength is the number of hex characters kept from the digest.
const KeyLength = 32

var ErrEmptyIdentifier = errors.New("KEY_DERIVATION_FAILED")

// DeriveKey returns the first 32 lowercase hex chars of sha256(id).
func DeriveKey(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", apperrors.NewKeyDerivationError(id, ErrEmptyIdentifier)
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:KeyLength], nil
}

// SourceIdentifier prefers the article's explicit id over its originId,
// which is usually the publisher URL.
func SourceIdentifier(id, originID string) string {
	if strings.TrimSpace(id) != "" {
		return id
	}
	return originID
}
