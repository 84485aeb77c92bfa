// Package registry provides the identity registry adapter: lookups of a
// single government identity document returning validity plus normalized
// holder name and phone.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/servicehub/vetted/internal/model"
)

// Sentinel errors returned by Verify. Callers retry ErrUnavailable but must
// not re-attempt ErrNotFound or ErrInvalidFormat: those are deterministic.
var (
	ErrInvalidFormat = errors.New("registry: invalid document format")
	ErrNotFound      = errors.New("registry: document not found")
	ErrUnavailable   = errors.New("registry: unavailable")
)

// Registry looks up one identity document in an external registry.
// Implementations must be safe for concurrent use.
type Registry interface {
	Verify(ctx context.Context, docType model.DocumentType, number string) (model.IdentityRecord, error)
}

// ValidFormat reports whether number matches the canonical format for its
// document type. The check is pure and local: a malformed number never
// reaches the registry.
//
// Formats: national ID is exactly 12 digits; tax ID is 5 uppercase letters,
// 4 digits, 1 uppercase letter.
func ValidFormat(docType model.DocumentType, number string) bool {
	switch docType {
	case model.DocNationalID:
		if len(number) != 12 {
			return false
		}
		for i := 0; i < len(number); i++ {
			if number[i] < '0' || number[i] > '9' {
				return false
			}
		}
		return true
	case model.DocTaxID:
		if len(number) != 10 {
			return false
		}
		for i := 0; i < 5; i++ {
			if number[i] < 'A' || number[i] > 'Z' {
				return false
			}
		}
		for i := 5; i < 9; i++ {
			if number[i] < '0' || number[i] > '9' {
				return false
			}
		}
		return number[9] >= 'A' && number[9] <= 'Z'
	default:
		return false
	}
}

// CheckFormat validates number for docType, returning ErrInvalidFormat with
// context on failure.
func CheckFormat(docType model.DocumentType, number string) error {
	if !ValidFormat(docType, number) {
		return fmt.Errorf("%w: %s %q", ErrInvalidFormat, docType, number)
	}
	return nil
}
