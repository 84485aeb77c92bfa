package model

import "time"

// DocumentType identifies a class of government identity document.
type DocumentType string

const (
	// DocNationalID is the 12-digit national identity number.
	DocNationalID DocumentType = "national_id"
	// DocTaxID is the 10-character tax identification number
	// (five letters, four digits, one letter).
	DocTaxID DocumentType = "tax_id"
)

// IdentityRecord is one document as known to an identity registry.
type IdentityRecord struct {
	DocumentType   DocumentType
	DocumentNumber string

	FormatValid bool
	Exists      bool

	// Registered holder details, set only when Exists.
	HolderName string
	Phone      string

	FetchedAt time.Time
}

// CrossVerificationResult is the outcome of comparing two identity
// documents against each other and a claimed holder name.
type CrossVerificationResult struct {
	Matched bool

	// VerifiedPhone is the canonical registered phone both documents
	// agree on. Set only when Matched.
	VerifiedPhone string

	// Raw registry values retained for decision evidence.
	PhoneA string
	PhoneB string
	NameA  string
	NameB  string

	// Reasons lists every deterministic verification failure.
	// Empty when Matched.
	Reasons []string
}
