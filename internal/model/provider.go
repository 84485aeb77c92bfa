package model

import "time"

// KYCStatus is the onboarding verification state of a provider record.
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCVerified KYCStatus = "verified"
	KYCRejected KYCStatus = "rejected"
)

// Provider is a service-provider record as supplied by the marketplace
// collaborator. The pipeline reads identity numbers and business metadata
// from it and writes back KYC status; everything else is owned externally.
type Provider struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	BusinessName string    `json:"business_name"`
	OwnerName    string    `json:"owner_name"`
	Phone        string    `json:"phone"`
	ServiceName  string    `json:"service_name"`
	Location     string    `json:"location"`
	NationalID   string    `json:"national_id"`
	TaxID        string    `json:"tax_id"`
	KYCStatus    KYCStatus `json:"kyc_status"`
	CreatedAt    time.Time `json:"created_at"`
}
