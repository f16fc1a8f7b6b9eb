package enums

import "fmt"

// KYCStatus is the identity verification state owned by the KYC subsystem.
type KYCStatus string

const (
	KYCStatusNone     KYCStatus = "none"
	KYCStatusPending  KYCStatus = "pending"
	KYCStatusVerified KYCStatus = "verified"
	KYCStatusRejected KYCStatus = "rejected"
)

var validKYCStatuses = []KYCStatus{
	KYCStatusNone,
	KYCStatusPending,
	KYCStatusVerified,
	KYCStatusRejected,
}

// String implements fmt.Stringer.
func (k KYCStatus) String() string {
	return string(k)
}

// IsValid reports whether the value is a known KYCStatus.
func (k KYCStatus) IsValid() bool {
	for _, candidate := range validKYCStatuses {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseKYCStatus converts raw input into a KYCStatus.
func ParseKYCStatus(value string) (KYCStatus, error) {
	for _, candidate := range validKYCStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid kyc status %q", value)
}
