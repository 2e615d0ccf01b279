package domain

import dErrors "caregov/pkg/domain-errors"

// ConsentType identifies the kind of processing a subject agreed to.
// Invariant: the value must be one of the supported consent types.
//
// Usage: construct via ParseConsentType at trust boundaries; direct casting
// bypasses validation.
type ConsentType string

const (
	ConsentDataProcessing ConsentType = "DATA_PROCESSING"
	ConsentDataSharing    ConsentType = "DATA_SHARING"
	ConsentMarketing      ConsentType = "MARKETING"
	ConsentResearch       ConsentType = "RESEARCH"
	ConsentTreatment      ConsentType = "TREATMENT"
)

var validConsentTypes = map[ConsentType]bool{
	ConsentDataProcessing: true,
	ConsentDataSharing:    true,
	ConsentMarketing:      true,
	ConsentResearch:       true,
	ConsentTreatment:      true,
}

// ParseConsentType constructs a ConsentType from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseConsentType(s string) (ConsentType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "consent type cannot be empty")
	}
	t := ConsentType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid consent type")
	}
	return t, nil
}

func (t ConsentType) IsValid() bool {
	return validConsentTypes[t]
}

func (t ConsentType) String() string {
	return string(t)
}
