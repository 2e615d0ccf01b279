package audit

import "strings"

var (
	criticalMarkers = []string{"subject", "patient"}
	highMarkers     = []string{"condition", "appointment", "medication", "alert", "clinical", "medical"}
	mediumMarkers   = []string{"user", "actor", "practitioner", "administrator", "professional", "manager"}
)

// Classify grades an entity type by name. Subject data ranks highest,
// clinical data next, actor data after that.
func Classify(entityType string) Sensitivity {
	name := strings.ToLower(entityType)
	switch {
	case containsAny(name, criticalMarkers):
		return SensitivityCritical
	case containsAny(name, highMarkers):
		return SensitivityHigh
	case containsAny(name, mediumMarkers):
		return SensitivityMedium
	default:
		return SensitivityLow
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
