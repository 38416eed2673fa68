package domain

import (
	"regexp"
	"strings"
)

// Visibility classifies what a License grants
type Visibility string

const (
	VisibilityUnspecified Visibility = "unspecified"
	VisibilityPublic      Visibility = "public"
	VisibilityRestricted  Visibility = "restricted"
)

// License is an immutable statement of what an attestation's issuer grants
type License struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DiscoveryLicense grants public discovery of a device's presence
var DiscoveryLicense = License{
	Name:        "DevicePresenceDiscovery",
	Description: "Issuer affirms the subject device is present on the local network and may be discovered by any peer.",
}

// OwnershipLicense grants the ownership claim to the named subject only
var OwnershipLicense = License{
	Name:        "DeviceOwnership",
	Description: "Issuer affirms the subject has the owner role for the device. Restricted to the named subject.",
}

var restrictedPattern = regexp.MustCompile(`(?i)restricted\s+to\s+(the\s+)?(named\s+)?subject`)

// IsRestricted is true when the license text matches the "restricted to subject" pattern
func IsRestricted(l License) bool {
	return restrictedPattern.MatchString(l.Name) || restrictedPattern.MatchString(l.Description)
}

// GrantsPublicDiscovery is true for the well-known public discovery license
func GrantsPublicDiscovery(l License) bool {
	return l.Name == DiscoveryLicense.Name
}

// Visibility derives the classification of the license
func (l License) Visibility() Visibility {
	switch {
	case GrantsPublicDiscovery(l):
		return VisibilityPublic
	case IsRestricted(l):
		return VisibilityRestricted
	default:
		return VisibilityUnspecified
	}
}

// Trust score weights
const (
	scoreStructure  = 0.5
	scoreLicense    = 0.2
	scoreReferences = 0.3
)

// TrustScore ranks confidence in an attestation. It is advisory: never a substitute
// for credential verification. References are counted, not resolved.
func TrustScore(a Attestation, l *License) float64 {
	score := 0.0
	if a.StructurallyValid() {
		score += scoreStructure
	}
	if l != nil && l.Name != "" && strings.TrimSpace(l.Description) != "" {
		score += scoreLicense
	}
	if len(a.References) > 0 {
		score += scoreReferences
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
