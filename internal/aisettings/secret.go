package aisettings

import "strings"

// MaskMarker is the run of characters that replaces the hidden middle of a
// masked secret.
const MaskMarker = "******"

// Secret holds a credential. The raw value is persisted; every value handed
// to an API reader goes through Masked first.
type Secret string

// Reveal returns the raw credential.
func (s Secret) Reveal() string { return string(s) }

// IsZero reports whether no credential is set.
func (s Secret) IsZero() bool { return strings.TrimSpace(string(s)) == "" }

// Masked returns the display form of the credential.
func (s Secret) Masked() Secret { return Secret(Mask(string(s))) }

// Mask hides the middle of a credential. Values of eight characters or fewer
// keep their first two characters; longer values keep the first and last
// four. Characters are counted as runes so the result stays valid UTF-8.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	r := []rune(value)
	if len(r) <= 8 {
		return string(r[:min(2, len(r))]) + MaskMarker
	}
	return string(r[:4]) + MaskMarker + string(r[len(r)-4:])
}

// IsMasked reports whether value carries the mask marker.
func IsMasked(value string) bool {
	return strings.Contains(value, MaskMarker)
}
