package telemetry

import (
	"encoding/hex"
	"regexp"
	"strings"
)

// ResourceKey identifies a Resource by (name, instanceId). A nil InstanceID acts as a
// prefix selector matching every instance sharing Name.
type ResourceKey struct {
	Name       string
	InstanceID *string
}

// NewResourceKey builds a concrete key for a specific instance.
func NewResourceKey(name, instanceID string) ResourceKey {
	return ResourceKey{Name: name, InstanceID: &instanceID}
}

// NewResourcePrefixKey builds a prefix selector matching all instances of name.
func NewResourcePrefixKey(name string) ResourceKey {
	return ResourceKey{Name: name}
}

// IsPrefix reports whether this key has no specific instance.
func (k ResourceKey) IsPrefix() bool {
	return k.InstanceID == nil
}

// Composite renders the canonical "<name>-<instanceId>" form. A prefix selector renders
// as just the name.
func (k ResourceKey) Composite() string {
	if k.InstanceID == nil {
		return k.Name
	}
	return k.Name + "-" + *k.InstanceID
}

// EqualFoldComposite compares two composite-name strings ASCII case-insensitively. The
// separator "-" is significant: other separators never match.
func EqualFoldComposite(a, b string) bool {
	return strings.EqualFold(a, b)
}

// Matches reports whether a concrete resource key (name, instanceID) is selected by this
// key, honoring prefix selection and ASCII case-insensitive name comparison.
func (k ResourceKey) Matches(name, instanceID string) bool {
	if !strings.EqualFold(k.Name, name) {
		return false
	}
	if k.InstanceID == nil {
		return true
	}
	return strings.EqualFold(*k.InstanceID, instanceID)
}

var lowercaseUUIDPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// isLowercaseUUID reports whether s is a lowercase 8-4-4-4-12 hex UUID.
func isLowercaseUUID(s string) bool {
	return lowercaseUUIDPattern.MatchString(s)
}

// HexID renders an OTLP id (trace id, span id) as lowercase hex, the external display form.
func HexID(id []byte) string {
	if len(id) == 0 {
		return ""
	}
	return hex.EncodeToString(id)
}

// decodeHexID is the inverse of HexID, used by filters that accept a hex id literal.
func decodeHexID(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
