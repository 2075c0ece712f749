package graphsync

import "strings"

// The twin platform restricts the characters allowed in twin identifiers
// and tag keys, so source identifiers are rewritten with fixed placeholder
// characters before they cross over and rewritten back on the way home.
//
// The mapping is bijective as long as the raw input does not itself contain
// a placeholder character. An asset named "a_b" and an asset named "a b"
// normalize to the same twin ID; the raw identifier kept on the twin (see
// [Twin.ExternalID]) is what disambiguates them on the reverse path.
var (
	twinIDEncoder = strings.NewReplacer(":", "*", " ", "_")
	twinIDDecoder = strings.NewReplacer("*", ":", "_", " ")

	tagKeyEncoder = strings.NewReplacer("$", "#", ".", "^", " ", "_")
	tagKeyDecoder = strings.NewReplacer("#", "$", "^", ".", "_", " ")
)

// ToTwinID normalizes a source external identifier into a twin identifier.
func ToTwinID(externalID string) string {
	return twinIDEncoder.Replace(externalID)
}

// FromTwinID recovers the source external identifier from a twin identifier.
// It inverts ToTwinID exactly when the original identifier contained no
// placeholder characters.
func FromTwinID(twinID string) string {
	return twinIDDecoder.Replace(twinID)
}

// ToTagKey normalizes a source metadata key into a twin tag key.
func ToTagKey(key string) string {
	return tagKeyEncoder.Replace(key)
}

// FromTagKey recovers the source metadata key from a twin tag key, under
// the same placeholder caveat as FromTwinID.
func FromTagKey(key string) string {
	return tagKeyDecoder.Replace(key)
}

// NormalizeTags rewrites every metadata key with ToTagKey. Values pass
// through untouched. A nil map yields a nil map.
func NormalizeTags(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}
	tags := make(map[string]string, len(metadata))
	for k, v := range metadata {
		tags[ToTagKey(k)] = v
	}
	return tags
}

// DenormalizeTags rewrites every tag key with FromTagKey.
func DenormalizeTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	metadata := make(map[string]string, len(tags))
	for k, v := range tags {
		metadata[FromTagKey(k)] = v
	}
	return metadata
}
