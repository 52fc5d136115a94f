package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// CanonicalPayload renders a payload mapping into a deterministic string so
// that retried deliveries of the same external event hash identically.
// Rules: map keys are sorted recursively at every nesting level, list order
// is preserved, and string whitespace runs are collapsed to single spaces.
func CanonicalPayload(payload map[string]any) string {
	var b strings.Builder
	writeCanonical(&b, payload)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch tv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte('=')
			writeCanonical(b, tv[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range tv {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	case string:
		b.WriteString(normalizeWhitespace(tv))
	case nil:
		b.WriteString("null")
	default:
		fmt.Fprintf(b, "%v", tv)
	}
}

// normalizeWhitespace collapses every whitespace run to a single space and
// trims the ends.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// GenerateEventID derives the stable fingerprint of an external event from
// its source, external ID, and canonicalized payload. The derivation is
// deterministic: retries produce identical fingerprints.
func GenerateEventID(source, externalID string, payload map[string]any) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{'\n'})
	h.Write([]byte(externalID))
	h.Write([]byte{'\n'})
	h.Write([]byte(CanonicalPayload(payload)))
	return "ev_" + hex.EncodeToString(h.Sum(nil))
}
