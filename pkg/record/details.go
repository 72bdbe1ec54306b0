package record

import (
	"encoding/json"
	"strings"
)

// Details is the extraction payload for one image. Exactly one side of the
// variant is populated: Structured when the extraction service returned a
// well-formed JSON object, Raw otherwise. Consumers switch on IsStructured
// instead of probing types at runtime.
type Details struct {
	Structured map[string]any `json:"structured,omitempty"`
	Raw        string         `json:"raw,omitempty"`
}

// IsStructured reports whether the payload parsed as a JSON object.
func (d Details) IsStructured() bool {
	return d.Structured != nil
}

// StructuredDetails wraps a parsed field mapping.
func StructuredDetails(fields map[string]any) Details {
	return Details{Structured: fields}
}

// RawText wraps an unparseable payload as-is.
func RawText(s string) Details {
	return Details{Raw: s}
}

// EncodeDetails produces the canonical string form stored in the archive.
// Structured payloads serialize to JSON with sorted keys; raw payloads are
// stored unchanged.
func EncodeDetails(d Details) string {
	if d.IsStructured() {
		// Marshal of a map cannot fail for JSON-decodable values; a payload
		// that somehow does fail degrades to its raw form.
		b, err := json.Marshal(d.Structured)
		if err != nil {
			return d.Raw
		}
		return string(b)
	}
	return d.Raw
}

// DecodeDetails parses a stored details string back into the variant. It
// never fails: anything that is not a JSON object is preserved as raw text.
func DecodeDetails(s string) Details {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") {
		var fields map[string]any
		if err := json.Unmarshal([]byte(trimmed), &fields); err == nil {
			return StructuredDetails(fields)
		}
	}
	return RawText(s)
}
