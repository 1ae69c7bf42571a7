// Package googleschema sanitizes JSON Schema tool-parameter payloads for
// Google's generative AI API, which rejects schema keywords it does not
// recognize.
package googleschema

// StripUnsupported recursively removes "$schema" and "additionalProperties"
// keys from a decoded JSON Schema document at every nesting depth,
// including inside "properties", "items", and "$defs". The input is not
// mutated; a new value is returned. StripUnsupported is idempotent:
// StripUnsupported(StripUnsupported(v)) deep-equals StripUnsupported(v).
func StripUnsupported(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if k == "$schema" || k == "additionalProperties" {
				continue
			}
			out[k] = StripUnsupported(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = StripUnsupported(child)
		}
		return out
	default:
		return v
	}
}
