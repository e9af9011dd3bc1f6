package parser

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// decodeJSONObject parses the extended JSON accepted by the DSL: standard
// JSON plus ${var} tokens anywhere a string is allowed, single-quoted
// strings, and multi-line formatting. Bare ${var} values are wrapped in
// quotes before decoding so they survive as strings.
func decodeJSONObject(raw string) (map[string]any, error) {
	normalized := quoteBareVariables(raw)

	var out map[string]any
	if err := yaml.Unmarshal([]byte(normalized), &out); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	return out, nil
}

// quoteBareVariables rewrites ${...} tokens that appear outside string
// literals into quoted strings.
func quoteBareVariables(raw string) string {
	var sb strings.Builder
	i := 0
	for i < len(raw) {
		c := raw[i]
		switch {
		case c == '\'' || c == '"':
			_, end, err := scanString(raw, i)
			if err != nil {
				sb.WriteString(raw[i:])
				return sb.String()
			}
			sb.WriteString(raw[i:end])
			i = end
		case c == '$' && i+1 < len(raw) && raw[i+1] == '{':
			depth := 0
			j := i
			for j < len(raw) {
				if raw[j] == '{' {
					depth++
				} else if raw[j] == '}' {
					depth--
					if depth == 0 {
						j++
						break
					}
				}
				j++
			}
			sb.WriteByte('"')
			sb.WriteString(raw[i:j])
			sb.WriteByte('"')
			i = j
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}
