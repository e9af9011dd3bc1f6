package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// parseVariables turns --var values into a variable map. Each entry is
// either a JSON object ({"env":"prod","limit":10}) or a single name=value
// pair; pairs coerce numbers and booleans, JSON keeps its types. Later
// entries override earlier ones.
func parseVariables(entries []string) (map[string]any, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	out := make(map[string]any)
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "{") {
			var decoded map[string]any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
				return nil, sqlflowerrors.NewVariableParsingError(entry, err)
			}
			for k, v := range decoded {
				out[k] = v
			}
			continue
		}

		name, value, ok := strings.Cut(trimmed, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, sqlflowerrors.NewVariableParsingError(entry,
				fmt.Errorf("expected name=value or a JSON object"))
		}
		out[name] = coerceScalar(value)
	}
	return out, nil
}

// coerceScalar interprets bare CLI values the way pipeline authors expect:
// numbers and booleans become typed, everything else stays a string.
func coerceScalar(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
