package vars

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Context names the surface a variable is being substituted into. The
// caller decides the context; the token itself carries none.
type Context string

const (
	// ContextSQL quotes values for interpolation into SQL text.
	ContextSQL Context = "sql"
	// ContextText renders values as plain text.
	ContextText Context = "text"
	// ContextAST renders values as literals for condition evaluation.
	ContextAST Context = "ast"
	// ContextJSON renders values as JSON literals.
	ContextJSON Context = "json"
)

// sqlPassthrough lists keywords that are interpolated into SQL unquoted.
var sqlPassthrough = map[string]bool{
	"NULL":              true,
	"TRUE":              true,
	"FALSE":             true,
	"CURRENT_DATE":      true,
	"CURRENT_TIME":      true,
	"CURRENT_TIMESTAMP": true,
	"SYSDATE":           true,
}

var (
	sqlFuncPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*\(.*\)$`)
	numericPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
)

// Fallback is the per-context substitution used when a variable is missing
// and the error strategy allows execution to continue.
func Fallback(ctx Context) string {
	switch ctx {
	case ContextSQL:
		return "NULL"
	case ContextAST:
		return "None"
	case ContextJSON:
		return "null"
	default:
		return ""
	}
}

// FormatValue renders a resolved variable value for the given context.
func FormatValue(v any, ctx Context) string {
	switch ctx {
	case ContextSQL:
		return formatSQL(v)
	case ContextAST:
		return formatAST(v)
	case ContextJSON:
		return formatJSON(v)
	default:
		return formatText(v)
	}
}

func formatSQL(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case string:
		if sqlPassthrough[strings.ToUpper(x)] {
			return x
		}
		if sqlFuncPattern.MatchString(x) {
			return x
		}
		if numericPattern.MatchString(x) {
			return x
		}
		if len(x) >= 2 && x[0] == '\'' && x[len(x)-1] == '\'' {
			return x
		}
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	default:
		return formatNumber(v, formatText)
	}
}

func formatText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return x
	default:
		return formatNumber(v, func(v any) string { return fmt.Sprintf("%v", v) })
	}
}

func formatAST(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		escaped := strings.ReplaceAll(x, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `'`, `\'`)
		return "'" + escaped + "'"
	default:
		return formatNumber(v, func(v any) string { return fmt.Sprintf("%v", v) })
	}
}

func formatJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprintf("%v", v))
	}
	return string(data)
}

func formatNumber(v any, fallback func(any) string) string {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'g', -1, 32)
	default:
		return fallback(v)
	}
}
