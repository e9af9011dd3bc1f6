package vars

import (
	"os"
	"regexp"
)

// tokenPattern matches ${name} and ${name|default} references.
var tokenPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(\|([^}]*))?\}`)

// Resolver resolves ${...} references against layered variable scopes.
// Priority, highest first: CLI variables, profile variables, pipeline SET
// variables, process environment, then the literal default in the token.
type Resolver struct {
	cli     map[string]any
	profile map[string]any
	set     map[string]any
	env     func(string) (string, bool)
	handler *Handler
}

// NewResolver builds a resolver over the given CLI and profile scopes.
// SET variables are added as the planner walks the pipeline.
func NewResolver(cli, profile map[string]any, handler *Handler) *Resolver {
	if handler == nil {
		handler = NewHandler(StrategyWarnContinue, nil)
	}
	return &Resolver{
		cli:     cli,
		profile: profile,
		set:     make(map[string]any),
		env:     os.LookupEnv,
		handler: handler,
	}
}

// WithEnvLookup overrides environment lookup, for tests.
func (r *Resolver) WithEnvLookup(lookup func(string) (string, bool)) *Resolver {
	r.env = lookup
	return r
}

// SetVariable records a pipeline-scope SET variable.
func (r *Resolver) SetVariable(name string, value any) {
	r.set[name] = value
}

// Handler returns the error handler this resolver reports to.
func (r *Resolver) Handler() *Handler {
	return r.handler
}

// Lookup resolves a name through the scope layers. The boolean reports
// whether any layer provided a value; empty strings are valid values.
func (r *Resolver) Lookup(name string) (any, bool) {
	if v, ok := r.cli[name]; ok {
		return v, true
	}
	if v, ok := r.profile[name]; ok {
		return v, true
	}
	if v, ok := r.set[name]; ok {
		return v, true
	}
	if v, ok := r.env(name); ok {
		return v, true
	}
	return nil, false
}

// Substitute renders every ${...} token in s for the given context. The
// returned map records per-variable success. Missing variables without a
// default are delegated to the error handler, whose strategy decides
// whether that is fatal.
func (r *Resolver) Substitute(s string, ctx Context, location string) (string, map[string]bool, error) {
	outcome := make(map[string]bool)
	var firstErr error

	result := tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := tokenPattern.FindStringSubmatch(match)
		name := groups[1]
		hasDefault := groups[2] != ""

		if v, ok := r.Lookup(name); ok {
			outcome[name] = true
			r.handler.recordSuccess()
			return FormatValue(v, ctx)
		}
		if hasDefault {
			outcome[name] = true
			r.handler.recordSuccess()
			return FormatValue(groups[3], ctx)
		}

		outcome[name] = false
		fallback, err := r.handler.MissingVariable(name, ctx, location)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return fallback
	})

	return result, outcome, firstErr
}

// Missing returns the names of referenced variables that resolve through no
// layer and carry no default. It never consults the error handler.
func (r *Resolver) Missing(s string) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, groups := range tokenPattern.FindAllStringSubmatch(s, -1) {
		name := groups[1]
		if groups[2] != "" || seen[name] {
			continue
		}
		if _, ok := r.Lookup(name); !ok {
			missing = append(missing, name)
			seen[name] = true
		}
	}
	return missing
}

// References returns every variable name referenced in s.
func References(s string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, groups := range tokenPattern.FindAllStringSubmatch(s, -1) {
		if !seen[groups[1]] {
			names = append(names, groups[1])
			seen[groups[1]] = true
		}
	}
	return names
}
