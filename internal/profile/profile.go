package profile

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// CurrentVersion is the profile schema version this build understands.
const CurrentVersion = "1.0"

// Profile binds connector definitions, variables, and engine settings to a
// named environment.
type Profile struct {
	Version    string               `yaml:"version" validate:"required"`
	Variables  map[string]any       `yaml:"variables,omitempty"`
	Connectors map[string]Connector `yaml:"connectors,omitempty" validate:"omitempty,dive"`
	Engines    map[string]Engine    `yaml:"engines,omitempty" validate:"omitempty,dive"`
}

// Connector is a named connector definition within a profile.
type Connector struct {
	Type   string         `yaml:"type" validate:"required,connector_type"`
	Params map[string]any `yaml:"params,omitempty"`
}

// Engine configures the embedded analytic engine.
type Engine struct {
	Mode string `yaml:"mode,omitempty" validate:"omitempty,oneof=memory persistent"`
	Path string `yaml:"path,omitempty"`
}

// connectorParamFields lists the validated fields per connector type.
// Fields outside the list produce warnings, not errors.
var connectorParamFields = map[string][]string{
	"csv":           {"path", "has_header", "delimiter", "encoding", "quote_char", "skip_rows"},
	"postgres":      {"host", "port", "database", "schema", "user", "password", "sslmode", "connect_timeout", "table", "query"},
	"s3":            {"bucket", "key", "region", "endpoint_url", "access_key_id", "secret_access_key", "prefix", "format"},
	"rest":          {"url", "method", "headers", "timeout", "body", "json_path"},
	"parquet":       {"path", "columns"},
	"google_sheets": {"spreadsheet_id", "range", "credentials_file"},
	"shopify":       {"shop", "api_key", "api_secret", "resource"},
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("connector_type", func(fl validator.FieldLevel) bool {
			_, ok := connectorParamFields[fl.Field().String()]
			return ok
		})
		validateInst = v
	})
	return validateInst
}

// Load reads and validates a profile file. Returned warnings cover unknown
// connector params and version skew; they never fail the load.
func Load(path string) (*Profile, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, sqlflowerrors.NewParseError(path, 0, err)
	}
	return Parse(data, path)
}

// Parse decodes and validates profile YAML.
func Parse(data []byte, path string) (*Profile, []string, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, nil, sqlflowerrors.NewParseError(path, 0, err)
	}

	if err := validatorInstance().Struct(&p); err != nil {
		return nil, nil, convertValidationError(path, err)
	}

	var warnings []string
	if p.Version != CurrentVersion {
		warnings = append(warnings, fmt.Sprintf("profile version %q differs from supported %q", p.Version, CurrentVersion))
	}
	for name, conn := range p.Connectors {
		warnings = append(warnings, unknownParamWarnings(name, conn)...)
	}
	sort.Strings(warnings)
	return &p, warnings, nil
}

func unknownParamWarnings(name string, conn Connector) []string {
	known := make(map[string]bool)
	for _, field := range connectorParamFields[conn.Type] {
		known[field] = true
	}

	var unknown []string
	for param := range conn.Params {
		if !known[param] {
			unknown = append(unknown, param)
		}
	}
	sort.Strings(unknown)

	warnings := make([]string, 0, len(unknown))
	for _, param := range unknown {
		warnings = append(warnings, fmt.Sprintf("connector %q: unknown %s param %q", name, conn.Type, param))
	}
	return warnings
}

func convertValidationError(path string, err error) error {
	if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return sqlflowerrors.NewValidationError(
			fmt.Sprintf("%s: field %s failed rule %q", path, first.Namespace(), first.Tag()), err)
	}
	return sqlflowerrors.NewValidationError(fmt.Sprintf("%s: %v", path, err), err)
}

// ConnectorTypes returns the known connector type names, sorted.
func ConnectorTypes() []string {
	types := make([]string, 0, len(connectorParamFields))
	for t := range connectorParamFields {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// EngineConfig returns the configuration for the named engine, or a
// default in-memory configuration when the profile declares none.
func (p *Profile) EngineConfig(name string) Engine {
	if p != nil {
		if eng, ok := p.Engines[name]; ok {
			if eng.Mode == "" {
				eng.Mode = "memory"
			}
			return eng
		}
	}
	return Engine{Mode: "memory"}
}

// ConnectorNamed returns the named connector definition.
func (p *Profile) ConnectorNamed(name string) (Connector, bool) {
	if p == nil {
		return Connector{}, false
	}
	conn, ok := p.Connectors[name]
	return conn, ok
}
