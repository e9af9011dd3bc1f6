package planner

import (
	"fmt"

	"github.com/alexisbeaulieu97/sqlflow/internal/profile"
	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// ResolveProfileConnectors binds FROM-profile sources to the connector
// definitions of the active profile, filling in their connector type and
// params. Loads that reference those sources inherit the resolved type.
// Sources declared inline are left untouched.
func ResolveProfileConnectors(plan *Plan, prof *profile.Profile) error {
	var invalid []string
	resolvedTypes := make(map[string]string)

	for _, op := range plan.Operations {
		if op.Source == nil || !op.Source.FromProfile {
			if op.Source != nil {
				resolvedTypes[op.Name] = op.Source.ConnectorType
			}
			continue
		}

		if prof == nil {
			invalid = append(invalid, fmt.Sprintf(
				"source %s references profile connector %q but no profile is active (use --profile)",
				op.Name, op.Source.ProfileConnector))
			continue
		}
		conn, ok := prof.ConnectorNamed(op.Source.ProfileConnector)
		if !ok {
			invalid = append(invalid, fmt.Sprintf(
				"source %s references connector %q, which the profile does not define",
				op.Name, op.Source.ProfileConnector))
			continue
		}

		op.Source.ConnectorType = conn.Type
		merged := make(map[string]any, len(conn.Params)+len(op.Source.Options))
		for k, v := range conn.Params {
			merged[k] = v
		}
		// OPTIONS override the profile's connector params.
		for k, v := range op.Source.Options {
			merged[k] = v
		}
		op.Source.Params = merged
		resolvedTypes[op.Name] = conn.Type
	}

	if len(invalid) > 0 {
		return &sqlflowerrors.ValidationError{
			Message:           "profile connector resolution failed",
			InvalidReferences: invalid,
		}
	}

	for _, op := range plan.Operations {
		if op.Load != nil && op.Load.ConnectorType == "" {
			op.Load.ConnectorType = resolvedTypes[op.Load.SourceName]
		}
	}
	return nil
}
