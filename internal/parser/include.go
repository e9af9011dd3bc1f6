package parser

import (
	"fmt"
	"path/filepath"

	"github.com/alexisbeaulieu97/sqlflow/internal/ast"
	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// ResolveFile parses a pipeline file and expands INCLUDE statements in
// place, recursively. Include paths are resolved relative to the including
// file. Cycles among include aliases are rejected.
func ResolveFile(path string) (*ast.Pipeline, error) {
	return resolveFile(path, nil)
}

func resolveFile(path string, stack []string) (*ast.Pipeline, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	for _, seen := range stack {
		if seen == abs {
			cycle := append(append([]string(nil), stack...), abs)
			return nil, sqlflowerrors.NewCompilationError(path,
				fmt.Sprintf("include cycle: %v", cycle), nil)
		}
	}
	stack = append(stack, abs)

	pipe, err := ParseFile(path)
	if err != nil {
		return nil, err
	}

	expanded, err := expandSteps(pipe.Steps, filepath.Dir(path), stack)
	if err != nil {
		return nil, err
	}
	return &ast.Pipeline{Name: pipe.Name, Steps: expanded}, nil
}

func expandSteps(steps []ast.Step, dir string, stack []string) ([]ast.Step, error) {
	out := make([]ast.Step, 0, len(steps))
	for _, step := range steps {
		switch s := step.(type) {
		case *ast.Include:
			target := s.Path
			if !filepath.IsAbs(target) {
				target = filepath.Join(dir, target)
			}
			included, err := resolveFile(target, stack)
			if err != nil {
				return nil, err
			}
			out = append(out, included.Steps...)
		case *ast.ConditionalBlock:
			expanded := &ast.ConditionalBlock{LineNo: s.LineNo}
			for _, branch := range s.Branches {
				branchSteps, err := expandSteps(branch.Steps, dir, stack)
				if err != nil {
					return nil, err
				}
				expanded.Branches = append(expanded.Branches, ast.Branch{
					Condition: branch.Condition,
					Steps:     branchSteps,
				})
			}
			if s.Else != nil {
				elseSteps, err := expandSteps(s.Else, dir, stack)
				if err != nil {
					return nil, err
				}
				expanded.Else = elseSteps
			}
			out = append(out, expanded)
		default:
			out = append(out, step)
		}
	}
	return out, nil
}
