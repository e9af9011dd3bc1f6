package project

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// PipelineExt is the pipeline file extension.
const PipelineExt = ".sf"

// Layout resolves pipelines and profiles inside a project directory.
// Pipelines live under pipelines/ with a root-level fallback; profiles
// live under profiles/.
type Layout struct {
	Root string
}

// New returns a layout rooted at dir, defaulting to the working directory.
func New(dir string) Layout {
	if dir == "" {
		dir = "."
	}
	return Layout{Root: dir}
}

// FindPipeline resolves a pipeline name (or direct path) to a file. A
// miss reports every location searched plus close-looking candidates.
func (l Layout) FindPipeline(name string) (string, error) {
	if strings.HasSuffix(name, PipelineExt) {
		if fileExists(name) {
			return name, nil
		}
	}

	searched := []string{
		filepath.Join(l.Root, "pipelines", name+PipelineExt),
		filepath.Join(l.Root, name+PipelineExt),
	}
	for _, path := range searched {
		if fileExists(path) {
			return path, nil
		}
	}
	return "", sqlflowerrors.NewPipelineNotFoundError(name, searched, l.candidates(name))
}

// ListPipelines returns the pipeline names available in the project,
// sorted. Names under pipelines/ shadow root-level files of the same name.
func (l Layout) ListPipelines() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(path string) {
		base := strings.TrimSuffix(filepath.Base(path), PipelineExt)
		if !seen[base] {
			seen[base] = true
			names = append(names, base)
		}
	}

	for _, pattern := range []string{
		filepath.Join(l.Root, "pipelines", "*"+PipelineExt),
		filepath.Join(l.Root, "*"+PipelineExt),
	} {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			add(m)
		}
	}
	sort.Strings(names)
	return names
}

// FindProfile resolves a profile name to its YAML file under profiles/.
func (l Layout) FindProfile(name string) (string, error) {
	for _, ext := range []string{".yml", ".yaml"} {
		path := filepath.Join(l.Root, "profiles", name+ext)
		if fileExists(path) {
			return path, nil
		}
	}
	return "", sqlflowerrors.NewProfileNotFoundError(name, l.ListProfiles())
}

// ListProfiles returns the profile names available in the project, sorted.
func (l Layout) ListProfiles() []string {
	seen := make(map[string]bool)
	var names []string
	for _, pattern := range []string{
		filepath.Join(l.Root, "profiles", "*.yml"),
		filepath.Join(l.Root, "profiles", "*.yaml"),
	} {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			base := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(m), ".yaml"), ".yml")
			if !seen[base] {
				seen[base] = true
				names = append(names, base)
			}
		}
	}
	sort.Strings(names)
	return names
}

// OutputDir is where compiled artifacts land.
func (l Layout) OutputDir() string {
	return filepath.Join(l.Root, "target")
}

// candidates returns known pipeline names that loosely match the miss.
func (l Layout) candidates(name string) []string {
	all := l.ListPipelines()
	lower := strings.ToLower(name)

	var close []string
	for _, candidate := range all {
		cl := strings.ToLower(candidate)
		if strings.Contains(cl, lower) || strings.Contains(lower, cl) {
			close = append(close, candidate)
		}
	}
	if len(close) > 0 {
		return close
	}
	return all
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
