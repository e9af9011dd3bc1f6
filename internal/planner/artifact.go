package planner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// artifact is the compiled plan file shape. It is deterministic for a
// given (pipeline, variables, profile) triple.
type artifact struct {
	PipelineName   string       `json:"pipeline_name"`
	OperationCount int          `json:"operation_count"`
	Operations     []*Operation `json:"operations"`
}

// MarshalArtifact renders the plan as the compiled JSON artifact.
func MarshalArtifact(plan *Plan) ([]byte, error) {
	doc := artifact{
		PipelineName:   plan.PipelineName,
		OperationCount: len(plan.Operations),
		Operations:     plan.Operations,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// WriteArtifact writes the compiled plan under <outputDir>/compiled/ and
// returns the file path.
func WriteArtifact(outputDir string, plan *Plan) (string, error) {
	data, err := MarshalArtifact(plan)
	if err != nil {
		return "", fmt.Errorf("marshal plan for %s: %w", plan.PipelineName, err)
	}

	dir := filepath.Join(outputDir, "compiled")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, plan.PipelineName+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
