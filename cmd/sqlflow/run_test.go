package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scaffoldProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

const salesPipeline = `
SOURCE sales TYPE CSV PARAMS {"path":"${data_dir}/sales.csv","has_header":true};
LOAD raw_sales FROM sales;
CREATE TABLE totals AS
  SELECT region, sum(amount) AS total
  FROM raw_sales
  GROUP BY region;
EXPORT SELECT region, total FROM totals TO "${out_dir}/totals.csv" TYPE CSV OPTIONS {"header":true};
`

func salesProject(t *testing.T) string {
	root := scaffoldProject(t, map[string]string{
		"pipelines/sales.sf": salesPipeline,
		"data/sales.csv":     "region,amount\neast,10\nwest,5\neast,20\n",
	})
	return root
}

func TestCompileCommandWritesArtifact(t *testing.T) {
	root := salesProject(t)

	out, err := runCLI(t, "compile", "sales",
		"--project-dir", root,
		"--var", "data_dir="+filepath.Join(root, "data"),
		"--var", "out_dir="+filepath.Join(root, "out"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "4 operations")

	artifact := filepath.Join(root, "target", "compiled", "sales.json")
	data, err := os.ReadFile(artifact)
	require.NoError(t, err)

	var doc struct {
		PipelineName   string `json:"pipeline_name"`
		OperationCount int    `json:"operation_count"`
		Operations     []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "sales", doc.PipelineName)
	require.Equal(t, 4, doc.OperationCount)
	assert.Equal(t, "source_sales", doc.Operations[0].ID)
	assert.Equal(t, "export_totals", doc.Operations[3].ID)
}

func TestRunCommandEndToEnd(t *testing.T) {
	root := salesProject(t)
	outDir := filepath.Join(root, "out")

	out, err := runCLI(t, "run", "sales",
		"--project-dir", root,
		"--var", "data_dir="+filepath.Join(root, "data"),
		"--var", "out_dir="+outDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "4 succeeded")

	data, err := os.ReadFile(filepath.Join(outDir, "totals.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "region,total")
	assert.Contains(t, string(data), "east,30")
	assert.Contains(t, string(data), "west,5")
}

func TestRunCommandVerboseReport(t *testing.T) {
	root := salesProject(t)

	out, err := runCLI(t, "run", "sales", "--verbose",
		"--project-dir", root,
		"--var", "data_dir="+filepath.Join(root, "data"),
		"--var", "out_dir="+filepath.Join(root, "out"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "step timings")
	assert.Contains(t, out, "transform")
}

func TestRunCommandMissingVariableFails(t *testing.T) {
	root := salesProject(t)

	_, err := runCLI(t, "run", "sales", "--project-dir", root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_dir")
}

func TestValidateCommandAllPipelines(t *testing.T) {
	root := scaffoldProject(t, map[string]string{
		"pipelines/good.sf": `SOURCE s TYPE CSV PARAMS {"path":"x.csv"}; LOAD t FROM s;`,
		"pipelines/bad.sf":  `LOAD t FROM ghost;`,
	})

	out, err := runCLI(t, "validate", "--project-dir", root)
	require.Error(t, err)
	assert.Contains(t, out, "good")
	assert.Contains(t, out, "ghost")
	assert.Contains(t, out, "1 of 2 pipelines failed")
}

func TestValidateCommandSinglePipeline(t *testing.T) {
	root := scaffoldProject(t, map[string]string{
		"pipelines/good.sf": `SOURCE s TYPE CSV PARAMS {"path":"x.csv"}; LOAD t FROM s;`,
	})

	out, err := runCLI(t, "validate", "good", "--project-dir", root)
	require.NoError(t, err, out)
	assert.Contains(t, out, "2 operations")
}

func TestListCommandJSON(t *testing.T) {
	root := scaffoldProject(t, map[string]string{
		"pipelines/a.sf":   "",
		"pipelines/b.sf":   "",
		"profiles/dev.yml": "version: \"1.0\"\n",
	})

	out, err := runCLI(t, "list", "--project-dir", root, "--format", "json")
	require.NoError(t, err)

	var doc struct {
		Pipelines []string `json:"pipelines"`
		Profiles  []string `json:"profiles"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, []string{"a", "b"}, doc.Pipelines)
	assert.Equal(t, []string{"dev"}, doc.Profiles)
}

func TestRunWithProfileVariablesAndEngine(t *testing.T) {
	root := scaffoldProject(t, map[string]string{
		"pipelines/p.sf": `
SOURCE s TYPE CSV PARAMS {"path":"${data_dir}/in.csv"};
LOAD t FROM s;
EXPORT SELECT * FROM t TO "${out_dir}/out.csv" TYPE CSV;
`,
		"data/in.csv": "id\n1\n2\n",
		"profiles/dev.yml": `
version: "1.0"
variables:
  out_dir: OUT_PLACEHOLDER
engines:
  default:
    mode: memory
`,
	})

	// Profile variables come from the file; data_dir from the CLI.
	profilePath := filepath.Join(root, "profiles", "dev.yml")
	content, err := os.ReadFile(profilePath)
	require.NoError(t, err)
	outDir := filepath.Join(root, "out")
	updated := bytes.ReplaceAll(content, []byte("OUT_PLACEHOLDER"), []byte(outDir))
	require.NoError(t, os.WriteFile(profilePath, updated, 0o644))

	out, err := runCLI(t, "run", "p",
		"--project-dir", root,
		"--profile", "dev",
		"--var", "data_dir="+filepath.Join(root, "data"))
	require.NoError(t, err, out)

	_, err = os.Stat(filepath.Join(outDir, "out.csv"))
	require.NoError(t, err)
}

func TestRunUnknownPipeline(t *testing.T) {
	root := scaffoldProject(t, map[string]string{"pipelines/real.sf": ""})

	_, err := runCLI(t, "run", "rael", "--project-dir", root)
	require.Error(t, err)
	rendered := renderError(err)
	assert.Contains(t, rendered, "searched")
}
