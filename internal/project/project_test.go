package project

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

func scaffold(t *testing.T, files map[string]string) Layout {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return New(root)
}

func TestFindPipelineInPipelinesDir(t *testing.T) {
	l := scaffold(t, map[string]string{
		"pipelines/daily_sales.sf": "LOAD t FROM s;",
	})

	path, err := l.FindPipeline("daily_sales")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.Root, "pipelines", "daily_sales.sf"), path)
}

func TestFindPipelineRootFallback(t *testing.T) {
	l := scaffold(t, map[string]string{
		"adhoc.sf": "LOAD t FROM s;",
	})

	path, err := l.FindPipeline("adhoc")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.Root, "adhoc.sf"), path)
}

func TestFindPipelineDirectPath(t *testing.T) {
	l := scaffold(t, map[string]string{
		"elsewhere/thing.sf": "LOAD t FROM s;",
	})

	path, err := l.FindPipeline(filepath.Join(l.Root, "elsewhere", "thing.sf"))
	require.NoError(t, err)
	assert.Contains(t, path, "thing.sf")
}

func TestFindPipelineNotFound(t *testing.T) {
	l := scaffold(t, map[string]string{
		"pipelines/daily_sales.sf":   "",
		"pipelines/weekly_report.sf": "",
	})

	_, err := l.FindPipeline("daily")
	require.Error(t, err)

	var notFound *sqlflowerrors.PipelineNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "daily", notFound.Name)
	assert.Len(t, notFound.SearchedPaths, 2)
	assert.Equal(t, []string{"daily_sales"}, notFound.Candidates)
}

func TestListPipelines(t *testing.T) {
	l := scaffold(t, map[string]string{
		"pipelines/b.sf": "",
		"pipelines/a.sf": "",
		"c.sf":           "",
		"pipelines/a.txt": "",
	})

	assert.Equal(t, []string{"a", "b", "c"}, l.ListPipelines())
}

func TestListPipelinesShadowing(t *testing.T) {
	l := scaffold(t, map[string]string{
		"pipelines/x.sf": "",
		"x.sf":           "",
	})
	assert.Equal(t, []string{"x"}, l.ListPipelines())
}

func TestFindProfile(t *testing.T) {
	l := scaffold(t, map[string]string{
		"profiles/dev.yml":   "version: 1",
		"profiles/prod.yaml": "version: 1",
	})

	path, err := l.FindProfile("dev")
	require.NoError(t, err)
	assert.Contains(t, path, "dev.yml")

	path, err = l.FindProfile("prod")
	require.NoError(t, err)
	assert.Contains(t, path, "prod.yaml")
}

func TestFindProfileNotFound(t *testing.T) {
	l := scaffold(t, map[string]string{
		"profiles/dev.yml": "version: 1",
	})

	_, err := l.FindProfile("staging")
	require.Error(t, err)

	var notFound *sqlflowerrors.ProfileNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "staging", notFound.Name)
	assert.Equal(t, []string{"dev"}, notFound.Available)
}

func TestOutputDir(t *testing.T) {
	l := New("/proj")
	assert.Equal(t, filepath.Join("/proj", "target"), l.OutputDir())
}

func TestDefaultRoot(t *testing.T) {
	l := New("")
	assert.Equal(t, ".", l.Root)
}
