package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/sqlflow/internal/ast"
)

func TestParseSourceTypeParams(t *testing.T) {
	pipe, err := Parse(`SOURCE customers TYPE CSV PARAMS {"path":"data/customers.csv","has_header":true};`, "test")
	require.NoError(t, err)
	require.Len(t, pipe.Steps, 1)

	src, ok := pipe.Steps[0].(*ast.SourceDefinition)
	require.True(t, ok)
	assert.Equal(t, "customers", src.Name)
	assert.Equal(t, "csv", src.ConnectorType)
	assert.Equal(t, "data/customers.csv", src.Params["path"])
	assert.Equal(t, true, src.Params["has_header"])
	assert.False(t, src.FromProfile)
}

func TestParseSourceFromProfile(t *testing.T) {
	pipe, err := Parse(`SOURCE orders FROM "warehouse_pg" OPTIONS {"schema": "public"};`, "test")
	require.NoError(t, err)

	src := pipe.Steps[0].(*ast.SourceDefinition)
	assert.True(t, src.FromProfile)
	assert.Equal(t, "warehouse_pg", src.ProfileConnector)
	assert.Equal(t, "public", src.Options["schema"])
}

func TestParseSourceFromProfileRejectsParams(t *testing.T) {
	_, err := Parse(`SOURCE orders FROM "pg" PARAMS {"a": 1};`, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PARAMS")
}

func TestParseSourceTypeRejectsOptions(t *testing.T) {
	_, err := Parse(`SOURCE o TYPE csv PARAMS {"path":"x"} OPTIONS {"a":1};`, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPTIONS")
}

func TestParseLoadModes(t *testing.T) {
	pipe, err := Parse(`
LOAD raw_customers FROM customers;
LOAD users FROM src MODE UPSERT KEY (id, email);
LOAD events FROM stream MODE APPEND;
`, "test")
	require.NoError(t, err)
	require.Len(t, pipe.Steps, 3)

	plain := pipe.Steps[0].(*ast.Load)
	assert.Equal(t, ast.ModeDefault, plain.Mode)

	upsert := pipe.Steps[1].(*ast.Load)
	assert.Equal(t, ast.ModeUpsert, upsert.Mode)
	assert.Equal(t, []string{"id", "email"}, upsert.UpsertKeys)

	app := pipe.Steps[2].(*ast.Load)
	assert.Equal(t, ast.ModeAppend, app.Mode)
}

func TestParseLoadKeyWithoutParens(t *testing.T) {
	pipe, err := Parse(`LOAD users FROM src MODE UPSERT KEY id, email;`, "test")
	require.NoError(t, err)
	load := pipe.Steps[0].(*ast.Load)
	assert.Equal(t, []string{"id", "email"}, load.UpsertKeys)
}

func TestParseCreateTable(t *testing.T) {
	pipe, err := Parse(`CREATE TABLE clean AS SELECT id, UPPER(name) AS name FROM raw_customers;`, "test")
	require.NoError(t, err)

	block := pipe.Steps[0].(*ast.SQLBlock)
	assert.Equal(t, "clean", block.TableName)
	assert.False(t, block.IsReplace)
	assert.Equal(t, "SELECT id, UPPER(name) AS name FROM raw_customers", block.SQL)
}

func TestParseCreateOrReplace(t *testing.T) {
	pipe, err := Parse(`CREATE OR REPLACE TABLE s AS SELECT 1;`, "test")
	require.NoError(t, err)
	block := pipe.Steps[0].(*ast.SQLBlock)
	assert.True(t, block.IsReplace)
}

func TestParseCreateModeMerge(t *testing.T) {
	pipe, err := Parse(`CREATE TABLE dim_users MODE MERGE KEY (user_id) AS SELECT * FROM staged;`, "test")
	require.NoError(t, err)
	block := pipe.Steps[0].(*ast.SQLBlock)
	assert.Equal(t, ast.ModeMerge, block.Mode)
	assert.Equal(t, []string{"user_id"}, block.MergeKeys)
}

func TestParseCreateModeIncremental(t *testing.T) {
	pipe, err := Parse(`CREATE TABLE events MODE INCREMENTAL BY event_time LOOKBACK 7 days AS SELECT * FROM raw_events;`, "test")
	require.NoError(t, err)
	block := pipe.Steps[0].(*ast.SQLBlock)
	assert.Equal(t, ast.ModeIncremental, block.Mode)
	assert.Equal(t, "event_time", block.TimeColumn)
	assert.Equal(t, "7 days", block.Lookback)
}

func TestModeAsColumnNameIsNotAModeClause(t *testing.T) {
	pipe, err := Parse(`CREATE TABLE t AS SELECT mode, count(*) FROM raw GROUP BY mode;`, "test")
	require.NoError(t, err)
	block := pipe.Steps[0].(*ast.SQLBlock)
	assert.Equal(t, ast.ModeDefault, block.Mode)
	assert.Contains(t, block.SQL, "SELECT mode")
}

func TestParseExport(t *testing.T) {
	pipe, err := Parse(`EXPORT SELECT * FROM clean TO "out/clean.csv" TYPE CSV OPTIONS {"header":true};`, "test")
	require.NoError(t, err)

	exp := pipe.Steps[0].(*ast.Export)
	assert.Equal(t, "SELECT * FROM clean", exp.SQL)
	assert.Equal(t, "out/clean.csv", exp.DestinationURI)
	assert.Equal(t, "csv", exp.ConnectorType)
	assert.Equal(t, true, exp.Options["header"])
}

func TestExportURIDequoting(t *testing.T) {
	pipe, err := Parse(`EXPORT SELECT 1 TO "client's_data.csv" TYPE csv OPTIONS {};`, "test")
	require.NoError(t, err)
	exp := pipe.Steps[0].(*ast.Export)
	assert.Equal(t, "client's_data.csv", exp.DestinationURI)

	pipe, err = Parse(`EXPORT SELECT 1 TO 'single.csv' TYPE csv OPTIONS {};`, "test")
	require.NoError(t, err)
	exp = pipe.Steps[0].(*ast.Export)
	assert.Equal(t, "single.csv", exp.DestinationURI)
}

func TestParseSet(t *testing.T) {
	pipe, err := Parse(`
SET env = 'dev';
SET retries = 3;
SET region = ${default_region};
`, "test")
	require.NoError(t, err)
	require.Len(t, pipe.Steps, 3)

	assert.Equal(t, "dev", pipe.Steps[0].(*ast.Set).Value)
	assert.Equal(t, "3", pipe.Steps[1].(*ast.Set).Value)
	assert.Equal(t, "${default_region}", pipe.Steps[2].(*ast.Set).Value)
}

func TestParseConditional(t *testing.T) {
	pipe, err := Parse(`
IF ${env} == 'production' THEN
  LOAD customers FROM cs;
ELSE IF ${env} == 'staging' THEN
  LOAD customers_stg FROM cs;
ELSE
  LOAD customers_raw FROM cs;
  CREATE TABLE sales AS SELECT * FROM sales_raw LIMIT 10;
END IF;
`, "test")
	require.NoError(t, err)
	require.Len(t, pipe.Steps, 1)

	block := pipe.Steps[0].(*ast.ConditionalBlock)
	require.Len(t, block.Branches, 2)
	assert.Equal(t, "${env} == 'production'", block.Branches[0].Condition)
	require.Len(t, block.Branches[0].Steps, 1)
	assert.Equal(t, "${env} == 'staging'", block.Branches[1].Condition)
	require.Len(t, block.Else, 2)
}

func TestParseNestedConditional(t *testing.T) {
	pipe, err := Parse(`
IF ${env} == 'prod' THEN
  IF ${debug} == true THEN
    SET level = 'debug';
  END IF;
  LOAD a FROM s;
END IF;
`, "test")
	require.NoError(t, err)

	block := pipe.Steps[0].(*ast.ConditionalBlock)
	require.Len(t, block.Branches, 1)
	require.Len(t, block.Branches[0].Steps, 2)
	_, ok := block.Branches[0].Steps[0].(*ast.ConditionalBlock)
	assert.True(t, ok)
}

func TestCommentsAreIgnored(t *testing.T) {
	pipe, err := Parse(`
-- load the raw data
LOAD raw FROM src; -- trailing comment
`, "test")
	require.NoError(t, err)
	require.Len(t, pipe.Steps, 1)
}

func TestLineNumbersRecorded(t *testing.T) {
	pipe, err := Parse("SET a = 1;\nLOAD t FROM s;\n", "test")
	require.NoError(t, err)
	assert.Equal(t, 1, pipe.Steps[0].Line())
	assert.Equal(t, 2, pipe.Steps[1].Line())
}

func TestMultilineJSONParams(t *testing.T) {
	pipe, err := Parse(`SOURCE api TYPE rest PARAMS {
  "url": "https://example.com/items",
  "method": "GET",
  "headers": {"Accept": "application/json"},
  "timeout": 30
};`, "test")
	require.NoError(t, err)
	src := pipe.Steps[0].(*ast.SourceDefinition)
	assert.Equal(t, "https://example.com/items", src.Params["url"])
	headers, ok := src.Params["headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "application/json", headers["Accept"])
}

func TestJSONParamsWithBareVariable(t *testing.T) {
	pipe, err := Parse(`SOURCE s TYPE csv PARAMS {"path": ${data_path}, "has_header": true};`, "test")
	require.NoError(t, err)
	src := pipe.Steps[0].(*ast.SourceDefinition)
	assert.Equal(t, "${data_path}", src.Params["path"])
}

func TestIncludeResolution(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.sf")
	main := filepath.Join(dir, "main.sf")

	require.NoError(t, os.WriteFile(base, []byte("SET env = 'dev';\n"), 0o644))
	require.NoError(t, os.WriteFile(main, []byte("INCLUDE 'base.sf' AS base;\nLOAD t FROM s;\n"), 0o644))

	pipe, err := ResolveFile(main)
	require.NoError(t, err)
	require.Len(t, pipe.Steps, 2)
	_, ok := pipe.Steps[0].(*ast.Set)
	assert.True(t, ok)
}

func TestIncludeCycleDetected(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.sf")
	b := filepath.Join(dir, "b.sf")

	require.NoError(t, os.WriteFile(a, []byte("INCLUDE 'b.sf' AS b;\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("INCLUDE 'a.sf' AS a;\n"), 0o644))

	_, err := ResolveFile(a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestSemicolonInsideStringLiteral(t *testing.T) {
	pipe, err := Parse(`CREATE TABLE t AS SELECT 'a;b' AS v;`, "test")
	require.NoError(t, err)
	block := pipe.Steps[0].(*ast.SQLBlock)
	assert.Equal(t, "SELECT 'a;b' AS v", block.SQL)
}

func TestCaseInsensitiveKeywords(t *testing.T) {
	pipe, err := Parse(`load raw from src;
create table t as select * from raw;`, "test")
	require.NoError(t, err)
	require.Len(t, pipe.Steps, 2)
}
