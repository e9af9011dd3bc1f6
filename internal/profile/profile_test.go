package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfile = `
version: "1.0"
variables:
  env: dev
  region: us-east
connectors:
  local_files:
    type: csv
    params:
      path: data/
      has_header: true
  warehouse:
    type: postgres
    params:
      host: localhost
      port: 5432
      database: analytics
engines:
  duckdb:
    mode: memory
`

func TestParseProfile(t *testing.T) {
	p, warnings, err := Parse([]byte(sampleProfile), "dev.yml")
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, "dev", p.Variables["env"])
	conn, ok := p.ConnectorNamed("warehouse")
	require.True(t, ok)
	assert.Equal(t, "postgres", conn.Type)
	assert.Equal(t, "localhost", conn.Params["host"])

	eng := p.EngineConfig("duckdb")
	assert.Equal(t, "memory", eng.Mode)
}

func TestUnknownParamsWarn(t *testing.T) {
	src := `
version: "1.0"
connectors:
  files:
    type: csv
    params:
      path: data/
      compression: gzip
`
	_, warnings, err := Parse([]byte(src), "p.yml")
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "compression")
}

func TestVersionSkewWarns(t *testing.T) {
	_, warnings, err := Parse([]byte(`version: "2.0"`), "p.yml")
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], `"2.0"`)
}

func TestUnknownConnectorTypeFails(t *testing.T) {
	src := `
version: "1.0"
connectors:
  files:
    type: ftp
    params: {}
`
	_, _, err := Parse([]byte(src), "p.yml")
	require.Error(t, err)
}

func TestMissingVersionFails(t *testing.T) {
	_, _, err := Parse([]byte(`variables: {a: 1}`), "p.yml")
	require.Error(t, err)
}

func TestDefaultEngineConfig(t *testing.T) {
	p, _, err := Parse([]byte(`version: "1.0"`), "p.yml")
	require.NoError(t, err)
	eng := p.EngineConfig("duckdb")
	assert.Equal(t, "memory", eng.Mode)
}
