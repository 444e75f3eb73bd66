package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// PostgresDSNEnv names the scratch database used by Postgres-backed tests.
const PostgresDSNEnv = "AGENTSTACK_TEST_DATABASE_URL"

// PostgresDSN returns the scratch database DSN. Skips the test if it is not
// set or if running in short mode.
func PostgresDSN(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Postgres test in short mode")
	}
	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set, skipping Postgres test", PostgresDSNEnv)
	}
	return dsn
}

// WriteConfigFile writes content as agentstack.yaml in dir and returns its path.
func WriteConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "agentstack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// MustMarshalJSON marshals a value to JSON, failing the test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// MustUnmarshalJSON unmarshals JSON data into v, failing the test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v))
}
