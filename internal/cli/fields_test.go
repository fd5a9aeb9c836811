package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldArgs(t *testing.T) {
	t.Run("should accept every field syntax", func(t *testing.T) {
		positional, fields, err := parseFieldArgs([]string{
			"create", "--name=Widget", "--unit-price", "9.5", "category=tools", "--active",
		})
		require.NoError(t, err)

		assert.Equal(t, []string{"create"}, positional)
		assert.Equal(t, map[string]any{
			"name":       "Widget",
			"unit_price": "9.5",
			"category":   "tools",
			"active":     "true",
		}, fields)
	})

	t.Run("should decode JSON values", func(t *testing.T) {
		_, fields, err := parseFieldArgs([]string{"batch", `--items=[{"name":"a"},{"name":"b"}]`, `--meta={"k":1}`})
		require.NoError(t, err)

		items, ok := fields["items"].([]any)
		require.True(t, ok)
		assert.Len(t, items, 2)
		assert.Equal(t, map[string]any{"k": float64(1)}, fields["meta"])
	})

	t.Run("should keep malformed JSON as text", func(t *testing.T) {
		_, fields, err := parseFieldArgs([]string{"read", "--filter=[oops"})
		require.NoError(t, err)
		assert.Equal(t, "[oops", fields["filter"])
	})

	t.Run("should treat key=value before the operation as positional", func(t *testing.T) {
		positional, fields, err := parseFieldArgs([]string{"a=b"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a=b"}, positional)
		assert.Empty(t, fields)
	})

	t.Run("should reject an empty key", func(t *testing.T) {
		_, _, err := parseFieldArgs([]string{"read", "--=x"})
		assert.Error(t, err)
	})

	t.Run("should apply global flags", func(t *testing.T) {
		oldCfg, oldLevel, oldEnv := cfgFile, logLevel, envFiles
		t.Cleanup(func() { cfgFile, logLevel, envFiles = oldCfg, oldLevel, oldEnv })

		_, fields, err := parseFieldArgs([]string{"read", "--config", "/tmp/a.json", "--log-level=debug", "--env-file=.env.test"})
		require.NoError(t, err)

		assert.Empty(t, fields)
		assert.Equal(t, "/tmp/a.json", cfgFile)
		assert.Equal(t, "debug", logLevel)
		assert.Contains(t, envFiles, ".env.test")
	})
}

func TestWantsHelp(t *testing.T) {
	assert.True(t, wantsHelp([]string{"create", "--help"}))
	assert.True(t, wantsHelp([]string{"-h"}))
	assert.False(t, wantsHelp([]string{"create", "--name=help"}))
}

func TestPrintJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, printJSON(buf, map[string]any{"status": "success"}))
	assert.Equal(t, "{\n  \"status\": \"success\"\n}\n", buf.String())
}
