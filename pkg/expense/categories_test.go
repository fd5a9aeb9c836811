package expense

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategories_HotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "categories.json")

	c := NewCategories(path, zerolog.Nop())
	c.debounce = 10 * time.Millisecond
	require.NoError(t, c.Watch())
	defer c.Stop()

	_, err := c.Get()
	assert.ErrorIs(t, err, errCategoriesMissing)

	require.NoError(t, os.WriteFile(path, []byte(`["Food"]`), 0o600))
	assert.Eventually(t, func() bool {
		data, err := c.Get()
		return err == nil && assert.ObjectsAreEqual([]any{"Food"}, data)
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`["Food", "Travel"]`), 0o600))
	assert.Eventually(t, func() bool {
		data, _ := c.Get()
		return assert.ObjectsAreEqual([]any{"Food", "Travel"}, data)
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		_, err := c.Get()
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCategories_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.json")
	require.NoError(t, os.WriteFile(path, []byte(`{nope`), 0o600))

	_, err := NewCategories(path, zerolog.Nop()).Get()
	assert.ErrorContains(t, err, "invalid categories.json")
}

func TestCategories_StopIsIdempotent(t *testing.T) {
	c := NewCategories(filepath.Join(t.TempDir(), "categories.json"), zerolog.Nop())
	require.NoError(t, c.Watch())
	assert.NoError(t, c.Stop())
	assert.NoError(t, c.Stop())
}
