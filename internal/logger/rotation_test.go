package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter(t *testing.T) {
	t.Run("should create missing directories", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "nested", "agentkit.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("should move the file aside once it is full", func(t *testing.T) {
		dir := t.TempDir()
		logFile := filepath.Join(dir, "agentkit.log")

		rw, err := NewRotatingWriter(logFile, 1, 0, false)
		require.NoError(t, err)
		defer rw.Close()

		chunk := bytes.Repeat([]byte("x"), 700*1024)
		_, err = rw.Write(chunk)
		require.NoError(t, err)
		_, err = rw.Write(chunk)
		require.NoError(t, err)

		rotated, err := filepath.Glob(logFile + ".*")
		require.NoError(t, err)
		assert.Len(t, rotated, 1)

		info, err := os.Stat(logFile)
		require.NoError(t, err)
		assert.Equal(t, int64(len(chunk)), info.Size())
	})

	t.Run("should tolerate double close", func(t *testing.T) {
		rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "a.log"), 1, 0, false)
		require.NoError(t, err)
		assert.NoError(t, rw.Close())
		assert.NoError(t, rw.Close())
	})
}

func TestGzipFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentkit.log.1")
	require.NoError(t, os.WriteFile(path, []byte("old lines"), 0o644))

	require.NoError(t, gzipFile(path))

	_, err := os.Stat(path + ".gz")
	assert.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "agentkit.log")

	stale := logFile + ".20200101-120000.000"
	fresh := logFile + ".20990101-120000.000"
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("new"), 0o644))
	old := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(stale, old, old))

	rw := &RotatingWriter{filename: logFile, maxAge: 7}
	rw.prune()

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
