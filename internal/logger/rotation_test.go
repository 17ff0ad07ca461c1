package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "nested", "agerus.log")

	w, err := NewRotatingWriter(filename, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	assert.FileExists(t, filename)
	assert.Equal(t, int64(1024*1024), w.maxSize)
}

func TestRotatingWriterWrite(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "agerus.log")

	w, err := NewRotatingWriter(filename, 0, 0)
	require.NoError(t, err)

	n, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingWriterRotation(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "agerus.log")

	w, err := NewRotatingWriter(filename, 1, 2)
	require.NoError(t, err)
	defer w.Close()
	w.maxSize = 10

	for _, line := range []string{"first-001\n", "second-02\n", "third-003\n", "fourth-04\n"} {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	current, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "fourth-04\n", string(current))

	backup1, err := os.ReadFile(filename + ".1")
	require.NoError(t, err)
	assert.Equal(t, "third-003\n", string(backup1))

	backup2, err := os.ReadFile(filename + ".2")
	require.NoError(t, err)
	assert.Equal(t, "second-02\n", string(backup2))

	assert.NoFileExists(t, filename+".3")
}

func TestRotatingWriterWithoutBackups(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "agerus.log")

	w, err := NewRotatingWriter(filename, 1, 0)
	require.NoError(t, err)
	defer w.Close()
	w.maxSize = 8

	_, err = w.Write([]byte(strings.Repeat("a", 8)))
	require.NoError(t, err)
	_, err = w.Write([]byte("b"))
	require.NoError(t, err)

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))
	assert.NoFileExists(t, filename+".1")
}
