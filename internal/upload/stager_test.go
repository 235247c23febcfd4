package upload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStage_WritesFileToDisk(t *testing.T) {
	dir := t.TempDir()
	stager := NewStager(filepath.Join(dir, "staging"), zap.NewNop(), nil)

	staged, err := stager.Stage(strings.NewReader("report content"), "report.pdf", "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, "report.pdf", staged.OriginalName)
	assert.Equal(t, "application/pdf", staged.ContentType)
	assert.Equal(t, int64(len("report content")), staged.Size)
	assert.Equal(t, ".pdf", filepath.Ext(staged.Path))

	content, err := os.ReadFile(staged.Path)
	require.NoError(t, err)
	assert.Equal(t, "report content", string(content))
}

func TestStage_CreatesDirectoryOnFirstUse(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does", "not", "exist", "yet")
	stager := NewStager(dir, zap.NewNop(), nil)

	_, err := stager.Stage(strings.NewReader("x"), "a.png", "image/png")
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStage_UniqueNamesForSameFilename(t *testing.T) {
	stager := NewStager(t.TempDir(), zap.NewNop(), nil)

	a, err := stager.Stage(strings.NewReader("one"), "scan.jpg", "image/jpeg")
	require.NoError(t, err)
	b, err := stager.Stage(strings.NewReader("two"), "scan.jpg", "image/jpeg")
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
}

func TestRelease_DeletesFile(t *testing.T) {
	stager := NewStager(t.TempDir(), zap.NewNop(), nil)

	staged, err := stager.Stage(strings.NewReader("x"), "a.pdf", "application/pdf")
	require.NoError(t, err)

	stager.Release(staged)

	_, err = os.Stat(staged.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestRelease_IdempotentWhenFileAlreadyGone(t *testing.T) {
	stager := NewStager(t.TempDir(), zap.NewNop(), nil)

	staged, err := stager.Stage(strings.NewReader("x"), "a.pdf", "application/pdf")
	require.NoError(t, err)

	stager.Release(staged)
	// Second release of the same file must be a no-op, not a panic or error.
	stager.Release(staged)
	stager.Release(nil)
}

func TestReleaseAll_EmptiesDirectory(t *testing.T) {
	dir := t.TempDir()
	stager := NewStager(dir, zap.NewNop(), nil)

	var staged []*StagedFile
	for _, name := range []string{"a.pdf", "b.jpg", "c.png"} {
		f, err := stager.Stage(strings.NewReader(name), name, "application/pdf")
		require.NoError(t, err)
		staged = append(staged, f)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	stager.ReleaseAll(staged)

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
