package modules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sxnnyside/obfusku/internal/bytecode"
)

func TestResolveLiteralPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thing.obk")
	require.NoError(t, os.WriteFile(path, []byte("⟁x=1⁂❧"), 0o644))

	l := NewLoader(nil)
	got, err := l.Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestResolveSearchPathSuffixes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "util.obk"), []byte("⟁x=1⁂❧"), 0o644))

	l := NewLoader([]string{dir})
	got, err := l.Resolve("util")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "util.obk"), got)
}

func TestResolveUnknownNameErrors(t *testing.T) {
	l := NewLoader([]string{t.TempDir()})
	_, err := l.Resolve("nope")
	assert.Error(t, err)
}

func TestReadSourceDetectsCycle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.obk"), []byte("⟁x=1⁂❧"), 0o644))

	l := NewLoader([]string{dir})
	_, err := l.ReadSource("a")
	require.NoError(t, err)

	_, err = l.ReadSource("a")
	require.Error(t, err)
	var cyc *CircularImportError
	assert.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"a", "a"}, cyc.Chain)

	l.Pop()
	l.Pop()
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "util.obk")
	require.NoError(t, os.WriteFile(src, []byte("⟁x=1⁂❧"), 0o644))
	manifest := "module: util\nexports:\n  - double\n  - half\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "obfusku.mod.yaml"), []byte(manifest), 0o644))

	m, err := LoadManifest(src)
	require.NoError(t, err)
	assert.Equal(t, "util", m.Module)
	assert.Equal(t, []string{"double", "half"}, m.Exports)
}

func TestLoadManifestMissingIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "util.obk")
	require.NoError(t, os.WriteFile(src, []byte("⟁x=1⁂❧"), 0o644))

	m, err := LoadManifest(src)
	require.NoError(t, err)
	assert.Empty(t, m.Exports)
}

func TestRegisterAndGet(t *testing.T) {
	l := NewLoader(nil)
	mod := &Module{Name: "m", Chunk: bytecode.NewChunk("m"), Exports: []string{"f"}}
	idx := l.Register("m", mod)

	got := l.Get(idx)
	require.NotNil(t, got)
	assert.Equal(t, "m", got.Name)

	found, foundIdx, ok := l.Lookup("m")
	assert.True(t, ok)
	assert.Equal(t, idx, foundIdx)
	assert.Same(t, mod, found)

	assert.Nil(t, l.Get(idx+1))
}
