package adapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"r":16}`), 0o644))
}

func TestResolveDirect(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, ConfigFileName))
	// a nested config must not win over the direct one
	touch(t, filepath.Join(root, "a", ConfigFileName))

	loc, err := Resolve(root, false)
	require.NoError(t, err)
	assert.Equal(t, root, loc.Dir)
	assert.Equal(t, filepath.Join(root, ConfigFileName), loc.ConfigPath)
}

func TestResolveNestedRunDir(t *testing.T) {
	// /data/adapters/run1/adapter_config.json -> /data/adapters/run1
	root := filepath.Join(t.TempDir(), "data", "adapters")
	touch(t, filepath.Join(root, "run1", ConfigFileName))

	loc, err := Resolve(root, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "run1"), loc.Dir)
}

func TestResolveDepthTwo(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "outputs", "checkpoint-100", ConfigFileName))

	loc, err := Resolve(root, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "outputs", "checkpoint-100"), loc.Dir)
}

func TestResolveFirstMatchIsLexical(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "run2", ConfigFileName))
	touch(t, filepath.Join(root, "run1", ConfigFileName))

	for i := 0; i < 3; i++ {
		loc, err := Resolve(root, false)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "run1"), loc.Dir)
	}
}

func TestResolveRespectsDepthBound(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a", "b", "c", "d", ConfigFileName))

	_, err := Resolve(root, false)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	r := DefaultResolver
	r.MaxSearchDepth = 4
	loc, err := r.Resolve(root, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b", "c", "d"), loc.Dir)
}

func TestResolveNotFound(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "run1", "adapter_model.safetensors"))

	_, err := Resolve(root, false)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), root)
	assert.Contains(t, err.Error(), "ADAPTER_DIR")
}

func TestResolveMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	_, err := Resolve(root, false)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, root, nf.Root)
}

func TestResolveIsolatedDefaults(t *testing.T) {
	project := t.TempDir()
	r := Resolver{
		ProjectRoot:    project,
		IsolatedRoot:   filepath.Join(project, "adapters"),
		LocalRoot:      "adapters",
		MaxSearchDepth: 3,
	}
	touch(t, filepath.Join(project, "adapters", "lora", ConfigFileName))

	loc, err := r.Resolve("", true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(project, "adapters", "lora"), loc.Dir)

	// relative roots are anchored at the project root when isolated
	loc, err = r.Resolve("adapters/lora", true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(project, "adapters", "lora"), loc.Dir)
}

func TestResolveLocalRelativeUsesWorkingDir(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	touch(t, filepath.Join(dir, "adapters", ConfigFileName))
	loc, err := Resolve("", false)
	require.NoError(t, err)
	// t.TempDir may sit behind a symlink (macOS /var -> /private/var)
	want, _ := filepath.EvalSymlinks(filepath.Join(dir, "adapters"))
	got, _ := filepath.EvalSymlinks(loc.Dir)
	assert.Equal(t, want, got)
}
