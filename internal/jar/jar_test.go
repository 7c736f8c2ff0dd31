package jar

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeZip creates a zip at path with the given entries, in order. Names
// ending in '/' become directory entries.
func writeZip(t *testing.T, path string, entries [][2]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e[0])
		require.NoError(t, err)
		_, err = w.Write([]byte(e[1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func fixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "android-all.jar")
	writeZip(t, path, [][2]string{
		{"META-INF/MANIFEST.MF", "Manifest-Version: 1.0\n"},
		{"android/", ""},
		{"android/os/Looper.class", "looper"},
		{"android/os/Looper$Observer.class", "observer"},
		{"android/icu/impl/data/icudt.dat", "icu"},
		{"org/json/JSONObject.class", "json"},
	})
	return path
}

func TestOpen(t *testing.T) {
	a, err := Open(fixture(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{"android.os.Looper", "android.os.Looper$Observer", "org.json.JSONObject"}, a.Classes())
	assert.Equal(t, []string{"META-INF/MANIFEST.MF", "android/icu/impl/data/icudt.dat"}, a.Resources())

	data, err := a.ReadClass("android.os.Looper$Observer")
	require.NoError(t, err)
	assert.Equal(t, "observer", string(data))
	assert.True(t, a.HasClass("org.json.JSONObject"))
	assert.False(t, a.HasClass("org.json.JSONArray"))

	_, err = a.ReadFile("missing")
	assert.True(t, errors.Is(err, ErrNoEntry))
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "absent.jar"))
	assert.True(t, errors.Is(err, ErrArchiveRead))

	bad := filepath.Join(dir, "bad.jar")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0o644))
	_, err = Open(bad)
	assert.True(t, errors.Is(err, ErrArchiveRead))
}

func TestCopyResources(t *testing.T) {
	a, err := Open(fixture(t))
	require.NoError(t, err)
	defer a.Close()

	dir := t.TempDir()
	stale := filepath.Join(dir, "android", "icu", "impl", "data", "icudt.dat")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	n, err := CopyResources(a, a.Resources(), []string{"android/icu/", "", "org/json/"}, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	data, err := os.ReadFile(stale)
	require.NoError(t, err)
	assert.Equal(t, "icu", string(data))
	assert.NoFileExists(t, filepath.Join(dir, "META-INF", "MANIFEST.MF"))
}

func TestPack_Deterministic(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"de/mobilej/ABridge.class": "bridge",
		"android/os/Looper.class":  "looper",
		"android/icu/data.dat":     "icu",
	}
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty", "dir"), 0o755))

	out := t.TempDir()
	first := filepath.Join(out, "a.jar")
	second := filepath.Join(out, "b.jar")
	require.NoError(t, Pack(dir, first))
	require.NoError(t, Pack(dir, second))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, a, b, "packing the same tree twice is byte-identical")

	zr, err := zip.OpenReader(first)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		assert.True(t, f.Modified.Equal(FixedTime), f.Name)
	}
	assert.Equal(t, []string{"android/icu/data.dat", "android/os/Looper.class", "de/mobilej/ABridge.class"}, names)

	arch, err := Open(first)
	require.NoError(t, err)
	defer arch.Close()
	data, err := arch.ReadClass("de.mobilej.ABridge")
	require.NoError(t, err)
	assert.Equal(t, "bridge", string(data))
}

func TestPack_Errors(t *testing.T) {
	dir := t.TempDir()
	err := Pack(filepath.Join(dir, "missing"), filepath.Join(dir, "out.jar"))
	assert.True(t, errors.Is(err, ErrArchiveWrite))

	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	err = Pack(t.TempDir(), filepath.Join(blocker, "out.jar"))
	assert.True(t, errors.Is(err, ErrArchiveWrite))
}

func TestSanitizePath(t *testing.T) {
	for in, want := range map[string]string{
		"a/b/c.txt":     "a/b/c.txt",
		"/abs/x":        "abs/x",
		"a/../../etc/x": "etc/x",
		"./a//b":        "a/b",
		"..":            "entry",
	} {
		assert.Equal(t, want, SanitizePath(in), in)
	}
}
