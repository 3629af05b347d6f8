package tileindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedWd(dir string) func() (string, error) {
	return func() (string, error) { return dir, nil }
}

// statOnly reports every listed path as present.
func statOnly(paths ...string) func(string) (os.FileInfo, error) {
	return func(p string) (os.FileInfo, error) {
		for _, want := range paths {
			if p == want {
				return nil, nil
			}
		}
		return nil, os.ErrNotExist
	}
}

func TestPathResolver(t *testing.T) {
	log, _ := test.NewNullLogger()
	base := filepath.FromSlash("/work/tiles")

	tests := []struct {
		name    string
		enabled bool
		path    string
		want    string
	}{
		{"disabled", false, "a.fgb", "a.fgb"},
		{"relative existing", true, "a.fgb", filepath.Join(base, "a.fgb")},
		{"relative nested", true, filepath.FromSlash("sub/b.fgb"), filepath.Join(base, "sub", "b.fgb")},
		{"relative missing", true, "missing.fgb", "missing.fgb"},
		{"absolute", true, filepath.FromSlash("/data/a.fgb"), filepath.FromSlash("/data/a.fgb")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newPathResolver(tt.enabled, fixedWd(base), log)
			r.stat = statOnly("a.fgb", filepath.FromSlash("sub/b.fgb"), filepath.FromSlash("/data/a.fgb"))
			assert.Equal(t, tt.want, r.resolve(tt.path))
		})
	}
}

func TestPathResolver_GetwdFails(t *testing.T) {
	log, hook := test.NewNullLogger()

	r := newPathResolver(true, func() (string, error) {
		return "", errors.New("getwd: no such file or directory")
	}, log)
	r.stat = statOnly("a.fgb")

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	// Paths pass through unchanged for the rest of the run.
	assert.Equal(t, "a.fgb", r.resolve("a.fgb"))
	assert.Equal(t, "b.fgb", r.resolve("b.fgb"))
	assert.Len(t, hook.Entries, 1)
}

func TestPathResolver_RealFile(t *testing.T) {
	log, _ := test.NewNullLogger()
	dir := t.TempDir()
	prevWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prevWd) })

	require.NoError(t, os.WriteFile("tile.fgb", []byte("x"), 0o644))

	r := newPathResolver(true, os.Getwd, log)
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "tile.fgb"), r.resolve("tile.fgb"))
	assert.Equal(t, "other.fgb", r.resolve("other.fgb"))
}
