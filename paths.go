package tileindex

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// pathResolver rewrites relative source paths against the working directory
// captured at run start.
type pathResolver struct {
	base    string
	enabled bool
	stat    func(string) (os.FileInfo, error)
}

func newPathResolver(enabled bool, getwd func() (string, error), log logrus.FieldLogger) *pathResolver {
	r := &pathResolver{stat: os.Stat}
	if !enabled {
		return r
	}

	wd, err := getwd()
	if err != nil || wd == "" {
		log.WithError(err).Warn("Cannot determine the current directory, absolute paths will not be written")
		return r
	}

	r.base, r.enabled = wd, true
	return r
}

// resolve returns the path written into location tokens. Only relative paths that
// exist on disk are rewritten, so driver-specific names pass through untouched.
func (r *pathResolver) resolve(path string) string {
	if !r.enabled || filepath.IsAbs(path) {
		return path
	}
	if _, err := r.stat(path); err != nil {
		return path
	}
	return filepath.Join(r.base, path)
}
