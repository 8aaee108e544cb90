// Package venv resolves an optional Python virtual environment into an
// explicit environment slice for subprocess spawns. Activation never mutates
// the launcher's own process environment.
package venv

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// Env describes a resolved virtual environment on disk.
type Env struct {
	Root   string
	BinDir string
}

// BinDirName is the scripts directory inside a virtualenv for this OS.
func BinDirName() string {
	if runtime.GOOS == "windows" {
		return "Scripts"
	}
	return "bin"
}

// Resolve checks for a virtual environment at path. An absent path is the
// expected containerized-deployment case and returns (nil, nil). A present
// but malformed environment (no bin directory) is an error: launching with a
// half-activated interpreter would fail in confusing ways later.
func Resolve(path string) (*Env, error) {
	if path == "" {
		return nil, errors.New("missing venv path")
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "stat venv")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("venv path %s is not a directory", path)
	}

	binDir := filepath.Join(path, BinDirName())
	binInfo, err := os.Stat(binDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("venv %s has no %s directory", path, BinDirName())
		}
		return nil, errors.Wrap(err, "stat venv bin dir")
	}
	if !binInfo.IsDir() {
		return nil, errors.Errorf("venv %s: %s is not a directory", path, BinDirName())
	}

	return &Env{Root: path, BinDir: binDir}, nil
}

// Environ applies activation to a base environment: VIRTUAL_ENV is set, the
// bin directory is prepended to PATH, and PYTHONHOME is dropped. The base
// slice is not modified.
func (e *Env) Environ(base []string) []string {
	out := make([]string, 0, len(base)+2)
	sawPath := false
	for _, kv := range base {
		k, _, ok := strings.Cut(kv, "=")
		if !ok {
			out = append(out, kv)
			continue
		}
		switch {
		case envKeyEquals(k, "VIRTUAL_ENV") || envKeyEquals(k, "PYTHONHOME"):
			// replaced or dropped below
		case envKeyEquals(k, "PATH"):
			sawPath = true
			out = append(out, k+"="+e.BinDir+string(os.PathListSeparator)+kv[len(k)+1:])
		default:
			out = append(out, kv)
		}
	}
	if !sawPath {
		out = append(out, "PATH="+e.BinDir)
	}
	out = append(out, "VIRTUAL_ENV="+e.Root)
	return out
}

func envKeyEquals(key, want string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(key, want)
	}
	return key == want
}
