package proc

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Defaults sized for tailing an init step's stderr tee into the run record.
const (
	DefaultTailLines = 25
	DefaultTailBytes = 1 << 20
)

// TailLines returns the last tailLines lines of the file at path, reading at
// most maxBytes from its end.
func TailLines(path string, tailLines int, maxBytes int64) ([]string, error) {
	if path == "" {
		return nil, errors.New("missing path")
	}
	if tailLines <= 0 {
		tailLines = DefaultTailLines
	}
	if maxBytes <= 0 {
		maxBytes = DefaultTailBytes
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat")
	}
	start := int64(0)
	if info.Size() > maxBytes {
		start = info.Size() - maxBytes
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek")
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}
	if start > 0 {
		// Drop the partial first line when we started mid-file.
		if i := bytes.IndexByte(b, '\n'); i >= 0 && i+1 < len(b) {
			b = b[i+1:]
		}
	}

	lines := strings.Split(string(b), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > tailLines {
		lines = append([]string{}, lines[len(lines)-tailLines:]...)
	}
	return lines, nil
}
