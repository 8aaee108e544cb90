// Package state persists the outcome of the most recent launch under the
// application root.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const (
	StateDirName  = ".backendctl"
	RunRecordName = "last_run.json"
	LogsDirName   = "logs"
)

// RunRecord captures one launcher run end to end.
type RunRecord struct {
	Root       string    `json:"root"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	VenvPath string `json:"venv_path,omitempty"`

	InitExitCode   *int     `json:"init_exit_code,omitempty"`
	InitStderrTail []string `json:"init_stderr_tail,omitempty"`

	ServerPID      int    `json:"server_pid,omitempty"`
	ServerExitCode *int   `json:"server_exit_code,omitempty"`
	ServerSignal   string `json:"server_signal,omitempty"`

	Error string `json:"error,omitempty"`
}

func RunRecordPath(root string) string {
	return filepath.Join(root, StateDirName, RunRecordName)
}

func LogsDir(root string) string {
	return filepath.Join(root, StateDirName, LogsDirName)
}

func WriteRunRecord(root string, rec *RunRecord) error {
	if rec == nil {
		return errors.New("nil run record")
	}
	path := RunRecordPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "mkdir state dir")
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal run record")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrap(err, "write run record")
	}
	return nil
}

func ReadRunRecord(root string) (*RunRecord, error) {
	b, err := os.ReadFile(RunRecordPath(root))
	if err != nil {
		return nil, errors.Wrap(err, "read run record")
	}
	var rec RunRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, errors.Wrap(err, "parse run record json")
	}
	return &rec, nil
}
