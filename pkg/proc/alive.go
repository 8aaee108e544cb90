package proc

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"syscall"
)

// ProcessAlive reports whether pid refers to a live (non-zombie) process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if isZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return stderrors.Is(err, syscall.EPERM)
}

func isZombie(pid int) bool {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// pid (comm) state ... — the state char follows the closing ')'.
	i := bytes.LastIndexByte(b, ')')
	if i < 0 {
		return false
	}
	fields := bytes.Fields(bytes.TrimSpace(b[i+1:]))
	return len(fields) > 0 && len(fields[0]) > 0 && fields[0][0] == 'Z'
}
