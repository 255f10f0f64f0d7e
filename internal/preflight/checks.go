package preflight

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"tadeval/internal/rawpred"
)

// maxSocketPath is the sun_path limit on Linux, including the trailing NUL.
const maxSocketPath = 108

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckReadableFile verifies that path is a non-empty regular file the
// process can read.
func CheckReadableFile(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.Mode().IsRegular() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not a regular file)", path)}
	}
	if info.Size() == 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: empty)", path)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d bytes)", path, info.Size())}
}

// CheckRawPredictions verifies that dir holds rank files to replay. A
// missing rank is only a warning: replay is keyed by window, and a later
// detector lookup fails with the exact window when one is absent.
func CheckRawPredictions(dir string, worldSize int) Result {
	const name = "Raw predictions"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", dir, err)}
	}
	present := make(map[string]bool)
	for _, entry := range entries {
		present[entry.Name()] = true
	}
	var missing []string
	found := 0
	for rank := 0; rank < max(worldSize, 1); rank++ {
		file := rawpred.FileName(rank)
		if present[file] {
			found++
		} else {
			missing = append(missing, file)
		}
	}
	switch {
	case found == 0 && countRankFiles(entries) == 0:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: no %s files)", dir, rawpred.FileName(0))}
	case len(missing) > 0:
		return Result{Name: name, Passed: true, Warning: true,
			Detail: fmt.Sprintf("%s (missing %s)", dir, strings.Join(missing, ", "))}
	default:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d rank files)", dir, found)}
	}
}

func countRankFiles(entries []os.DirEntry) int {
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && rawpred.IsRankFile(entry.Name()) {
			n++
		}
	}
	return n
}

// CheckGatherSocket verifies the gather socket path fits the kernel limit
// and that its directory is writable. A leftover socket file with no
// listener is reported as a warning since the coordinator replaces it.
func CheckGatherSocket(path string) Result {
	const name = "Gather socket"
	if len(path) >= maxSocketPath {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: path longer than %d bytes)", path, maxSocketPath-1)}
	}
	dir := filepath.Dir(path)
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: directory not writable: %v)", dir, err)}
	}
	if _, err := os.Stat(path); err == nil {
		conn, err := net.Dial("unix", path)
		if err != nil {
			return Result{Name: name, Passed: true, Warning: true, Detail: fmt.Sprintf("%s (stale socket will be replaced)", path)}
		}
		conn.Close()
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: another coordinator is listening)", path)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckBind verifies the API address can be bound.
func CheckBind(addr string) Result {
	const name = "API bind"
	if strings.TrimSpace(addr) == "" {
		return Result{Name: name, Passed: true, Detail: "disabled"}
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", addr, opErr.Err)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", addr, err)}
	}
	listener.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (available)", addr)}
}
