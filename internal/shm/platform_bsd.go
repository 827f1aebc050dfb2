//go:build unix && !linux

package shm

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"
)

const reserveFlags = unix.MAP_PRIVATE | unix.MAP_ANON

// No memfd here: the segment is a temp file unlinked right after creation,
// so the descriptor is its only reference.
func openSegmentFd(name string, size uintptr) (int, error) {
	dir := os.TempDir()
	if stat, err := disk.Usage(dir); err == nil && stat.Free < uint64(size) {
		return -1, fmt.Errorf("%w: dir %s, free %d, size %d", ErrNoSpace, dir, stat.Free, size)
	}
	f, err := os.CreateTemp(dir, name+"-*.shm")
	if err != nil {
		return -1, fmt.Errorf("create segment file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if err := os.Remove(f.Name()); err != nil {
		return -1, fmt.Errorf("unlink segment file: %w", err)
	}
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return -1, fmt.Errorf("dup: %w", err)
	}
	unix.CloseOnExec(fd)
	return fd, nil
}
