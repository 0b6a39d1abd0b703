package farad

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// region is the memory-mapped byte range the allocator carves up. The
// backing file is pure scratch: it is created under dir if it does not
// already hold one, truncated to size, and mmap'd PROT_READ|PROT_WRITE
// MAP_SHARED so writes land in the page cache the same way they would
// against a real DAX-backed file. There is no requirement that the bytes
// survive the process, so region.close removes the backing file along with
// unmapping it.
type region struct {
	buf  []byte
	file *os.File
	path string
}

const regionFileName = "farad.pool"

// openRegion creates (or reuses) a fixed-size file under dir and maps it.
func openRegion(dir string, size uint64) (*region, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty backing path", ErrInvalidArgument)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("farad: creating backing directory: %w", err)
	}

	path := filepath.Join(dir, regionFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("farad: opening backing file: %w", err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("farad: sizing backing file: %w", err)
	}

	buf, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("farad: mmap: %w", err)
	}

	return &region{buf: buf, file: f, path: path}, nil
}

// close unmaps the region, closes, and removes the backing file: it is
// volatile scratch space, not meant to outlive the process.
func (r *region) close() error {
	var firstErr error
	if r.buf != nil {
		if err := unix.Munmap(r.buf); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("farad: munmap: %w", err)
		}
		r.buf = nil
	}
	if r.file != nil {
		if err := r.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("farad: closing backing file: %w", err)
		}
		r.file = nil
	}
	if r.path != "" {
		_ = os.Remove(r.path)
	}
	return firstErr
}
