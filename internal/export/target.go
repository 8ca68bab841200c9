package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// ErrDriveMissing indicates the removable media mount point is absent.
var ErrDriveMissing = errors.New("export drive not present")

// ErrDriveFull indicates the drive is below the free-space floor.
var ErrDriveFull = errors.New("export drive below minimum free space")

const lockFileName = ".tally-export.lock"

// Target is the removable-media destination for cast vote records. Writes
// are guarded by a file lock so a second process on the same drive cannot
// interleave.
type Target struct {
	dir          string
	minFreeBytes uint64
}

// NewTarget returns a target over a mount directory.
func NewTarget(dir string, minFreeSpaceMiB int) *Target {
	return &Target{
		dir:          dir,
		minFreeBytes: uint64(minFreeSpaceMiB) * 1024 * 1024,
	}
}

// Dir returns the mount directory.
func (t *Target) Dir() string { return t.dir }

// Available checks that the drive is mounted and has room for a write.
func (t *Target) Available() error {
	info, err := os.Stat(t.dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrDriveMissing, t.dir)
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(t.dir, &stat); err != nil {
		return fmt.Errorf("statfs %s: %w", t.dir, err)
	}
	free := stat.Bavail * uint64(stat.Bsize)
	if free < t.minFreeBytes {
		return fmt.Errorf("%w: %d bytes free", ErrDriveFull, free)
	}
	return nil
}

// AppendRecord appends one serialized record line to the named file under
// the drive lock and forces it to media before returning.
func (t *Target) AppendRecord(filename string, record []byte) error {
	if err := t.Available(); err != nil {
		return err
	}

	lock := flock.New(filepath.Join(t.dir, lockFileName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock export drive: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	path := filepath.Join(t.dir, filename)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open export file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(record); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if len(record) == 0 || record[len(record)-1] != '\n' {
		if _, err := file.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("write record terminator: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync export file: %w", err)
	}
	return syncDir(t.dir)
}

// WriteMarker creates a named marker file on the drive.
func (t *Target) WriteMarker(filename string, contents []byte) error {
	if err := t.Available(); err != nil {
		return err
	}

	lock := flock.New(filepath.Join(t.dir, lockFileName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock export drive: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	path := filepath.Join(t.dir, filename)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open marker file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(contents); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync marker: %w", err)
	}
	return syncDir(t.dir)
}

func syncDir(dir string) error {
	handle, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open export dir: %w", err)
	}
	defer handle.Close()
	if err := handle.Sync(); err != nil {
		return fmt.Errorf("sync export dir: %w", err)
	}
	return nil
}
