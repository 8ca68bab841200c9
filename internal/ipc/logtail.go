package ipc

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

const defaultTailLimit = 200

// tailFile reads up to limit whole lines starting at offset and returns the
// next offset. A negative offset starts near the end of the file so a first
// call shows recent output without replaying the whole log.
func tailFile(path string, offset int64, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	size := info.Size()

	if limit <= 0 {
		limit = defaultTailLimit
	}
	derived := false
	if offset < 0 || offset > size {
		// Roughly limit lines from the end; long lines just shrink the
		// window.
		derived = true
		offset = size - int64(limit)*256
		if offset < 0 {
			offset = 0
		}
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReader(file)
	pos := offset
	if derived && offset > 0 {
		// A derived offset lands mid-line; a caller-supplied offset is a
		// line boundary from a previous call and must not skip anything.
		skipped, err := reader.ReadString('\n')
		if err != nil {
			return nil, offset, nil
		}
		pos += int64(len(skipped))
	}

	var lines []string
	for len(lines) < limit {
		line, err := reader.ReadString('\n')
		if err != nil {
			// A trailing fragment without a newline stays unread until
			// the writer finishes it.
			break
		}
		pos += int64(len(line))
		lines = append(lines, line[:len(line)-1])
	}
	return lines, pos, nil
}
