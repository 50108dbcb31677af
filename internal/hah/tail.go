package hah

import (
	"io"
	"os"
	"strings"
)

// logTail reads lines appended to a log file. It starts at the end of the
// file, rewinds when the file shrinks and keeps an unterminated last line
// until the rest of it arrives.
type logTail struct {
	path    string
	offset  int64
	partial string
}

func newLogTail(path string) *logTail {
	t := &logTail{path: path}
	if fi, err := os.Stat(path); err == nil {
		t.offset = fi.Size()
	}
	return t
}

func (t *logTail) read() ([]string, error) {
	f, err := os.Open(t.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() < t.offset {
		// truncated or rotated
		t.offset = 0
		t.partial = ""
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, err
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	t.offset += int64(len(b))

	lines := strings.Split(t.partial+string(b), "\n")
	t.partial = lines[len(lines)-1]

	return lines[:len(lines)-1], nil
}
