package hah

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// H@H cuts long gallery names when it creates the directory.
const maxNamePrefix = 99

var (
	ErrNoGallery = errors.New("no single gallery directory")

	finishedRe = regexp.MustCompile(`Finished download of gallery: (.+)`)
	createdRe  = regexp.MustCompile(`Created directory download/(.+)`)
	folderRe   = regexp.MustCompile(`^(.*) \[\d+\]$`)
)

// parseFinished returns the gallery name of a finished download line.
func parseFinished(line string) string {
	m := finishedRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil {
		return ""
	}
	return m[1]
}

// parseFolder maps a directory creation line to the gallery name and the
// directory name, which carries the gallery id.
func parseFolder(line string) (name, dir string, ok bool) {
	m := createdRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil {
		return "", "", false
	}

	f := folderRe.FindStringSubmatch(m[1])
	if f == nil {
		return "", "", false
	}
	return f[1], m[1], true
}

// findGallery returns the only directory of downloadDir whose name starts
// with the gallery name.
func findGallery(downloadDir, name string) (string, error) {
	prefix := name
	if r := []rune(name); len(r) > maxNamePrefix {
		prefix = string(r[:maxNamePrefix])
	}

	entries, err := os.ReadDir(downloadDir)
	if err != nil {
		return "", err
	}

	var matches []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			matches = append(matches, e.Name())
		}
	}
	if len(matches) != 1 {
		return "", fmt.Errorf("%w: %s has %d targets %v", ErrNoGallery, name, len(matches), matches)
	}

	return matches[0], nil
}

func readLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return strings.Split(string(b), "\n"), nil
}
