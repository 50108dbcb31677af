// Package hah uploads the galleries a Hentai@Home client finished downloading.
package hah

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/NamanBalaji/duld/internal/logger"
)

const (
	logOut      = "log_out"
	logOutOld   = "log_out.old"
	galleryInfo = "galleryinfo.txt"
)

// Uploader mirrors a local directory to the drive.
type Uploader interface {
	UploadFromPath(ctx context.Context, remotePath, localPath string) error
}

// SubmitFunc hands task to whatever runs background jobs. token names the
// gallery directory.
type SubmitFunc func(token string, task func(ctx context.Context) error) error

// Watcher follows the H@H log and download directory of one client.
type Watcher struct {
	logDir      string
	downloadDir string
	uploadTo    string
	up          Uploader
	submit      SubmitFunc

	fsw  *fsnotify.Watcher
	tail *logTail

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New watches the log and download directories under root. Events are
// handled once Run is called.
func New(root, uploadTo string, up Uploader, submit SubmitFunc) (*Watcher, error) {
	w := &Watcher{
		logDir:      filepath.Join(root, "log"),
		downloadDir: filepath.Join(root, "download"),
		uploadTo:    uploadTo,
		up:          up,
		submit:      submit,
		inflight:    make(map[string]struct{}),
	}
	w.tail = newLogTail(filepath.Join(w.logDir, logOut))

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w.fsw = fsw

	for _, dir := range []string{w.logDir, w.downloadDir} {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	// galleries still downloading finish with a galleryinfo.txt
	entries, err := os.ReadDir(w.downloadDir)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			w.watchGallery(filepath.Join(w.downloadDir, e.Name()))
		}
	}

	return w, nil
}

// Run handles file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logger.Errorf("(hah) watcher error: %v", err)
		}
	}
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	if event.Name == w.tail.path {
		w.readLog()
		return
	}

	dir := filepath.Dir(event.Name)
	switch {
	case dir == w.downloadDir && event.Has(fsnotify.Create):
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			w.watchGallery(event.Name)
			if _, err := os.Stat(filepath.Join(event.Name, galleryInfo)); err == nil {
				w.enqueue(event.Name)
			}
		}
	case filepath.Base(event.Name) == galleryInfo && filepath.Dir(dir) == w.downloadDir:
		w.enqueue(dir)
	}
}

func (w *Watcher) watchGallery(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		logger.Warnf("(hah) failed to watch %s: %v", dir, err)
	}
}

func (w *Watcher) readLog() {
	lines, err := w.tail.read()
	if err != nil {
		logger.Errorf("(hah) failed to read %s: %v", w.tail.path, err)
		return
	}

	for _, line := range lines {
		name := parseFinished(line)
		if name == "" {
			continue
		}

		dir, err := findGallery(w.downloadDir, name)
		if err != nil {
			logger.Errorf("(hah) %v", err)
			continue
		}
		w.enqueue(filepath.Join(w.downloadDir, dir))
	}
}

// ScanFinished uploads every gallery the logs report finished whose
// directory is still around, and returns their directory names.
func (w *Watcher) ScanFinished() ([]string, error) {
	var lines []string
	for _, name := range []string{logOutOld, logOut} {
		l, err := readLines(filepath.Join(w.logDir, name))
		if err != nil {
			return nil, err
		}
		lines = append(lines, l...)
	}

	folders := make(map[string]string)
	for _, line := range lines {
		if name, dir, ok := parseFolder(line); ok {
			folders[name] = dir
		}
	}

	var finished []string
	for _, line := range lines {
		dir, ok := folders[parseFinished(line)]
		if !ok {
			continue
		}
		if w.enqueue(filepath.Join(w.downloadDir, dir)) {
			finished = append(finished, dir)
		}
	}

	return finished, nil
}

// enqueue submits the upload of one gallery directory unless it is gone or
// already queued.
func (w *Watcher) enqueue(path string) bool {
	if _, err := os.Stat(path); err != nil {
		logger.Debugf("(hah) skip %s: %v", path, err)
		return false
	}

	w.mu.Lock()
	if _, ok := w.inflight[path]; ok {
		w.mu.Unlock()
		return false
	}
	w.inflight[path] = struct{}{}
	w.mu.Unlock()

	err := w.submit(path, func(ctx context.Context) error {
		defer w.done(path)
		return w.upload(ctx, path)
	})
	if err != nil {
		logger.Errorf("(hah) failed to submit %s: %v", path, err)
		w.done(path)
		return false
	}

	return true
}

func (w *Watcher) done(path string) {
	w.mu.Lock()
	delete(w.inflight, path)
	w.mu.Unlock()
}

func (w *Watcher) upload(ctx context.Context, path string) error {
	logger.Debugf("hah upload %s", path)
	if err := w.up.UploadFromPath(ctx, w.uploadTo, path); err != nil {
		return err
	}

	logger.Debugf("rm -rf %s", path)
	if err := os.RemoveAll(path); err != nil {
		logger.Warnf("(hah) failed to remove %s: %v", path, err)
	}

	return nil
}
