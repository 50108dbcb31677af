package uploader

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/NamanBalaji/duld/internal/dedup"
	"github.com/NamanBalaji/duld/internal/drive"
	"github.com/NamanBalaji/duld/internal/errors"
	"github.com/NamanBalaji/duld/internal/exclude"
	"github.com/NamanBalaji/duld/internal/hasher"
	"github.com/NamanBalaji/duld/internal/logger"
)

const (
	// DefaultRetryTimes bounds the upload attempts of one file.
	DefaultRetryTimes = 3
)

var ErrJobRunning = errors.New("job is still running")

// RuleSource supplies the exclusion rules of one job.
type RuleSource interface {
	FetchRules(ctx context.Context) (exclude.RuleSet, error)
}

// Options tunes an Uploader. Zero values pick the defaults.
type Options struct {
	RetryTimes      int
	ParallelUploads int
}

// Uploader mirrors local trees onto the drive.
type Uploader struct {
	drive  drive.Drive
	hasher *hasher.Pool
	rules  RuleSource
	gate   *SyncGate
	guard  *dedup.Guard

	retryTimes int
	parallel   int

	dirs singleflight.Group
}

func New(d drive.Drive, pool *hasher.Pool, rules RuleSource, gate *SyncGate, opts Options) *Uploader {
	if opts.RetryTimes <= 0 {
		opts.RetryTimes = DefaultRetryTimes
	}
	if opts.ParallelUploads <= 0 {
		opts.ParallelUploads = 1
	}

	return &Uploader{
		drive:      d,
		hasher:     pool,
		rules:      rules,
		gate:       gate,
		guard:      dedup.New(),
		retryTimes: opts.RetryTimes,
		parallel:   opts.ParallelUploads,
	}
}

// Running returns the tokens of jobs currently in flight.
func (u *Uploader) Running() []dedup.Token {
	return u.guard.Tokens()
}

// UploadFromPath mirrors localPath, file or directory, into the remote directory remotePath.
func (u *Uploader) UploadFromPath(ctx context.Context, remotePath, localPath string) error {
	localPath = filepath.Clean(localPath)
	release, ok := u.guard.Acquire(localPath)
	if !ok {
		logger.Warnf("%s is still uploading", localPath)
		return errors.NewDedupError(ErrJobRunning, localPath)
	}
	defer release()

	return u.run(ctx, remotePath, []string{localPath})
}

// UploadFromTorrent mirrors the named items of rootDir into remotePath. jobID
// identifies the torrent across clients, like "transmission_client/42".
func (u *Uploader) UploadFromTorrent(ctx context.Context, remotePath, jobID, rootDir string, items []string) error {
	release, ok := u.guard.Acquire(jobID)
	if !ok {
		logger.Warnf("%s is still uploading", jobID)
		return errors.NewDedupError(ErrJobRunning, jobID)
	}
	defer release()

	paths := make([]string, 0, len(items))
	for _, item := range items {
		paths = append(paths, filepath.Join(rootDir, item))
	}

	return u.run(ctx, remotePath, paths)
}

func (u *Uploader) run(ctx context.Context, remotePath string, localPaths []string) error {
	if err := u.gate.Sync(ctx); err != nil {
		return err
	}

	node, err := u.drive.GetNodeByPath(ctx, remotePath)
	if err != nil {
		return errors.NewResolutionError(err, remotePath)
	}
	if node.IsTrashed {
		return errors.NewConflictError(errors.ErrTrashed, remotePath)
	}

	rules, err := u.rules.FetchRules(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range localPaths {
		if err := u.upload(ctx, node, p, rules); err != nil {
			logger.Errorf("Failed to upload %s: %v", p, err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (u *Uploader) upload(ctx context.Context, parent *drive.Node, localPath string, rules exclude.RuleSet) error {
	if exclude.ShouldExclude(filepath.Base(localPath), rules) {
		logger.Infof("excluded %s", localPath)
		return nil
	}

	fi, err := os.Stat(localPath)
	if os.IsNotExist(err) {
		logger.Warnf("cannot upload non-exist path %s", localPath)
		return nil
	}
	if err != nil {
		return errors.NewIOError(err, localPath)
	}

	if fi.IsDir() {
		return u.uploadDirectory(ctx, parent, localPath, rules)
	}

	return u.uploadFileRetry(ctx, parent, localPath)
}

func (u *Uploader) uploadDirectory(ctx context.Context, parent *drive.Node, localPath string, rules exclude.RuleSet) error {
	if parent.IsTrashed {
		return errors.NewConflictError(errors.ErrTrashed, parent.Name)
	}

	child, err := u.findOrCreateDirectory(ctx, parent, filepath.Base(localPath))
	if err != nil {
		return err
	}

	if err := u.ensureNodeExists(ctx, child); err != nil {
		return err
	}

	entries, err := os.ReadDir(localPath)
	if err != nil {
		return errors.NewIOError(err, localPath)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(u.parallel)

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		childPath := filepath.Join(localPath, entry.Name())
		g.Go(func() error {
			if err := u.upload(ctx, child, childPath, rules); err != nil {
				logger.Errorf("Failed to upload %s: %v", childPath, err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, errors.NewContextError(err, localPath))
	}

	return errors.Join(errs...)
}

// findOrCreateDirectory returns the live directory name under parent, creating
// it when missing. Concurrent callers for the same parent and name share one call.
func (u *Uploader) findOrCreateDirectory(ctx context.Context, parent *drive.Node, name string) (*drive.Node, error) {
	v, err, _ := u.dirs.Do(parent.ID+"\x00"+name, func() (any, error) {
		child, err := u.drive.GetChildByName(ctx, parent, name)
		switch {
		case err == nil && child.Live():
			if !child.IsDirectory {
				return nil, errors.NewConflictError(errors.ErrIsFile, name)
			}
			return child, nil
		case err == nil, errors.Is(err, drive.ErrNodeNotFound):
		default:
			return nil, errors.NewTransientError(err, name)
		}

		created, err := u.drive.CreateDirectory(ctx, parent, name)
		if err != nil {
			return nil, errors.NewTransientError(err, name)
		}
		if created.IsTrashed {
			return nil, errors.NewConflictError(errors.ErrTrashed, name)
		}

		return created, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*drive.Node), nil
}

// ensureNodeExists syncs until the drive cache can resolve node. Only a cache
// miss is waited out; any other resolve error ends the wait.
func (u *Uploader) ensureNodeExists(ctx context.Context, node *drive.Node) error {
	for {
		_, err := u.drive.ResolvePath(ctx, node.ID)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errors.NewContextError(ctx.Err(), node.Name)
		}

		if !errors.Is(err, drive.ErrNodeNotFound) {
			return errors.NewResolutionError(err, node.Name)
		}
		logger.Infof("%s not in cache", node.Name)

		if err := u.gate.Sync(ctx); err != nil {
			return err
		}
	}
}

func (u *Uploader) uploadFileRetry(ctx context.Context, parent *drive.Node, localPath string) error {
	var (
		lastErr error
		replace bool
	)

	for attempt := 1; attempt <= u.retryTimes; attempt++ {
		err := u.uploadFile(ctx, parent, localPath, replace)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errors.NewContextError(ctx.Err(), localPath)
		}
		if !errors.IsRetryable(err) {
			return err
		}

		lastErr = err
		// a corrupt copy left by our own attempt is overwritten, not a conflict
		replace = replace || errors.Is(err, errors.ErrHashMismatch) || errors.Is(err, errors.ErrInvalidHash)
		logger.Warnf("retry upload file %s (attempt %d/%d): %v", localPath, attempt, u.retryTimes, err)

		if attempt == u.retryTimes {
			break
		}
		if err := u.gate.Sync(ctx); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: tried upload %s %d times: %w", errors.ErrRetryExceeded, localPath, u.retryTimes, lastErr)
}

// uploadFile runs one attempt. With replace set, an existing file whose hash
// is bad or differs is uploaded over instead of failing as a conflict.
func (u *Uploader) uploadFile(ctx context.Context, parent *drive.Node, localPath string, replace bool) error {
	name := filepath.Base(localPath)

	parentPath, err := u.drive.ResolvePath(ctx, parent.ID)
	if err != nil {
		return errors.NewTransientError(err, name)
	}
	remotePath := path.Join(parentPath, name)

	child, err := u.drive.GetChildByName(ctx, parent, name)
	if err != nil && !errors.Is(err, drive.ErrNodeNotFound) {
		return errors.NewTransientError(err, remotePath)
	}

	if err == nil && child.Live() {
		if child.IsDirectory {
			return errors.NewConflictError(errors.ErrIsFolder, remotePath)
		}

		same := false
		if child.Hash != "" {
			if same, err = u.verify(ctx, localPath, child.Hash); err != nil {
				return err
			}
		}
		switch {
		case same:
			logger.Infof("%s already exists and is the same file", remotePath)
			return nil
		case !replace && child.Hash == "":
			return errors.NewConflictError(errors.ErrInvalidHash, remotePath)
		case !replace:
			return errors.NewConflictError(errors.ErrHashMismatch, remotePath)
		}
		logger.Warnf("replacing corrupt upload %s", remotePath)
	}

	node, err := u.drive.UploadFile(ctx, localPath, parent)
	if err != nil {
		return errors.NewTransientError(err, remotePath)
	}
	if node == nil || node.Hash == "" {
		return errors.NewTransientError(errors.ErrInvalidHash, remotePath)
	}

	same, err := u.verify(ctx, localPath, node.Hash)
	if err != nil {
		return err
	}
	if !same {
		return errors.NewTransientError(errors.ErrHashMismatch, remotePath)
	}

	logger.Infof("finished %s", remotePath)
	return nil
}

func (u *Uploader) verify(ctx context.Context, localPath, remoteHash string) (bool, error) {
	same, err := u.hasher.Verify(ctx, localPath, remoteHash, u.drive.NewHasher)
	if err != nil {
		if ctx.Err() != nil {
			return false, errors.NewContextError(ctx.Err(), localPath)
		}
		return false, errors.NewIOError(err, localPath)
	}
	return same, nil
}
