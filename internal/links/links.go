// Package links uploads files fetched from a URL.
package links

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/NamanBalaji/duld/internal/config"
	"github.com/NamanBalaji/duld/internal/logger"
	httpPkg "github.com/NamanBalaji/duld/pkg/http"
)

var ErrInvalidURL = errors.New("invalid link url")

type Uploader interface {
	UploadFromPath(ctx context.Context, remotePath, localPath string) error
}

// Fetcher downloads a link into a scratch directory, uploads it and removes
// the scratch directory whatever the outcome.
type Fetcher struct {
	client     *httpPkg.Client
	up         Uploader
	tempDir    string
	speedLimit int64
}

func New(cfg *config.LinksConfig, client *httpPkg.Client, up Uploader) *Fetcher {
	if client == nil {
		client = httpPkg.NewClient()
	}

	return &Fetcher{
		client:     client,
		up:         up,
		tempDir:    cfg.TempDir,
		speedLimit: cfg.SpeedLimit,
	}
}

// Validate rejects anything but absolute http and https URLs.
func Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	return nil
}

// UploadFromURL uploads the file at rawURL to uploadTo as name. An empty name
// is taken from the response or the URL.
func (f *Fetcher) UploadFromURL(ctx context.Context, uploadTo, rawURL, name string) error {
	if err := Validate(rawURL); err != nil {
		return err
	}

	dir := filepath.Join(f.tempDir, uuid.NewString())
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warnf("failed to remove %s: %v", dir, err)
		}
	}()

	logger.Debugf("downloading %s to %s", rawURL, dir)
	path, err := f.client.Download(ctx, rawURL, dir, name, f.speedLimit)
	if err != nil {
		return err
	}

	return f.up.UploadFromPath(ctx, uploadTo, path)
}
