package torrent

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/NamanBalaji/duld/internal/logger"
)

var ErrInvalidLocation = errors.New("torrent has no local location")

// Uploader mirrors the items of a finished torrent to the drive.
type Uploader interface {
	UploadFromTorrent(ctx context.Context, remotePath, jobID, rootDir string, items []string) error
}

// JobID is the dedup token of a torrent upload, like "transmission_client/42".
func JobID(c Client, id string) string {
	return c.Name() + "/" + id
}

// RetryURL is the route that uploads the torrent again.
func RetryURL(c Client, id string) string {
	return "/api/v1/torrents/" + c.Name() + "/" + id
}

// UploadByID uploads torrent id of c to uploadTo and removes it, data
// included, from the client once the upload succeeded.
func UploadByID(ctx context.Context, up Uploader, uploadTo string, c Client, id string) error {
	t, err := c.GetTorrent(ctx, id)
	if err != nil {
		logger.Warnf("no such torrent id %s: %v", id, err)
		return err
	}

	items := RootItems(t)
	if len(items) == 0 {
		logger.Warnf("%s: no item to upload?", t.Name)
		return nil
	}
	logger.Debugf("%s: %v", t.Name, items)

	root := RootDir(t, c)
	if root == "" {
		logger.Errorf("%s: invalid location", t.Name)
		return ErrInvalidLocation
	}

	if err := up.UploadFromTorrent(ctx, uploadTo, JobID(c, id), root, items); err != nil {
		logger.Errorf("upload failed: %v", err)
		logger.Errorf("retry url: %s", RetryURL(c, id))
		return err
	}

	if err := c.RemoveTorrent(ctx, id, true); err != nil {
		logger.Errorf("Failed to remove torrent %s: %v", id, err)
	}

	return nil
}

// GetCompleted returns the torrents of c with nothing left to download.
func GetCompleted(ctx context.Context, c Client) ([]Info, error) {
	torrents, err := c.GetTorrents(ctx)
	if err != nil {
		return nil, err
	}

	completed := make([]Info, 0, len(torrents))
	for _, t := range torrents {
		if t.LeftUntilDone == 0 {
			completed = append(completed, t)
		}
	}

	return completed, nil
}

// AddURLs adds every url to c paused. Failed urls map to nil.
func AddURLs(ctx context.Context, c Client, urls []string) map[string]*Info {
	added := make(map[string]*Info, len(urls))

	for _, url := range urls {
		t, err := c.AddTorrent(ctx, url, true)
		if err != nil {
			logger.Errorf("failed to add torrent %s: %v", url, err)
			added[url] = nil
			continue
		}
		added[url] = t
	}

	return added
}

// RootItems returns the distinct top level entries of the selected files.
func RootItems(t *Info) []string {
	var items []string

	for _, f := range t.Files {
		if !f.Selected {
			continue
		}

		name := strings.TrimLeft(strings.ReplaceAll(f.Name, "\\", "/"), "/")
		root, _, _ := strings.Cut(name, "/")
		if root != "" && !slices.Contains(items, root) {
			items = append(items, root)
		}
	}

	slices.Sort(items)
	return items
}

// RootDir prefers the directory configured for the client over the one the
// client reports, since the client may see another file system.
func RootDir(t *Info, c Client) string {
	if dir := c.DownloadDir(); dir != "" {
		return dir
	}
	return t.DownloadDir
}
