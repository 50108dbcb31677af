package torrent

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	analog "github.com/anacrolix/log"
	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"github.com/NamanBalaji/duld/internal/config"
	"github.com/NamanBalaji/duld/internal/logger"
	httpPkg "github.com/NamanBalaji/duld/pkg/http"
)

// Embedded runs an in-process anacrolix client. Torrent IDs are info hashes.
type Embedded struct {
	base
	http *httpPkg.Client

	mu      sync.RWMutex
	client  *torrent.Client
	stopped map[string]struct{}
}

var _ Client = (*Embedded)(nil)

func NewEmbedded(cfg config.TorrentConfig, client *httpPkg.Client) (Client, error) {
	if cfg.DataDir == "" {
		return nil, ErrEmptyDataDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if client == nil {
		client = httpPkg.NewClient()
	}

	analog.Default.SetHandlers(analog.DiscardHandler)

	tc := torrent.NewDefaultClientConfig()

	tc.DataDir = cfg.DataDir
	tc.Seed = cfg.Seed
	if cfg.Port > 0 {
		tc.ListenPort = cfg.Port
	}

	// uTP leaks memory, see https://github.com/anacrolix/torrent/issues/392
	tc.DisableUTP = true

	tc.EstablishedConnsPerTorrent = 50
	tc.HalfOpenConnsPerTorrent = 25
	tc.TotalHalfOpenConns = 100

	tc.DefaultStorage = storage.NewFile(tc.DataDir)

	c, err := torrent.NewClient(tc)
	if err != nil {
		return nil, err
	}

	if cfg.DownloadDir == "" {
		cfg.DownloadDir = cfg.DataDir
	}

	return &Embedded{
		base:    newBase(cfg, "embedded"),
		http:    client,
		client:  c,
		stopped: make(map[string]struct{}),
	}, nil
}

func (e *Embedded) GetTorrent(ctx context.Context, id string) (*Info, error) {
	t, err := e.find(id)
	if err != nil {
		return nil, err
	}

	info := e.info(t, true)
	return &info, nil
}

func (e *Embedded) GetTorrents(ctx context.Context) ([]Info, error) {
	c, err := e.get()
	if err != nil {
		return nil, err
	}

	torrents := c.Torrents()
	infos := make([]Info, 0, len(torrents))
	for _, t := range torrents {
		infos = append(infos, e.info(t, false))
	}
	return infos, nil
}

// AddTorrent adds a magnet link or a .torrent URL. It returns without waiting
// for metadata; downloading starts once metadata arrives unless paused.
func (e *Embedded) AddTorrent(ctx context.Context, url string, paused bool) (*Info, error) {
	c, err := e.get()
	if err != nil {
		return nil, err
	}

	var t *torrent.Torrent
	if strings.HasPrefix(url, "magnet:") {
		t, err = c.AddMagnet(url)
	} else {
		var mi *metainfo.MetaInfo
		if mi, err = e.fetchMetainfo(ctx, url); err == nil {
			t, err = c.AddTorrent(mi)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add torrent %s: %w", url, err)
	}

	id := t.InfoHash().HexString()
	if paused {
		e.mu.Lock()
		e.stopped[id] = struct{}{}
		e.mu.Unlock()
		t.DisallowDataDownload()
	} else {
		go downloadWhenReady(t)
	}

	info := e.info(t, true)
	return &info, nil
}

func (e *Embedded) RemoveTorrent(ctx context.Context, id string, deleteData bool) error {
	t, err := e.find(id)
	if err != nil {
		return err
	}

	var dataPath string
	if t.Info() != nil {
		dataPath = filepath.Join(e.cfg.DataDir, t.Name())
	}
	t.Drop()

	e.mu.Lock()
	delete(e.stopped, id)
	e.mu.Unlock()

	if deleteData && dataPath != "" {
		if err := os.RemoveAll(dataPath); err != nil {
			return fmt.Errorf("failed to remove data of %s: %w", id, err)
		}
	}

	logger.Infof("Removed torrent %s", id)
	return nil
}

func (e *Embedded) GetSession(ctx context.Context) (*Session, error) {
	return &Session{DownloadDir: e.cfg.DataDir}, nil
}

func (e *Embedded) FreeSpace(ctx context.Context, path string) (int64, error) {
	return freeSpace(path)
}

func (e *Embedded) StartTorrents(ctx context.Context, ids []string) error {
	for _, id := range ids {
		t, err := e.find(id)
		if err != nil {
			return err
		}

		e.mu.Lock()
		delete(e.stopped, id)
		e.mu.Unlock()

		t.AllowDataDownload()
		go downloadWhenReady(t)
	}
	return nil
}

func (e *Embedded) StopTorrents(ctx context.Context, ids []string) error {
	for _, id := range ids {
		t, err := e.find(id)
		if err != nil {
			return err
		}

		e.mu.Lock()
		e.stopped[id] = struct{}{}
		e.mu.Unlock()

		t.DisallowDataDownload()
	}
	return nil
}

func (e *Embedded) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client == nil {
		return nil
	}

	e.client.Close()
	e.client = nil

	return nil
}

func (e *Embedded) get() (*torrent.Client, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.client == nil {
		return nil, ErrNilClient
	}
	return e.client, nil
}

func (e *Embedded) find(id string) (*torrent.Torrent, error) {
	c, err := e.get()
	if err != nil {
		return nil, err
	}

	id = strings.ToLower(id)
	for _, t := range c.Torrents() {
		if t.InfoHash().HexString() == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTorrentNotFound, id)
}

func (e *Embedded) info(t *torrent.Torrent, withFiles bool) Info {
	id := t.InfoHash().HexString()

	e.mu.RLock()
	_, stopped := e.stopped[id]
	e.mu.RUnlock()

	info := Info{
		ID:            id,
		Name:          t.Name(),
		DownloadDir:   e.cfg.DataDir,
		LeftUntilDone: -1,
	}

	if t.Info() != nil {
		info.DownloadedEver = t.BytesCompleted()
		info.LeftUntilDone = t.BytesMissing()
		if withFiles {
			for _, f := range t.Files() {
				info.Files = append(info.Files, File{Name: f.DisplayPath(), Size: f.Length(), Selected: true})
			}
		}
	}

	switch {
	case stopped:
		info.Status = StatusStopped
	case info.LeftUntilDone == 0:
		info.Status = StatusSeeding
	default:
		info.Status = StatusDownloading
	}

	return info
}

func (e *Embedded) fetchMetainfo(ctx context.Context, url string) (*metainfo.MetaInfo, error) {
	resp, err := e.http.Send(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, httpPkg.ClassifyHTTPError(resp.StatusCode)
	}

	return metainfo.Load(resp.Body)
}

func downloadWhenReady(t *torrent.Torrent) {
	select {
	case <-t.GotInfo():
		t.DownloadAll()
	case <-t.Closed():
	}
}
