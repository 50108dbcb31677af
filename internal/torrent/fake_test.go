package torrent_test

import (
	"context"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/duld/internal/config"
	"github.com/NamanBalaji/duld/internal/torrent"
)

type fakeClient struct {
	name        string
	downloadDir string

	mu        sync.Mutex
	torrents  []torrent.Info
	session   torrent.Session
	free      int64
	freeErr   error
	getErr    error
	removed   []string
	started   []string
	stopped   []string
	addErrFor map[string]error
}

var _ torrent.Client = (*fakeClient)(nil)

func (f *fakeClient) Name() string        { return f.name }
func (f *fakeClient) DownloadDir() string { return f.downloadDir }

func (f *fakeClient) GetTorrent(ctx context.Context, id string) (*torrent.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, t := range f.torrents {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, torrent.ErrTorrentNotFound
}

func (f *fakeClient) GetTorrents(ctx context.Context) ([]torrent.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}
	return slices.Clone(f.torrents), nil
}

func (f *fakeClient) AddTorrent(ctx context.Context, url string, paused bool) (*torrent.Info, error) {
	if err := f.addErrFor[url]; err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	status := torrent.StatusDownloading
	if paused {
		status = torrent.StatusStopped
	}
	t := torrent.Info{ID: url, Name: url, Status: status, LeftUntilDone: -1}
	f.torrents = append(f.torrents, t)
	return &t, nil
}

func (f *fakeClient) RemoveTorrent(ctx context.Context, id string, deleteData bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removed = append(f.removed, id)
	f.torrents = slices.DeleteFunc(f.torrents, func(t torrent.Info) bool { return t.ID == id })
	return nil
}

func (f *fakeClient) GetSession(ctx context.Context) (*torrent.Session, error) {
	return &f.session, nil
}

func (f *fakeClient) FreeSpace(ctx context.Context, path string) (int64, error) {
	return f.free, f.freeErr
}

func (f *fakeClient) StartTorrents(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, ids...)
	return nil
}

func (f *fakeClient) StopTorrents(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, ids...)
	return nil
}

func (f *fakeClient) Close() error { return nil }

type fakeUploader struct {
	err   error
	calls []uploadCall
}

type uploadCall struct {
	remotePath, jobID, rootDir string
	items                      []string
}

func (u *fakeUploader) UploadFromTorrent(ctx context.Context, remotePath, jobID, rootDir string, items []string) error {
	u.calls = append(u.calls, uploadCall{remotePath, jobID, rootDir, items})
	return u.err
}

// serverConfig points a client config of typ at srv.
func serverConfig(t *testing.T, srv *httptest.Server, typ string) config.TorrentConfig {
	t.Helper()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return config.TorrentConfig{Type: typ, Host: u.Hostname(), Port: port}
}
