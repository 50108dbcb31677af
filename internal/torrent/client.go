// Package torrent talks to BitTorrent clients and hands their finished
// torrents to the uploader.
package torrent

import (
	"context"
	"errors"

	"github.com/NamanBalaji/duld/internal/config"
)

// Statuses shared by every client. Clients map their own states onto these.
const (
	StatusStopped     = "stopped"
	StatusChecking    = "checking"
	StatusDownloading = "downloading"
	StatusSeeding     = "seeding"
	StatusQueued      = "queued"
	StatusError       = "error"
	StatusUnknown     = "unknown"
)

var (
	ErrTorrentNotFound       = errors.New("torrent not found")
	ErrFreeSpaceUnsupported  = errors.New("free space is not available")
	ErrClientNotFound        = errors.New("torrent client not found")
	ErrUnsupportedClientType = errors.New("unsupported torrent client type")
	ErrEmptyDataDir          = errors.New("data directory is empty")
	ErrNilClient             = errors.New("torrent client is closed")
)

// File is one file inside a torrent.
type File struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Selected bool   `json:"selected"`
}

// Info is what the daemon needs to know about a torrent, whichever client owns it.
type Info struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	DownloadDir    string `json:"downloadDir"`
	DownloadedEver int64  `json:"downloadedEver"`
	// LeftUntilDone is negative while the torrent metadata is still unknown.
	LeftUntilDone int64  `json:"leftUntilDone"`
	Files         []File `json:"files,omitempty"`
}

// Session holds client wide settings.
type Session struct {
	DownloadDir string `json:"downloadDir"`
}

// Client is a BitTorrent client the daemon manages.
type Client interface {
	// Name identifies the client in routes and job tokens.
	Name() string
	// DownloadDir is the configured local directory of finished data, if any.
	DownloadDir() string

	GetTorrent(ctx context.Context, id string) (*Info, error)
	GetTorrents(ctx context.Context) ([]Info, error)
	// AddTorrent adds a .torrent URL or magnet link.
	AddTorrent(ctx context.Context, url string, paused bool) (*Info, error)
	RemoveTorrent(ctx context.Context, id string, deleteData bool) error
	GetSession(ctx context.Context) (*Session, error)
	// FreeSpace returns the free bytes at path, or ErrFreeSpaceUnsupported.
	FreeSpace(ctx context.Context, path string) (int64, error)
	StartTorrents(ctx context.Context, ids []string) error
	StopTorrents(ctx context.Context, ids []string) error
	Close() error
}

type base struct {
	cfg config.TorrentConfig
}

func newBase(cfg config.TorrentConfig, kind string) base {
	if cfg.Type == "" {
		cfg.Type = kind
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Type + "_client"
	}
	return base{cfg: cfg}
}

func (b base) Name() string {
	return b.cfg.Name
}

func (b base) DownloadDir() string {
	return b.cfg.DownloadDir
}
