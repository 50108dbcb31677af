package torrent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/anacrolix/torrent/metainfo"

	"github.com/NamanBalaji/duld/internal/config"
	"github.com/NamanBalaji/duld/internal/logger"
	httpPkg "github.com/NamanBalaji/duld/pkg/http"
)

const defaultWebUIPort = 8080

var ErrLoginFailed = errors.New("qbittorrent login failed")

// Qbittorrent speaks the qBittorrent Web API v2.
type Qbittorrent struct {
	base
	url    string
	client *httpPkg.Client

	mu       sync.Mutex
	loggedIn bool
}

var _ Client = (*Qbittorrent)(nil)

// NewQbittorrent builds a client with its own cookie jar for the session cookie.
// The shared HTTP client only lends its transport.
func NewQbittorrent(cfg config.TorrentConfig, shared *httpPkg.Client) (Client, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = defaultWebUIPort
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	client := httpPkg.NewClient()
	if shared != nil {
		client.Transport = shared.Transport
	}
	client.Jar = jar

	return &Qbittorrent{
		base:   newBase(cfg, "qbittorrent"),
		url:    fmt.Sprintf("http://%s:%d", host, port),
		client: client,
	}, nil
}

type qbTorrent struct {
	Hash       string `json:"hash"`
	Name       string `json:"name"`
	State      string `json:"state"`
	SavePath   string `json:"save_path"`
	Completed  int64  `json:"completed"`
	Size       int64  `json:"size"`
	AmountLeft int64  `json:"amount_left"`
}

type qbFile struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Priority int    `json:"priority"`
}

func (q *Qbittorrent) GetTorrent(ctx context.Context, id string) (*Info, error) {
	torrents, err := q.torrentsInfo(ctx, url.Values{"hashes": {id}})
	if err != nil {
		return nil, err
	}
	if len(torrents) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTorrentNotFound, id)
	}

	info := torrents[0].info()

	var files []qbFile
	if err := q.get(ctx, "/api/v2/torrents/files", url.Values{"hash": {id}}, &files); err != nil {
		return nil, err
	}
	for _, f := range files {
		// priority 0 means do not download
		info.Files = append(info.Files, File{Name: f.Name, Size: f.Size, Selected: f.Priority != 0})
	}

	return &info, nil
}

func (q *Qbittorrent) GetTorrents(ctx context.Context) ([]Info, error) {
	torrents, err := q.torrentsInfo(ctx, nil)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(torrents))
	for _, t := range torrents {
		infos = append(infos, t.info())
	}
	return infos, nil
}

func (q *Qbittorrent) torrentsInfo(ctx context.Context, query url.Values) ([]qbTorrent, error) {
	var torrents []qbTorrent
	if err := q.get(ctx, "/api/v2/torrents/info", query, &torrents); err != nil {
		return nil, err
	}
	return torrents, nil
}

// AddTorrent adds url. The API does not answer with the new torrent, so it is
// found by its magnet hash, or else as the one hash that was not there before.
func (q *Qbittorrent) AddTorrent(ctx context.Context, rawURL string, paused bool) (*Info, error) {
	before := map[string]struct{}{}
	hash := magnetHash(rawURL)
	if hash == "" {
		torrents, err := q.torrentsInfo(ctx, nil)
		if err != nil {
			return nil, err
		}
		for _, t := range torrents {
			before[t.Hash] = struct{}{}
		}
	}

	form := url.Values{
		"urls":    {rawURL},
		"paused":  {strconv.FormatBool(paused)},
		"stopped": {strconv.FormatBool(paused)},
	}
	if dir := q.DownloadDir(); dir != "" {
		form.Set("savepath", dir)
	}
	if err := q.post(ctx, "/api/v2/torrents/add", form); err != nil {
		return nil, err
	}

	if hash != "" {
		return q.GetTorrent(ctx, hash)
	}

	torrents, err := q.torrentsInfo(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, t := range torrents {
		if _, ok := before[t.Hash]; !ok {
			return q.GetTorrent(ctx, t.Hash)
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrTorrentNotFound, rawURL)
}

func (q *Qbittorrent) RemoveTorrent(ctx context.Context, id string, deleteData bool) error {
	form := url.Values{"hashes": {id}, "deleteFiles": {strconv.FormatBool(deleteData)}}
	if err := q.post(ctx, "/api/v2/torrents/delete", form); err != nil {
		return err
	}

	logger.Infof("Removed torrent %s", id)
	return nil
}

func (q *Qbittorrent) GetSession(ctx context.Context) (*Session, error) {
	var prefs struct {
		SavePath string `json:"save_path"`
	}
	if err := q.get(ctx, "/api/v2/app/preferences", nil, &prefs); err != nil {
		return nil, err
	}
	if prefs.SavePath == "" {
		prefs.SavePath = "/downloads"
	}
	return &Session{DownloadDir: prefs.SavePath}, nil
}

// FreeSpace reports the free space of the disk holding the default save
// path. qBittorrent cannot be asked about other paths.
func (q *Qbittorrent) FreeSpace(ctx context.Context, path string) (int64, error) {
	var data struct {
		ServerState *struct {
			FreeSpaceOnDisk int64 `json:"free_space_on_disk"`
		} `json:"server_state"`
	}
	if err := q.get(ctx, "/api/v2/sync/maindata", nil, &data); err != nil {
		return 0, err
	}
	if data.ServerState == nil {
		return 0, ErrFreeSpaceUnsupported
	}
	return data.ServerState.FreeSpaceOnDisk, nil
}

// StartTorrents uses the v4 endpoint and falls back to the v5 name.
func (q *Qbittorrent) StartTorrents(ctx context.Context, ids []string) error {
	return q.postHashes(ctx, ids, "/api/v2/torrents/resume", "/api/v2/torrents/start")
}

func (q *Qbittorrent) StopTorrents(ctx context.Context, ids []string) error {
	return q.postHashes(ctx, ids, "/api/v2/torrents/pause", "/api/v2/torrents/stop")
}

func (q *Qbittorrent) Close() error {
	q.client.CloseIdleConnections()
	return nil
}

func (q *Qbittorrent) postHashes(ctx context.Context, ids []string, endpoint, fallback string) error {
	form := url.Values{"hashes": {strings.Join(ids, "|")}}

	err := q.post(ctx, endpoint, form)
	if errors.Is(err, httpPkg.ErrResourceNotFound) {
		return q.post(ctx, fallback, form)
	}
	return err
}

func (q *Qbittorrent) login(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.loggedIn {
		return nil
	}

	form := url.Values{"username": {q.cfg.Username}, "password": {q.cfg.Password}}
	resp, err := q.client.Send(ctx, http.MethodPost, q.url+"/api/v2/auth/login", formHeaders(), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	defer drain(resp)

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "Ok." {
		return fmt.Errorf("%w: status %d: %s", ErrLoginFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	q.loggedIn = true
	return nil
}

func (q *Qbittorrent) expire() {
	q.mu.Lock()
	q.loggedIn = false
	q.mu.Unlock()
}

func (q *Qbittorrent) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	u := q.url + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	resp, err := q.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return err
	}
	defer drain(resp)

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: %w: %v", endpoint, httpPkg.ErrDecode, err)
	}
	return nil
}

func (q *Qbittorrent) post(ctx context.Context, endpoint string, form url.Values) error {
	resp, err := q.do(ctx, http.MethodPost, q.url+endpoint, nil, form.Encode())
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// do sends an authenticated request, logging in again once if the session
// cookie was rejected.
func (q *Qbittorrent) do(ctx context.Context, method, u string, headers map[string]string, form string) (*http.Response, error) {
	if method == http.MethodPost {
		headers = formHeaders()
	}

	for attempt := 0; ; attempt++ {
		if err := q.login(ctx); err != nil {
			return nil, err
		}

		var body io.Reader
		if method == http.MethodPost {
			body = strings.NewReader(form)
		}

		resp, err := q.client.Send(ctx, method, u, headers, body)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusForbidden && attempt == 0 {
			drain(resp)
			q.expire()
			continue
		}

		if resp.StatusCode >= http.StatusBadRequest {
			drain(resp)
			return nil, fmt.Errorf("%s %s: %w", method, u, httpPkg.ClassifyHTTPError(resp.StatusCode))
		}

		return resp, nil
	}
}

func formHeaders() map[string]string {
	return map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
}

func (t qbTorrent) info() Info {
	left := t.AmountLeft
	if left == 0 && t.Size > t.Completed {
		left = t.Size - t.Completed
	}

	return Info{
		ID:             t.Hash,
		Name:           t.Name,
		Status:         qbittorrentStatus(t.State),
		DownloadDir:    t.SavePath,
		DownloadedEver: t.Completed,
		LeftUntilDone:  left,
	}
}

func qbittorrentStatus(state string) string {
	switch state {
	case "downloading", "forcedDL", "metaDL", "forcedMetaDL", "stalledDL":
		return StatusDownloading
	case "uploading", "forcedUP", "stalledUP":
		return StatusSeeding
	case "pausedDL", "pausedUP", "stoppedDL", "stoppedUP":
		return StatusStopped
	case "queuedDL", "queuedUP":
		return StatusQueued
	case "checkingDL", "checkingUP", "checkingResumeData", "moving":
		return StatusChecking
	case "error", "missingFiles":
		return StatusError
	default:
		return StatusUnknown
	}
}

// magnetHash returns the lowercase hex info hash of a magnet link, or "".
func magnetHash(rawURL string) string {
	if !strings.HasPrefix(rawURL, "magnet:") {
		return ""
	}

	m, err := metainfo.ParseMagnetUri(rawURL)
	if err != nil {
		return ""
	}
	return m.InfoHash.HexString()
}
