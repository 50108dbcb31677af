package torrent

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/NamanBalaji/duld/internal/config"
	"github.com/NamanBalaji/duld/internal/logger"
	httpPkg "github.com/NamanBalaji/duld/pkg/http"
)

const (
	sessionIDHeader  = "X-Transmission-Session-Id"
	defaultRPCPort   = 9091
	transmissionPath = "/transmission/rpc"

	rpcAttempts   = 3
	rpcRetryDelay = 200 * time.Millisecond
)

var torrentFields = []string{
	"id", "name", "status", "downloadDir", "downloadedEver", "leftUntilDone", "files", "fileStats",
}

// Transmission speaks the Transmission RPC protocol.
type Transmission struct {
	base
	url    string
	client *httpPkg.Client

	mu        sync.Mutex
	sessionID string
}

var _ Client = (*Transmission)(nil)

func NewTransmission(cfg config.TorrentConfig, client *httpPkg.Client) (Client, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = defaultRPCPort
	}
	if client == nil {
		client = httpPkg.NewClient()
	}

	return &Transmission{
		base:   newBase(cfg, "transmission"),
		url:    fmt.Sprintf("http://%s:%d%s", host, port, transmissionPath),
		client: client,
	}, nil
}

type rpcRequest struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

type rpcTorrent struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	Status         int    `json:"status"`
	DownloadDir    string `json:"downloadDir"`
	DownloadedEver int64  `json:"downloadedEver"`
	LeftUntilDone  int64  `json:"leftUntilDone"`
	Files          []struct {
		Name   string `json:"name"`
		Length int64  `json:"length"`
	} `json:"files"`
	FileStats []struct {
		Wanted bool `json:"wanted"`
	} `json:"fileStats"`
}

func (t *Transmission) GetTorrent(ctx context.Context, id string) (*Info, error) {
	tid, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTorrentNotFound, id)
	}

	torrents, err := t.getTorrents(ctx, []int{tid})
	if err != nil {
		return nil, err
	}
	if len(torrents) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTorrentNotFound, id)
	}

	return &torrents[0], nil
}

func (t *Transmission) GetTorrents(ctx context.Context) ([]Info, error) {
	return t.getTorrents(ctx, nil)
}

func (t *Transmission) getTorrents(ctx context.Context, ids []int) ([]Info, error) {
	args := map[string]any{"fields": torrentFields}
	if ids != nil {
		args["ids"] = ids
	}

	var out struct {
		Torrents []rpcTorrent `json:"torrents"`
	}
	if err := t.call(ctx, "torrent-get", args, &out); err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(out.Torrents))
	for _, rt := range out.Torrents {
		infos = append(infos, rt.info())
	}

	return infos, nil
}

func (t *Transmission) AddTorrent(ctx context.Context, url string, paused bool) (*Info, error) {
	args := map[string]any{"filename": url, "paused": paused}
	if dir := t.DownloadDir(); dir != "" {
		args["download-dir"] = dir
	}

	var out struct {
		Added     *rpcTorrent `json:"torrent-added"`
		Duplicate *rpcTorrent `json:"torrent-duplicate"`
	}
	if err := t.call(ctx, "torrent-add", args, &out); err != nil {
		return nil, err
	}

	added := out.Added
	if added == nil {
		added = out.Duplicate
	}
	if added == nil {
		return nil, fmt.Errorf("%w: %s", ErrTorrentNotFound, url)
	}

	return t.GetTorrent(ctx, strconv.Itoa(added.ID))
}

func (t *Transmission) RemoveTorrent(ctx context.Context, id string, deleteData bool) error {
	ids, err := toIntIDs([]string{id})
	if err != nil {
		return err
	}

	args := map[string]any{"ids": ids, "delete-local-data": deleteData}
	if err := t.call(ctx, "torrent-remove", args, nil); err != nil {
		return err
	}

	logger.Infof("Removed torrent %s", id)
	return nil
}

func (t *Transmission) GetSession(ctx context.Context) (*Session, error) {
	var out struct {
		DownloadDir string `json:"download-dir"`
	}
	if err := t.call(ctx, "session-get", map[string]any{"fields": []string{"download-dir"}}, &out); err != nil {
		return nil, err
	}
	return &Session{DownloadDir: out.DownloadDir}, nil
}

func (t *Transmission) FreeSpace(ctx context.Context, path string) (int64, error) {
	var out struct {
		SizeBytes int64 `json:"size-bytes"`
	}
	if err := t.call(ctx, "free-space", map[string]any{"path": path}, &out); err != nil {
		return 0, err
	}
	return out.SizeBytes, nil
}

func (t *Transmission) StartTorrents(ctx context.Context, ids []string) error {
	return t.callIDs(ctx, "torrent-start", ids)
}

func (t *Transmission) StopTorrents(ctx context.Context, ids []string) error {
	return t.callIDs(ctx, "torrent-stop", ids)
}

func (t *Transmission) Close() error {
	return nil
}

func (t *Transmission) callIDs(ctx context.Context, method string, ids []string) error {
	intIDs, err := toIntIDs(ids)
	if err != nil {
		return err
	}
	return t.call(ctx, method, map[string]any{"ids": intIDs}, nil)
}

// call runs one RPC, repeating it a few times while the daemon is unreachable
// or answers 5xx.
func (t *Transmission) call(ctx context.Context, method string, args, out any) error {
	body, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	return httpPkg.Retry(ctx, rpcAttempts, rpcRetryDelay, func() error {
		return t.send(ctx, method, body, out)
	})
}

// send posts one request. A 409 answer carries the session id to use, after
// which the request is sent once more.
func (t *Transmission) send(ctx context.Context, method string, body []byte, out any) error {
	for attempt := 0; ; attempt++ {
		resp, err := t.client.Send(ctx, http.MethodPost, t.url, t.headers(), bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}

		if resp.StatusCode == http.StatusConflict && attempt == 0 {
			t.setSessionID(resp.Header.Get(sessionIDHeader))
			drain(resp)
			continue
		}

		return decodeRPC(method, resp, out)
	}
}

func decodeRPC(method string, resp *http.Response, out any) error {
	defer drain(resp)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s: %w", method, httpPkg.ClassifyHTTPError(resp.StatusCode))
	}

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return fmt.Errorf("%s: %w: %v", method, httpPkg.ErrDecode, err)
	}
	if rpc.Result != "success" {
		return fmt.Errorf("%s: transmission: %s", method, rpc.Result)
	}

	if out == nil || len(rpc.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpc.Arguments, out); err != nil {
		return fmt.Errorf("%s: %w: %v", method, httpPkg.ErrDecode, err)
	}

	return nil
}

func (t *Transmission) headers() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}

	t.mu.Lock()
	if t.sessionID != "" {
		h[sessionIDHeader] = t.sessionID
	}
	t.mu.Unlock()

	if t.cfg.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(t.cfg.Username + ":" + t.cfg.Password))
		h["Authorization"] = "Basic " + cred
	}

	return h
}

func (t *Transmission) setSessionID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = id
}

func (rt rpcTorrent) info() Info {
	info := Info{
		ID:             strconv.Itoa(rt.ID),
		Name:           rt.Name,
		Status:         transmissionStatus(rt.Status),
		DownloadDir:    rt.DownloadDir,
		DownloadedEver: rt.DownloadedEver,
		LeftUntilDone:  rt.LeftUntilDone,
	}

	for i, f := range rt.Files {
		selected := true
		if i < len(rt.FileStats) {
			selected = rt.FileStats[i].Wanted
		}
		info.Files = append(info.Files, File{Name: f.Name, Size: f.Length, Selected: selected})
	}

	return info
}

func transmissionStatus(code int) string {
	switch code {
	case 0:
		return StatusStopped
	case 1, 2:
		return StatusChecking
	case 3:
		return StatusQueued
	case 4:
		return StatusDownloading
	case 5, 6:
		return StatusSeeding
	default:
		return StatusUnknown
	}
}

func toIntIDs(ids []string) ([]int, error) {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrTorrentNotFound, id)
		}
		out = append(out, n)
	}
	return out, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
