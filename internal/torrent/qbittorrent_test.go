package torrent_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/duld/internal/torrent"
)

const movieHash = "c12fe1c06bba254a9dc9f519b335aa7c1367a88a"

// qbServer fakes the Web API. Every request but login needs the SID cookie.
type qbServer struct {
	mu       sync.Mutex
	logins   int
	sid      string
	torrents []map[string]any
	files    []map[string]any
	removed  []string
	added    []string
	posted   map[string][]string
	noV4     bool
	noState  bool
}

func newQbServer(t *testing.T) (*qbServer, *httptest.Server) {
	qs := &qbServer{sid: "sid-1", posted: map[string][]string{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/auth/login", func(w http.ResponseWriter, r *http.Request) {
		qs.mu.Lock()
		defer qs.mu.Unlock()

		if r.FormValue("username") != "admin" || r.FormValue("password") != "adminadmin" {
			_, _ = w.Write([]byte("Fails."))
			return
		}
		qs.logins++
		http.SetCookie(w, &http.Cookie{Name: "SID", Value: qs.sid, Path: "/"})
		_, _ = w.Write([]byte("Ok."))
	})

	authed := func(h func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			qs.mu.Lock()
			sid := qs.sid
			qs.mu.Unlock()

			if c, err := r.Cookie("SID"); err != nil || c.Value != sid {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h(w, r)
		}
	}
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /api/v2/torrents/info", authed(func(w http.ResponseWriter, r *http.Request) {
		qs.mu.Lock()
		defer qs.mu.Unlock()

		hashes := r.URL.Query().Get("hashes")
		out := []map[string]any{}
		for _, t := range qs.torrents {
			if hashes == "" || t["hash"] == hashes {
				out = append(out, t)
			}
		}
		writeJSON(w, out)
	}))
	mux.HandleFunc("GET /api/v2/torrents/files", authed(func(w http.ResponseWriter, r *http.Request) {
		qs.mu.Lock()
		defer qs.mu.Unlock()
		writeJSON(w, qs.files)
	}))
	mux.HandleFunc("POST /api/v2/torrents/add", authed(func(w http.ResponseWriter, r *http.Request) {
		qs.mu.Lock()
		defer qs.mu.Unlock()

		u := r.FormValue("urls")
		qs.added = append(qs.added, u)
		hash := movieHash
		if u == "http://tracker/other.torrent" {
			hash = "0000000000000000000000000000000000000001"
		}
		qs.torrents = append(qs.torrents, map[string]any{
			"hash": hash, "name": "Movie", "state": "pausedDL", "save_path": "/downloads/", "size": 100,
		})
		_, _ = w.Write([]byte("Ok."))
	}))
	mux.HandleFunc("POST /api/v2/torrents/delete", authed(func(w http.ResponseWriter, r *http.Request) {
		qs.mu.Lock()
		defer qs.mu.Unlock()
		qs.removed = append(qs.removed, r.FormValue("hashes")+":"+r.FormValue("deleteFiles"))
	}))
	mux.HandleFunc("GET /api/v2/app/preferences", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"save_path": "/srv/downloads"})
	}))
	mux.HandleFunc("GET /api/v2/sync/maindata", authed(func(w http.ResponseWriter, r *http.Request) {
		qs.mu.Lock()
		noState := qs.noState
		qs.mu.Unlock()

		if noState {
			writeJSON(w, map[string]any{"rid": 1})
			return
		}
		writeJSON(w, map[string]any{"server_state": map[string]any{"free_space_on_disk": 987654}})
	}))
	for _, endpoint := range []string{"resume", "pause", "start", "stop"} {
		v4 := endpoint == "resume" || endpoint == "pause"
		mux.HandleFunc("POST /api/v2/torrents/"+endpoint, authed(func(w http.ResponseWriter, r *http.Request) {
			qs.mu.Lock()
			defer qs.mu.Unlock()

			if v4 && qs.noV4 {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			qs.posted[endpoint] = append(qs.posted[endpoint], r.FormValue("hashes"))
		}))
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return qs, srv
}

func newQbittorrent(t *testing.T) (*qbServer, torrent.Client) {
	t.Helper()

	qs, srv := newQbServer(t)
	cfg := serverConfig(t, srv, "qbittorrent")
	cfg.Username = "admin"
	cfg.Password = "adminadmin"

	c, err := torrent.NewQbittorrent(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return qs, c
}

func TestQbittorrent_GetTorrent(t *testing.T) {
	qs, c := newQbittorrent(t)
	qs.torrents = []map[string]any{{
		"hash": movieHash, "name": "Movie", "state": "stalledDL",
		"save_path": "/downloads/", "completed": 40, "size": 100, "amount_left": 60,
	}}
	qs.files = []map[string]any{
		{"name": "Movie/movie.mkv", "size": 90, "priority": 1},
		{"name": "Movie/sample.mkv", "size": 10, "priority": 0},
	}

	assert.Equal(t, "qbittorrent_client", c.Name())

	got, err := c.GetTorrent(context.Background(), movieHash)
	require.NoError(t, err)
	assert.Equal(t, &torrent.Info{
		ID:             movieHash,
		Name:           "Movie",
		Status:         torrent.StatusDownloading,
		DownloadDir:    "/downloads/",
		DownloadedEver: 40,
		LeftUntilDone:  60,
		Files: []torrent.File{
			{Name: "Movie/movie.mkv", Size: 90, Selected: true},
			{Name: "Movie/sample.mkv", Size: 10, Selected: false},
		},
	}, got)
	assert.Equal(t, 1, qs.logins, "the session cookie is reused")

	_, err = c.GetTorrent(context.Background(), "ffff")
	assert.ErrorIs(t, err, torrent.ErrTorrentNotFound)
}

func TestQbittorrent_RelogsOnExpiredSession(t *testing.T) {
	qs, c := newQbittorrent(t)
	ctx := context.Background()

	_, err := c.GetTorrents(ctx)
	require.NoError(t, err)

	qs.mu.Lock()
	qs.sid = "sid-2"
	qs.mu.Unlock()

	_, err = c.GetTorrents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, qs.logins)
}

func TestQbittorrent_LoginFailed(t *testing.T) {
	_, srv := newQbServer(t)
	cfg := serverConfig(t, srv, "qbittorrent")
	cfg.Username = "admin"
	cfg.Password = "wrong"

	c, err := torrent.NewQbittorrent(cfg, nil)
	require.NoError(t, err)

	_, err = c.GetTorrents(context.Background())
	assert.ErrorIs(t, err, torrent.ErrLoginFailed)
}

func TestQbittorrent_AddTorrent(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHash string
	}{
		{
			name:     "magnet",
			url:      "magnet:?xt=urn:btih:" + movieHash + "&dn=Movie",
			wantHash: movieHash,
		},
		{
			name:     "torrent file",
			url:      "http://tracker/other.torrent",
			wantHash: "0000000000000000000000000000000000000001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, c := newQbittorrent(t)
			qs.torrents = []map[string]any{{"hash": "existing", "name": "Old", "state": "uploading"}}

			got, err := c.AddTorrent(context.Background(), tt.url, true)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHash, got.ID)
			assert.Equal(t, torrent.StatusStopped, got.Status)
			assert.Equal(t, []string{tt.url}, qs.added)
		})
	}
}

func TestQbittorrent_RemoveSessionFreeSpace(t *testing.T) {
	qs, c := newQbittorrent(t)
	ctx := context.Background()

	require.NoError(t, c.RemoveTorrent(ctx, movieHash, true))
	assert.Equal(t, []string{movieHash + ":true"}, qs.removed)

	session, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/srv/downloads", session.DownloadDir)

	free, err := c.FreeSpace(ctx, session.DownloadDir)
	require.NoError(t, err)
	assert.Equal(t, int64(987654), free)

	qs.noState = true
	_, err = c.FreeSpace(ctx, session.DownloadDir)
	assert.ErrorIs(t, err, torrent.ErrFreeSpaceUnsupported)
}

func TestQbittorrent_StartStop(t *testing.T) {
	tests := []struct {
		name      string
		noV4      bool
		wantStart string
		wantStop  string
	}{
		{"v4 endpoints", false, "resume", "pause"},
		{"v5 endpoints", true, "start", "stop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, c := newQbittorrent(t)
			qs.noV4 = tt.noV4
			ctx := context.Background()

			require.NoError(t, c.StartTorrents(ctx, []string{"a", "b"}))
			require.NoError(t, c.StopTorrents(ctx, []string{"c"}))

			assert.Equal(t, []string{"a|b"}, qs.posted[tt.wantStart])
			assert.Equal(t, []string{"c"}, qs.posted[tt.wantStop])
		})
	}
}

func TestQbittorrent_Status(t *testing.T) {
	tests := map[string]string{
		"downloading":  torrent.StatusDownloading,
		"metaDL":       torrent.StatusDownloading,
		"stalledUP":    torrent.StatusSeeding,
		"pausedDL":     torrent.StatusStopped,
		"stoppedUP":    torrent.StatusStopped,
		"queuedDL":     torrent.StatusQueued,
		"checkingDL":   torrent.StatusChecking,
		"missingFiles": torrent.StatusError,
		"weird":        torrent.StatusUnknown,
	}

	for state, want := range tests {
		t.Run(state, func(t *testing.T) {
			qs, c := newQbittorrent(t)
			qs.torrents = []map[string]any{{"hash": "h", "state": state}}

			got, err := c.GetTorrents(context.Background())
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, want, got[0].Status)
		})
	}
}
