package http_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	httpmod "github.com/NamanBalaji/duld/pkg/http"
)

func TestGetFilename(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		want string
	}{
		{
			name: "Content-Disposition filename",
			resp: &http.Response{
				Header: http.Header{
					"Content-Disposition": []string{`attachment; filename="example.txt"`},
				},
				Request: &http.Request{URL: mustParseURL("http://example.com/ignored")},
			},
			want: "example.txt",
		},
		{
			name: "URL path fallback",
			resp: &http.Response{
				Header:  http.Header{},
				Request: &http.Request{URL: mustParseURL("http://example.com/path/to/file.bin")},
			},
			want: "file.bin",
		},
		{
			name: "URL query filename param",
			resp: &http.Response{
				Header:  http.Header{},
				Request: &http.Request{URL: mustParseURL("http://example.com/download?filename=data.zip")},
			},
			want: "data.zip",
		},
		{
			name: "Default when no path or param",
			resp: &http.Response{
				Header:  http.Header{},
				Request: &http.Request{URL: mustParseURL("http://example.com/")},
			},
			want: "download",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := httpmod.GetFilename(tt.resp)
			if got != tt.want {
				t.Errorf("GetFilename() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestNameFromURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"http://example.com/a/b/movie.mkv", "movie.mkv"},
		{"http://example.com/a/dir/", "dir"},
		{"http://example.com/my%20file.txt", "my file.txt"},
		{"http://example.com", "download"},
		{"http://[::1]:named", "download"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := httpmod.NameFromURL(tt.raw); got != tt.want {
				t.Errorf("NameFromURL(%q) = %q; want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func mustParseURL(raw string) *url.URL {
	u, _ := url.Parse(raw)
	return u
}

func TestParseLastModified(t *testing.T) {
	valid := "Mon, 02 Jan 2006 15:04:05 MST"
	parsed := httpmod.ParseLastModified(valid)
	if parsed.IsZero() {
		t.Errorf("ParseLastModified(%q) returned zero time; want non-zero", valid)
	}

	invalid := "Not a date"
	parsed2 := httpmod.ParseLastModified(invalid)
	if !parsed2.IsZero() {
		t.Errorf("ParseLastModified(%q) = %v; want zero time", invalid, parsed2)
	}
}

func TestClient_GetJSON(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token abc" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"x","count":2}`))
	})
	mux.HandleFunc("/bad", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client := httpmod.NewClient()
	ctx := context.Background()

	t.Run("decodes body", func(t *testing.T) {
		var out struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		}
		err := client.GetJSON(ctx, ts.URL+"/ok", map[string]string{"Authorization": "Token abc"}, &out)
		if err != nil {
			t.Fatalf("GetJSON() error = %v; want nil", err)
		}
		if out.Name != "x" || out.Count != 2 {
			t.Errorf("GetJSON() decoded %+v", out)
		}
	})

	t.Run("missing auth", func(t *testing.T) {
		var out map[string]any
		err := client.GetJSON(ctx, ts.URL+"/ok", nil, &out)
		if !errors.Is(err, httpmod.ErrAuthentication) {
			t.Errorf("GetJSON() error = %v; want ErrAuthentication", err)
		}
	})

	t.Run("bad body", func(t *testing.T) {
		var out map[string]any
		err := client.GetJSON(ctx, ts.URL+"/bad", nil, &out)
		if !errors.Is(err, httpmod.ErrDecode) {
			t.Errorf("GetJSON() error = %v; want ErrDecode", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		var out map[string]any
		err := client.GetJSON(ctx, ts.URL+"/missing", nil, &out)
		if !errors.Is(err, httpmod.ErrResourceNotFound) {
			t.Errorf("GetJSON() error = %v; want ErrResourceNotFound", err)
		}
	})
}

func TestClient_PostJSON(t *testing.T) {
	var gotType, gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "bad method", http.StatusMethodNotAllowed)
			return
		}
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := httpmod.NewClient()
	err := client.PostJSON(context.Background(), ts.URL, nil, []string{"a", "b"}, nil)
	if err != nil {
		t.Fatalf("PostJSON() error = %v; want nil", err)
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q; want application/json", gotType)
	}
	if gotBody != `["a","b"]` {
		t.Errorf("body = %q; want [\"a\",\"b\"]", gotBody)
	}
}

func TestClient_Download(t *testing.T) {
	lastModified := time.Date(2020, 5, 1, 10, 0, 0, 0, time.UTC)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/data.bin":
			w.Header().Set("Last-Modified", lastModified.Format(http.TimeFormat))
			_, _ = w.Write([]byte("payload"))
		case "/attach":
			w.Header().Set("Content-Disposition", `attachment; filename="named.txt"`)
			_, _ = w.Write([]byte("named"))
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer ts.Close()

	client := httpmod.NewClient()
	ctx := context.Background()

	t.Run("name from url", func(t *testing.T) {
		dir := t.TempDir()
		path, err := client.Download(ctx, ts.URL+"/files/data.bin", dir, "", 0)
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if path != filepath.Join(dir, "data.bin") {
			t.Errorf("Download() path = %q", path)
		}
		b, _ := os.ReadFile(path)
		if string(b) != "payload" {
			t.Errorf("content = %q; want payload", b)
		}
		fi, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if !fi.ModTime().Equal(lastModified) {
			t.Errorf("mtime = %v; want %v", fi.ModTime(), lastModified)
		}
	})

	t.Run("name from disposition", func(t *testing.T) {
		dir := t.TempDir()
		path, err := client.Download(ctx, ts.URL+"/attach", dir, "", 0)
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if filepath.Base(path) != "named.txt" {
			t.Errorf("Download() path = %q; want named.txt", path)
		}
	})

	t.Run("explicit name with limit", func(t *testing.T) {
		dir := t.TempDir()
		path, err := client.Download(ctx, ts.URL+"/files/data.bin", dir, "custom.bin", 1<<20)
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if filepath.Base(path) != "custom.bin" {
			t.Errorf("Download() path = %q; want custom.bin", path)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := client.Download(ctx, ts.URL+"/nope", t.TempDir(), "", 0)
		if !errors.Is(err, httpmod.ErrResourceNotFound) {
			t.Errorf("Download() error = %v; want ErrResourceNotFound", err)
		}
	})
}
