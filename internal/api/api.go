// Package api is the HTTP control surface of the daemon. Every mutating
// route answers right away and leaves the work to a background job.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/NamanBalaji/duld/internal/common"
	"github.com/NamanBalaji/duld/internal/engine"
	"github.com/NamanBalaji/duld/internal/logger"
	"github.com/NamanBalaji/duld/internal/torrent"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Jobs runs and records background jobs.
type Jobs interface {
	Submit(kind common.Kind, token, destination string, task engine.Task) (*common.Job, error)
	Jobs() ([]*common.Job, error)
}

// Scanner finds finished H@H galleries and queues their upload.
type Scanner interface {
	ScanFinished() ([]string, error)
}

type LinkUploader interface {
	UploadFromURL(ctx context.Context, uploadTo, rawURL, name string) error
}

// Options wires the server. Torrent routes exist only with at least one
// torrent client and the H@H route only with a scanner.
type Options struct {
	UploadTo string
	Jobs     Jobs
	Uploader torrent.Uploader
	Torrents *torrent.Registry
	Hah      Scanner
	Links    LinkUploader
}

type Server struct {
	opts   Options
	router *mux.Router
}

func New(opts Options) *Server {
	s := &Server{opts: opts}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(logRequests)

	v1 := router.PathPrefix("/api/v1").Subrouter()

	if s.opts.Torrents != nil && s.opts.Torrents.Len() > 0 {
		v1.HandleFunc("/torrents", s.uploadCompletedTorrents).Methods(http.MethodPost)
		v1.HandleFunc("/torrents/{client}", s.addTorrents).Methods(http.MethodPost)
		v1.HandleFunc("/torrents/{client}/{id}", s.uploadTorrent).Methods(http.MethodPut)
	}
	if s.opts.Hah != nil {
		v1.HandleFunc("/hah", s.scanHah).Methods(http.MethodPost)
	}
	if s.opts.Links != nil {
		v1.HandleFunc("/links", s.uploadLink).Methods(http.MethodPost)
	}
	v1.HandleFunc("/jobs", s.listJobs).Methods(http.MethodGet)

	return router
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is done, then shuts the server down,
// giving open requests a moment to finish.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Infof("server started on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debugf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
