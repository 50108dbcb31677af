package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/NamanBalaji/duld/internal/common"
	"github.com/NamanBalaji/duld/internal/engine"
	"github.com/NamanBalaji/duld/internal/links"
	"github.com/NamanBalaji/duld/internal/logger"
	"github.com/NamanBalaji/duld/internal/torrent"
)

type addTorrentsRequest struct {
	URLs []string `json:"urls"`
}

type linkRequest struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// uploadCompletedTorrents queues every finished torrent of every client and
// returns their job tokens.
func (s *Server) uploadCompletedTorrents(w http.ResponseWriter, r *http.Request) {
	ids := []string{}

	for _, c := range s.opts.Torrents.All() {
		completed, err := torrent.GetCompleted(r.Context(), c)
		if err != nil {
			logger.Errorf("Failed to list completed torrents of %s: %v", c.Name(), err)
			continue
		}

		for _, t := range completed {
			if err := s.submitTorrent(c, t.ID); err != nil {
				writeError(w, err)
				return
			}
			ids = append(ids, torrent.JobID(c, t.ID))
		}
	}

	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) uploadTorrent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	c, err := s.opts.Torrents.Get(vars["client"])
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.submitTorrent(c, vars["id"]); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) submitTorrent(c torrent.Client, id string) error {
	_, err := s.opts.Jobs.Submit(common.KindTorrent, torrent.JobID(c, id), s.opts.UploadTo, func(ctx context.Context) error {
		return torrent.UploadByID(ctx, s.opts.Uploader, s.opts.UploadTo, c, id)
	})
	return err
}

// addTorrents adds the posted URLs paused and maps each to the added torrent,
// or null when the client refused it.
func (s *Server) addTorrents(w http.ResponseWriter, r *http.Request) {
	c, err := s.opts.Torrents.Get(mux.Vars(r)["client"])
	if err != nil {
		writeError(w, err)
		return
	}

	var req addTorrentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.URLs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "urls are required"})
		return
	}

	writeJSON(w, http.StatusOK, torrent.AddURLs(r.Context(), c, req.URLs))
}

func (s *Server) scanHah(w http.ResponseWriter, r *http.Request) {
	names, err := s.opts.Hah.ScanFinished()
	if err != nil {
		writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}

	writeJSON(w, http.StatusOK, names)
}

func (s *Server) uploadLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := links.Validate(req.URL); err != nil {
		writeError(w, err)
		return
	}

	_, err := s.opts.Jobs.Submit(common.KindLink, req.URL, s.opts.UploadTo, func(ctx context.Context) error {
		return s.opts.Links.UploadFromURL(ctx, s.opts.UploadTo, req.URL, req.Name)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.opts.Jobs.Jobs()
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*common.Job{}
	}

	writeJSON(w, http.StatusOK, jobs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, torrent.ErrClientNotFound):
		status = http.StatusNotFound
	case errors.Is(err, links.ErrInvalidURL):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrEngineNotRunning):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		logger.Errorf("request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
