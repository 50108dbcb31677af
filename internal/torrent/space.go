package torrent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/NamanBalaji/duld/internal/config"
	"github.com/NamanBalaji/duld/internal/logger"
)

const (
	spaceCheckInterval = time.Minute
	gib                = 1024 * 1024 * 1024
)

var ErrInvalidDiskSpace = errors.New("invalid disk space range")

// SpaceWatcher stops fresh downloads while the disk is nearly full and
// resumes them once enough space is back.
type SpaceWatcher struct {
	registry *Registry
	safe     float64
	danger   float64
	interval time.Duration

	mu        sync.Mutex
	halted    bool
	scheduler gocron.Scheduler
}

// NewSpaceWatcher watches the clients of registry. Thresholds are in GiB.
func NewSpaceWatcher(registry *Registry, cfg *config.DiskSpaceConfig) *SpaceWatcher {
	return &SpaceWatcher{
		registry: registry,
		safe:     float64(cfg.Safe),
		danger:   float64(cfg.Danger),
		interval: spaceCheckInterval,
	}
}

// Halted reports whether downloads are currently held back.
func (w *SpaceWatcher) Halted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.halted
}

// Start runs Check every minute until Stop or ctx is done.
func (w *SpaceWatcher) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() {
			if err := w.Check(ctx); err != nil {
				logger.Errorf("cannot check disk space: %v", err)
			}
		}),
		gocron.WithName("disk-space"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule disk space check: %w", err)
	}

	w.mu.Lock()
	w.scheduler = s
	w.mu.Unlock()

	s.Start()
	return nil
}

func (w *SpaceWatcher) Stop() error {
	w.mu.Lock()
	s := w.scheduler
	w.scheduler = nil
	w.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Shutdown()
}

// Check measures the free space of the first client's download directory,
// assuming every client shares that disk, and halts or resumes torrents.
func (w *SpaceWatcher) Check(ctx context.Context) error {
	if w.safe <= w.danger {
		return ErrInvalidDiskSpace
	}

	c := w.registry.Default()
	if c == nil {
		return nil
	}

	session, err := c.GetSession(ctx)
	if err != nil {
		return err
	}

	free, err := c.FreeSpace(ctx, session.DownloadDir)
	if errors.Is(err, ErrFreeSpaceUnsupported) {
		logger.Warnf("cannot get free space")
		return nil
	}
	if err != nil {
		return err
	}
	freeGB := float64(free) / gib

	w.mu.Lock()
	halted := w.halted
	w.mu.Unlock()

	switch {
	case freeGB >= w.safe:
		if halted {
			logger.Infof("resuming halted torrents: %.2f", freeGB)
			w.apply(ctx, StatusStopped, Client.StartTorrents)
		}
		halted = false
	case freeGB <= w.danger:
		if !halted {
			logger.Infof("halting queued torrents: %.2f", freeGB)
			w.apply(ctx, StatusDownloading, Client.StopTorrents)
		}
		halted = true
	}

	w.mu.Lock()
	w.halted = halted
	w.mu.Unlock()

	return nil
}

// apply runs action on every torrent in status that has not received any data.
func (w *SpaceWatcher) apply(ctx context.Context, status string, action func(Client, context.Context, []string) error) {
	for _, c := range w.registry.All() {
		torrents, err := c.GetTorrents(ctx)
		if err != nil {
			logger.Errorf("Failed to list torrents of %s: %v", c.Name(), err)
			continue
		}

		var ids []string
		for _, t := range torrents {
			if t.Status == status && t.DownloadedEver == 0 {
				ids = append(ids, t.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}

		if err := action(c, ctx, ids); err != nil {
			logger.Errorf("Failed to update torrents %v of %s: %v", ids, c.Name(), err)
		}
	}
}
