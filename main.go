package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/NamanBalaji/duld/internal/api"
	"github.com/NamanBalaji/duld/internal/common"
	"github.com/NamanBalaji/duld/internal/config"
	"github.com/NamanBalaji/duld/internal/drive"
	_ "github.com/NamanBalaji/duld/internal/drive/gcsbucket"
	_ "github.com/NamanBalaji/duld/internal/drive/s3bucket"
	"github.com/NamanBalaji/duld/internal/dvd"
	"github.com/NamanBalaji/duld/internal/engine"
	"github.com/NamanBalaji/duld/internal/exclude"
	"github.com/NamanBalaji/duld/internal/hah"
	"github.com/NamanBalaji/duld/internal/hasher"
	"github.com/NamanBalaji/duld/internal/links"
	"github.com/NamanBalaji/duld/internal/logger"
	"github.com/NamanBalaji/duld/internal/repository"
	"github.com/NamanBalaji/duld/internal/torrent"
	"github.com/NamanBalaji/duld/internal/uploader"
	httpPkg "github.com/NamanBalaji/duld/pkg/http"
)

const shutdownTimeout = 30 * time.Second

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	configPath := flag.String("config", "", fmt.Sprintf("Configuration file (default %s)", config.Path()))
	flag.Parse()

	cfg, err := config.GetConfig(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v\n", err)
	}

	err = logger.InitLogging(*debug, cfg.LogPath)
	if err != nil {
		log.Fatalf("Warning: Failed to initialize logging: %v\n", err)
	}

	err = run(cfg)
	if err != nil {
		logger.Errorf("main function error: %v", err)
	}
	logger.Close()

	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := httpPkg.NewClient()
	defer client.CloseIdleConnections()

	d, err := drive.New(ctx, cfg.Drive)
	if err != nil {
		return fmt.Errorf("failed to open drive: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Errorf("Error closing drive: %v", err)
		}
	}()

	pool := hasher.New(cfg.Upload.HashWorkers)
	defer pool.Close()

	var (
		static  []string
		dynamic string
	)
	if cfg.Exclude != nil {
		static, dynamic = cfg.Exclude.Static, cfg.Exclude.Dynamic
	}

	gate := uploader.NewSyncGate(d, cfg.Upload.SyncDelay, dvd.New(cfg.Dvd, client))
	up := uploader.New(d, pool, exclude.NewFilter(static, dynamic, client), gate, uploader.Options{
		RetryTimes:      cfg.Upload.RetryTimes,
		ParallelUploads: cfg.Upload.ParallelUploads,
	})

	repo, err := repository.NewBboltRepository(cfg.JobsDBPath)
	if err != nil {
		return fmt.Errorf("failed to open job history: %w", err)
	}
	defer repo.Close()

	registry, err := torrent.NewRegistry(cfg.Torrents, client)
	if err != nil {
		return err
	}
	defer registry.Close()

	eng := engine.New(&engine.Config{
		MaxConcurrentJobs: cfg.Upload.MaxConcurrentJobs,
		ShutdownTimeout:   shutdownTimeout,
	}, repo)
	if err := eng.Init(); err != nil {
		return err
	}
	defer func() {
		if err := eng.Shutdown(); err != nil {
			logger.Errorf("Error stopping engine: %v", err)
		}
	}()

	if registry.Len() > 0 && cfg.DiskSpace != nil {
		space := torrent.NewSpaceWatcher(registry, cfg.DiskSpace)
		if err := space.Start(ctx); err != nil {
			return err
		}
		defer space.Stop()
	}

	opts := api.Options{
		UploadTo: cfg.UploadTo,
		Jobs:     eng,
		Uploader: up,
		Torrents: registry,
		Links:    links.New(cfg.Links, client, up),
	}

	if cfg.HahPath != "" {
		w, err := hah.New(cfg.HahPath, cfg.UploadTo, up, func(token string, task func(context.Context) error) error {
			_, err := eng.Submit(common.KindHah, token, cfg.UploadTo, task)
			return err
		})
		if err != nil {
			return err
		}
		if err := eng.Go("hah", w.Run); err != nil {
			w.Close()
			return err
		}
		opts.Hah = w
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	if err := api.New(opts).Serve(ctx, addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Infof("shutting down")
	return nil
}
