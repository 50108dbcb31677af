// Command cmd uploads local paths once, without the daemon, printing the
// jobs still running until every path is done.
//
// It opens the same drive cache as the daemon, so stop the daemon or point
// the drive cachePath elsewhere first.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/NamanBalaji/duld/internal/config"
	"github.com/NamanBalaji/duld/internal/dedup"
	"github.com/NamanBalaji/duld/internal/drive"
	_ "github.com/NamanBalaji/duld/internal/drive/gcsbucket"
	_ "github.com/NamanBalaji/duld/internal/drive/s3bucket"
	"github.com/NamanBalaji/duld/internal/dvd"
	"github.com/NamanBalaji/duld/internal/exclude"
	"github.com/NamanBalaji/duld/internal/hasher"
	"github.com/NamanBalaji/duld/internal/logger"
	"github.com/NamanBalaji/duld/internal/uploader"
	httpPkg "github.com/NamanBalaji/duld/pkg/http"
)

var (
	statusActive    = lipgloss.NewStyle().Foreground(lipgloss.Color("#94e2d5")).Bold(true)
	statusCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1")).Bold(true)
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("#f38ba8")).Bold(true)
	subtle          = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6adc8"))
)

// printRunning prints the jobs in flight until stopChan is closed.
func printRunning(up *uploader.Uploader, stopChan <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	// Clear the current line
	clearLine := func() {
		fmt.Print("\r\033[K")
	}

	var last []dedup.Token
	for {
		select {
		case <-ticker.C:
			running := up.Running()
			if strings.Join(running, "\n") == strings.Join(last, "\n") {
				continue
			}
			last = running

			clearLine()
			fmt.Printf("%s %s", statusActive.Render(fmt.Sprintf("Uploading %d", len(running))), subtle.Render(strings.Join(running, ", ")))

		case <-stopChan:
			clearLine()
			return
		}
	}
}

func main() {
	configPath := flag.String("config", "", "Configuration file")
	remote := flag.String("to", "", "Remote directory (default: uploadTo from the configuration)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [-config file] [-to remote] path...\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	cfg, err := config.GetConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *remote == "" {
		*remote = cfg.UploadTo
	}

	if err := logger.InitLogging(*debug, cfg.LogPath); err != nil {
		fmt.Printf("Error initializing logging: %v\n", err)
		os.Exit(1)
	}

	failed, err := upload(cfg, *remote, flag.Args())
	logger.Close()

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// upload mirrors paths into remote and returns how many failed.
func upload(cfg *config.Config, remote string, paths []string) (int, error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := httpPkg.NewClient()

	d, err := drive.New(ctx, cfg.Drive)
	if err != nil {
		return 0, fmt.Errorf("failed to open drive: %w", err)
	}
	defer d.Close()

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

	results := make([]error, len(paths))

	stopProgressChan := make(chan struct{})
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		printRunning(up, stopProgressChan)
	}()

	start := time.Now()

	var wg sync.WaitGroup
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			results[i] = err
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = up.UploadFromPath(ctx, remote, abs)
		}()
	}
	wg.Wait()

	close(stopProgressChan)
	<-progressDone

	failed := 0
	for i, p := range paths {
		if results[i] != nil {
			failed++
			fmt.Printf("[%d] %s %s: %v\n", i+1, statusFailed.Render("Failed"), p, results[i])
			continue
		}
		fmt.Printf("[%d] %s %s\n", i+1, statusCompleted.Render("Completed"), p)
	}
	fmt.Printf("Uploaded %d of %d paths in %v\n", len(paths)-failed, len(paths), time.Since(start).Round(time.Millisecond))

	return failed, nil
}
