package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/adrg/xdg"
)

const (
	defaultHost        = "127.0.0.1"
	defaultPort        = 8612
	defaultUploadTo    = "/"
	defaultDriveType   = "s3"
	retryTimes         = 3
	syncDelay          = 1 * time.Second
	parallelUploads    = 1
	maxConcurrentJobs  = 0
	linkSpeedLimit     = 0
	defaultTorrentType = "transmission"
)

var (
	hashWorkers    = runtime.NumCPU()
	driveCachePath = filepath.Join(xdg.DataHome, appName, "drive.db")
	jobsDBPath     = filepath.Join(xdg.DataHome, appName, "jobs.db")
	linkTempDir    = filepath.Join(os.TempDir(), appName)
	torrentDataDir = filepath.Join(xdg.UserDirs.Download, appName)
)
