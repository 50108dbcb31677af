package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	appName        = "duld"
	configFileName = "duld.yaml"
)

var (
	ErrInvalidDiskSpace = errors.New("invalid disk space range: safe must be greater than danger")
	ErrInvalidPort      = errors.New("invalid port")
	ErrMissingDriveType = errors.New("drive type is required")
	ErrMissingTorrent   = errors.New("torrent client type is required")
)

// Config holds the configuration options for the daemon.
type Config struct {
	Host       string           `yaml:"host,omitempty"`
	Port       int              `yaml:"port,omitempty"`
	UploadTo   string           `yaml:"uploadTo,omitempty"`
	LogPath    string           `yaml:"logPath,omitempty"`
	HahPath    string           `yaml:"hahPath,omitempty"`
	JobsDBPath string           `yaml:"jobsDbPath,omitempty"`
	Exclude    *ExcludeConfig   `yaml:"exclude,omitempty"`
	DiskSpace  *DiskSpaceConfig `yaml:"reservedSpaceInGb,omitempty"`
	Torrents   []TorrentConfig  `yaml:"torrents,omitempty"`
	Dvd        *DvdConfig       `yaml:"dvd,omitempty"`
	Drive      *DriveConfig     `yaml:"drive,omitempty"`
	Upload     *UploadConfig    `yaml:"upload,omitempty"`
	Links      *LinksConfig     `yaml:"links,omitempty"`

	// Transmission is the single-client form older config files use.
	// It is folded into Torrents when Torrents is empty.
	Transmission *TorrentConfig `yaml:"transmission,omitempty"`
}

// ExcludeConfig holds the static exclusion patterns and the optional endpoint serving more.
type ExcludeConfig struct {
	Static  []string `yaml:"static,omitempty"`
	Dynamic string   `yaml:"dynamic,omitempty"`
}

// DiskSpaceConfig holds the free space thresholds (in GiB) used to halt and resume torrents.
type DiskSpaceConfig struct {
	Safe   int `yaml:"safe"`
	Danger int `yaml:"danger"`
}

// TorrentConfig describes one torrent client.
type TorrentConfig struct {
	Type        string `yaml:"type,omitempty"`
	Name        string `yaml:"name,omitempty"`
	Host        string `yaml:"host,omitempty"`
	Port        int    `yaml:"port,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	DownloadDir string `yaml:"downloadDir,omitempty"`
	DataDir     string `yaml:"dataDir,omitempty"`
	Seed        bool   `yaml:"seed,omitempty"`
}

// DvdConfig holds the search cache endpoint notified about synced nodes.
type DvdConfig struct {
	CachesSearchesURL string `yaml:"cachesSearchesUrl"`
	Token             string `yaml:"token,omitempty"`
}

// DriveConfig selects and configures the remote drive backend.
type DriveConfig struct {
	Type            string `yaml:"type,omitempty"`
	Bucket          string `yaml:"bucket,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKey       string `yaml:"accessKey,omitempty"`
	SecretKey       string `yaml:"secretKey,omitempty"`
	CredentialsFile string `yaml:"credentialsFile,omitempty"`
	CachePath       string `yaml:"cachePath,omitempty"`
}

// UploadConfig tunes the upload orchestrator.
type UploadConfig struct {
	RetryTimes        int           `yaml:"retryTimes,omitempty"`
	SyncDelay         time.Duration `yaml:"syncDelay,omitempty"`
	HashWorkers       int           `yaml:"hashWorkers,omitempty"`
	ParallelUploads   int           `yaml:"parallelUploads,omitempty"`
	MaxConcurrentJobs int           `yaml:"maxConcurrentJobs,omitempty"`
}

// LinksConfig tunes direct URL downloads.
type LinksConfig struct {
	TempDir    string `yaml:"tempDir,omitempty"`
	SpeedLimit int64  `yaml:"speedLimit,omitempty"`
}

// Path returns the default location of the configuration file.
func Path() string {
	return filepath.Join(xdg.ConfigHome, configFileName)
}

// GetConfig reads the configuration file and returns a Config struct.
// An empty path means the default location. If the file does not exist,
// it returns the default configuration.
func GetConfig(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}
	defaults := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &defaults, nil
		}

		return nil, err
	}

	if len(b) == 0 {
		return &defaults, nil
	}

	var cfg Config

	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return nil, err
	}

	driveCfg := zeroOr(cfg.Drive, defaults.Drive)
	uploadCfg := zeroOr(cfg.Upload, defaults.Upload)
	linksCfg := zeroOr(cfg.Links, defaults.Links)

	torrents := cfg.Torrents
	if len(torrents) == 0 && cfg.Transmission != nil {
		t := *cfg.Transmission
		t.Type = zeroOr(t.Type, defaultTorrentType)
		torrents = []TorrentConfig{t}
	}

	merged := &Config{
		Host:       zeroOr(cfg.Host, defaults.Host),
		Port:       zeroOr(cfg.Port, defaults.Port),
		UploadTo:   zeroOr(cfg.UploadTo, defaults.UploadTo),
		LogPath:    cfg.LogPath,
		HahPath:    cfg.HahPath,
		JobsDBPath: zeroOr(cfg.JobsDBPath, defaults.JobsDBPath),
		Exclude:    cfg.Exclude,
		DiskSpace:  cfg.DiskSpace,
		Torrents:   normalizeTorrents(torrents),
		Dvd:        cfg.Dvd,
		Drive: &DriveConfig{
			Type:            zeroOr(driveCfg.Type, defaults.Drive.Type),
			Bucket:          driveCfg.Bucket,
			Prefix:          driveCfg.Prefix,
			Region:          driveCfg.Region,
			Endpoint:        driveCfg.Endpoint,
			AccessKey:       driveCfg.AccessKey,
			SecretKey:       driveCfg.SecretKey,
			CredentialsFile: driveCfg.CredentialsFile,
			CachePath:       zeroOr(driveCfg.CachePath, defaults.Drive.CachePath),
		},
		Upload: &UploadConfig{
			RetryTimes:        zeroOr(uploadCfg.RetryTimes, defaults.Upload.RetryTimes),
			SyncDelay:         zeroOr(uploadCfg.SyncDelay, defaults.Upload.SyncDelay),
			HashWorkers:       zeroOr(uploadCfg.HashWorkers, defaults.Upload.HashWorkers),
			ParallelUploads:   zeroOr(uploadCfg.ParallelUploads, defaults.Upload.ParallelUploads),
			MaxConcurrentJobs: uploadCfg.MaxConcurrentJobs,
		},
		Links: &LinksConfig{
			TempDir:    zeroOr(linksCfg.TempDir, defaults.Links.TempDir),
			SpeedLimit: linksCfg.SpeedLimit,
		},
	}

	if err := merged.Validate(); err != nil {
		return nil, err
	}

	return merged, nil
}

func DefaultConfig() Config {
	return Config{
		Host:       defaultHost,
		Port:       defaultPort,
		UploadTo:   defaultUploadTo,
		JobsDBPath: jobsDBPath,
		Drive: &DriveConfig{
			Type:      defaultDriveType,
			CachePath: driveCachePath,
		},
		Upload: &UploadConfig{
			RetryTimes:        retryTimes,
			SyncDelay:         syncDelay,
			HashWorkers:       hashWorkers,
			ParallelUploads:   parallelUploads,
			MaxConcurrentJobs: maxConcurrentJobs,
		},
		Links: &LinksConfig{
			TempDir:    linkTempDir,
			SpeedLimit: linkSpeedLimit,
		},
	}
}

// Validate checks the cross-field constraints GetConfig cannot express through defaults.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}

	if c.Drive == nil || c.Drive.Type == "" {
		return ErrMissingDriveType
	}

	if c.DiskSpace != nil && c.DiskSpace.Safe <= c.DiskSpace.Danger {
		return ErrInvalidDiskSpace
	}

	for i, t := range c.Torrents {
		if t.Type == "" {
			return fmt.Errorf("torrents[%d]: %w", i, ErrMissingTorrent)
		}
	}

	return nil
}

// normalizeTorrents names anonymous clients after their type and fills the embedded data dir.
func normalizeTorrents(in []TorrentConfig) []TorrentConfig {
	if len(in) == 0 {
		return nil
	}

	out := make([]TorrentConfig, len(in))
	for i, t := range in {
		t.Name = zeroOr(t.Name, t.Type+"_client")
		t.DataDir = zeroOr(t.DataDir, torrentDataDir)
		out[i] = t
	}

	return out
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}
