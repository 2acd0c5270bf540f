package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"icscsv/internal/ics"
)

const (
	defaultListen      = "127.0.0.1:8080"
	defaultLogLevel    = "info"
	defaultCacheDir    = "./var/ics-cache"
	defaultOutputDir   = "./var/exports"
	defaultRefreshCron = "*/30 * * * *"
	defaultMaxUploadMB = 10
	defaultPreviewRows = 5
)

var feedIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// FeedConfig describes a calendar subscription exported to CSV on schedule.
type FeedConfig struct {
	// ID names the export file (<output_dir>/<id>.csv) and appears in logs.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CacheDir holds the conditional-fetch cache for feeds.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// OutputDir receives one <id>.csv per feed.
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	// RefreshCron is a standard 5-field cron expression (e.g. "*/30 * * * *")
	// for the feed exporter.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// WriteBOM prefixes written and downloaded CSV with a UTF-8 BOM.
	WriteBOM bool `yaml:"write_bom" json:"write_bom"`

	// MaxUploadMB caps the size of an uploaded calendar.
	MaxUploadMB int `yaml:"max_upload_mb" json:"max_upload_mb"`

	// PreviewRows is how many events the JSON convert response previews.
	PreviewRows int `yaml:"preview_rows" json:"preview_rows"`

	// Feeds is the list of calendars to export.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		LogLevel:    defaultLogLevel,
		CacheDir:    defaultCacheDir,
		OutputDir:   defaultOutputDir,
		RefreshCron: defaultRefreshCron,
		WriteBOM:    true,
		MaxUploadMB: defaultMaxUploadMB,
		PreviewRows: defaultPreviewRows,
		Feeds:       []FeedConfig{},
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly. WriteBOM is left alone: false is a valid choice.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.OutputDir == "" {
		c.OutputDir = defaultOutputDir
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = defaultMaxUploadMB
	}
	if c.PreviewRows <= 0 {
		c.PreviewRows = defaultPreviewRows
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	for i := range c.Feeds {
		if c.Feeds[i].ID == "" {
			c.Feeds[i].ID = fmt.Sprintf("feed%d", i+1)
		}
	}
}

// Validate reports configuration errors that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		if f.URL == "" {
			errs = append(errs, fmt.Errorf("feeds[%d]: url is empty", i))
		}
		if !feedIDRe.MatchString(f.ID) {
			errs = append(errs, fmt.Errorf("feeds[%d]: id %q must be alphanumeric with _.-", i, f.ID))
		}
		if seen[f.ID] {
			errs = append(errs, fmt.Errorf("feeds[%d]: duplicate id %q", i, f.ID))
		}
		seen[f.ID] = true
	}
	return errors.Join(errs...)
}

// MaxUploadBytes is MaxUploadMB in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Sources converts the configured feeds into fetch sources.
func (c *Config) Sources() []ics.Source {
	sources := make([]ics.Source, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		if f.URL == "" {
			continue
		}
		name := f.Name
		if name == "" {
			name = f.ID
		}
		sources = append(sources, ics.Source{ID: f.ID, Name: name, URL: f.URL})
	}
	return sources
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: write a default config with 0600 perms
//     (creating the parent directory) and return it.
//   - Otherwise: unmarshal, normalize and validate.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// Save is a convenience method on Config that delegates to Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
