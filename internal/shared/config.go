package shared

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

const (
	// MaxUploadSize is the largest file the upload endpoint accepts (256 GiB).
	MaxUploadSize int64 = 256 << 30
	// chunkAlignment is the granularity the resumable protocol requires for non-final chunks.
	chunkAlignment int64 = 256 << 10
)

// PrivacyStatuses lists the privacy values accepted for videos and playlists.
var PrivacyStatuses = []string{"private", "public", "unlisted"}

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Paths       PathsConfig       `toml:"paths"`
	Upload      UploadConfig      `toml:"upload"`
	Playlist    PlaylistConfig    `toml:"playlist"`
	Quota       QuotaConfig       `toml:"quota"`
	Logging     LoggingConfig     `toml:"logging"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Google GoogleConfig `toml:"google"`
}

// GoogleConfig contains the OAuth2 client used for the YouTube Data API.
type GoogleConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RedirectURI  string   `toml:"redirect_uri"`
	TokenPath    string   `toml:"token_path"`
	Scopes       []string `toml:"scopes"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings for the OAuth callback.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// PathsConfig locates the videos to upload and their metadata.
type PathsConfig struct {
	VideosDirectory string `toml:"videos_directory"`
	MetadataFile    string `toml:"metadata_file"`
	LogFile         string `toml:"log_file"`
}

// UploadConfig controls chunking, retries and concurrency.
type UploadConfig struct {
	UploadURL             string  `toml:"upload_url"`
	APIBaseURL            string  `toml:"api_base_url"`
	DefaultPrivacy        string  `toml:"default_privacy"`
	ChunkSizeMB           int     `toml:"chunk_size_mb"`
	Concurrency           int     `toml:"concurrency"`
	CheckpointEvery       int     `toml:"checkpoint_every"`
	MaxRetries            int     `toml:"max_retries"`
	RetryBaseSeconds      float64 `toml:"retry_base_seconds"`
	RetryMultiplier       float64 `toml:"retry_multiplier"`
	RetryCeilingSeconds   float64 `toml:"retry_ceiling_seconds"`
	JitterFraction        float64 `toml:"jitter_fraction"`
	MaxAnomalies          int     `toml:"max_anomalies"`
	GracePeriodSeconds    int     `toml:"grace_period_seconds"`
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"`
	Verify                bool    `toml:"verify"`
}

// PlaylistConfig controls attaching completed uploads to a playlist.
type PlaylistConfig struct {
	CreateIfNotExists bool   `toml:"create_if_not_exists"`
	Privacy           string `toml:"privacy"`
	Description       string `toml:"description"`
}

// QuotaConfig sets the request rate and the daily cost budget.
type QuotaConfig struct {
	DailyBudget       int        `toml:"daily_budget"`
	RequestsPerMinute int        `toml:"requests_per_minute"`
	ResetHourUTC      int        `toml:"reset_hour_utc"`
	Persist           bool       `toml:"persist"`
	Costs             QuotaCosts `toml:"costs"`
}

// QuotaCosts is the budget charged per remote operation.
type QuotaCosts struct {
	Initiate       int `toml:"initiate"`
	Chunk          int `toml:"chunk"`
	Query          int `toml:"query"`
	PlaylistList   int `toml:"playlist_list"`
	PlaylistCreate int `toml:"playlist_create"`
	PlaylistInsert int `toml:"playlist_insert"`
	VideoStatus    int `toml:"video_status"`
}

// LoggingConfig contains the log level.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// ChunkSize returns the configured chunk size in bytes, aligned down to 256 KiB.
func (u UploadConfig) ChunkSize() int64 {
	size := int64(u.ChunkSizeMB) << 20
	size -= size % chunkAlignment
	if size < chunkAlignment {
		return chunkAlignment
	}
	return size
}

// GracePeriod returns how long in-flight chunk sends may run after cancellation.
func (u UploadConfig) GracePeriod() time.Duration {
	return time.Duration(u.GracePeriodSeconds) * time.Second
}

// RequestTimeout returns the per-request HTTP timeout.
func (u UploadConfig) RequestTimeout() time.Duration {
	return time.Duration(u.RequestTimeoutSeconds) * time.Second
}

// Validate checks ranges the rest of the program relies on.
func (c *Config) Validate() error {
	switch {
	case c.Upload.ChunkSizeMB < 1 || c.Upload.ChunkSizeMB > 100:
		return fmt.Errorf("%w: upload.chunk_size_mb must be between 1 and 100", ErrInvalidConfig)
	case c.Upload.Concurrency < 1:
		return fmt.Errorf("%w: upload.concurrency must be at least 1", ErrInvalidConfig)
	case c.Upload.MaxRetries < 1:
		return fmt.Errorf("%w: upload.max_retries must be at least 1", ErrInvalidConfig)
	case c.Upload.RetryMultiplier < 1:
		return fmt.Errorf("%w: upload.retry_multiplier must be at least 1", ErrInvalidConfig)
	case c.Upload.JitterFraction < 0 || c.Upload.JitterFraction > 1:
		return fmt.Errorf("%w: upload.jitter_fraction must be between 0 and 1", ErrInvalidConfig)
	case c.Quota.DailyBudget < 1:
		return fmt.Errorf("%w: quota.daily_budget must be positive", ErrInvalidConfig)
	case c.Quota.RequestsPerMinute < 1:
		return fmt.Errorf("%w: quota.requests_per_minute must be positive", ErrInvalidConfig)
	case c.Quota.ResetHourUTC < 0 || c.Quota.ResetHourUTC > 23:
		return fmt.Errorf("%w: quota.reset_hour_utc must be between 0 and 23", ErrInvalidConfig)
	}

	if !ValidPrivacy(c.Upload.DefaultPrivacy) {
		return fmt.Errorf("%w: upload.default_privacy %q", ErrInvalidConfig, c.Upload.DefaultPrivacy)
	}
	if !ValidPrivacy(c.Playlist.Privacy) {
		return fmt.Errorf("%w: playlist.privacy %q", ErrInvalidConfig, c.Playlist.Privacy)
	}
	return nil
}

// ValidPrivacy reports whether s is an accepted privacy status.
func ValidPrivacy(s string) bool {
	return slices.Contains(PrivacyStatuses, strings.ToLower(s))
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values absent from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
