// Package config provides configuration management for the bulletin service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yourusername/bulletin/internal/announcement"
	"github.com/yourusername/bulletin/internal/storage"
)

// Primary backend names accepted by storage.primary.
const (
	PrimaryFile   = "file"
	PrimaryGitHub = "github"
	PrimaryMongo  = "mongo"
	PrimaryLocal  = "local"
	PrimaryBolt   = "bolt"
	PrimaryB2     = "b2"
)

// Config represents the main application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	GitHub  GitHubConfig  `yaml:"github"`
	Mongo   MongoConfig   `yaml:"mongo"`
	B2      B2Config      `yaml:"b2"`
	Site    SiteConfig    `yaml:"site"`
	Auth    AuthConfig    `yaml:"auth"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr                string `yaml:"addr"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

// StorageConfig selects the primary backend and locates the local mirror.
type StorageConfig struct {
	Primary         string `yaml:"primary"`           // file, github, mongo, bolt, b2 or local
	DataDir         string `yaml:"data_dir"`          // file backend directory
	BoltPath        string `yaml:"bolt_path"`         // bolt backend database file
	LocalDB         string `yaml:"local_db"`          // sqlite file for the local mirror
	LocalQuotaBytes int64  `yaml:"local_quota_bytes"` // total size limit of the mirror
}

// GitHubConfig locates the repository documents for the github backend.
type GitHubConfig struct {
	APIURL         string `yaml:"api_url"`
	Owner          string `yaml:"owner"`
	Repo           string `yaml:"repo"`
	Branch         string `yaml:"branch"`
	NewsPath       string `yaml:"news_path"`
	ActivitiesPath string `yaml:"activities_path"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Token          string `yaml:"token"` // prefer GITHUB_TOKEN
}

// MongoConfig locates the collection for the mongo backend.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// B2Config locates the bucket for the b2 backend.
type B2Config struct {
	KeyID  string `yaml:"key_id"`
	AppKey string `yaml:"app_key"` // prefer B2_APP_KEY
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// SiteConfig describes the public page.
type SiteConfig struct {
	Root         string `yaml:"root"`          // directory images are resolved against
	DefaultImage string `yaml:"default_image"`
}

// AuthConfig holds the admin password, plain or bcrypt hashed.
type AuthConfig struct {
	Password string `yaml:"password"` // prefer ADMIN_PASSWORD
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses a configuration file from the specified path.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	// #nosec G304 -- path is provided by user as configuration file path
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds == 0 {
		c.Server.WriteTimeoutSeconds = 30
	}

	if c.Storage.Primary == "" {
		c.Storage.Primary = PrimaryFile
	}
	c.Storage.Primary = strings.ToLower(strings.TrimSpace(c.Storage.Primary))
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.BoltPath == "" {
		c.Storage.BoltPath = "bulletin.bolt"
	}
	if c.Storage.LocalDB == "" {
		c.Storage.LocalDB = "local.db"
	}
	if c.Storage.LocalQuotaBytes == 0 {
		c.Storage.LocalQuotaBytes = storage.DefaultLocalQuota
	}

	if c.GitHub.Branch == "" {
		c.GitHub.Branch = "main"
	}
	if c.GitHub.NewsPath == "" {
		c.GitHub.NewsPath = "data/news.json"
	}
	if c.GitHub.ActivitiesPath == "" {
		c.GitHub.ActivitiesPath = "data/activities.json"
	}
	if c.GitHub.TimeoutSeconds == 0 {
		c.GitHub.TimeoutSeconds = 30
	}

	if c.Mongo.Database == "" {
		c.Mongo.Database = "bulletin"
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = "collections"
	}

	if c.B2.Prefix == "" {
		c.B2.Prefix = "data"
	}

	if c.Site.Root == "" {
		c.Site.Root = "."
	}
	if c.Site.DefaultImage == "" {
		c.Site.DefaultImage = announcement.DefaultImage
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.ReadTimeoutSeconds < 1 || c.Server.WriteTimeoutSeconds < 1 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if c.Storage.LocalQuotaBytes < 0 {
		return fmt.Errorf("storage.local_quota_bytes must not be negative, got %d", c.Storage.LocalQuotaBytes)
	}

	switch c.Storage.Primary {
	case PrimaryFile, PrimaryLocal, PrimaryBolt:
	case PrimaryGitHub:
		if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
			return fmt.Errorf("github.owner and github.repo are required when storage.primary is github")
		}
		if c.GitHub.TimeoutSeconds < 1 || c.GitHub.TimeoutSeconds > 600 {
			return fmt.Errorf("github.timeout_seconds must be between 1 and 600, got %d", c.GitHub.TimeoutSeconds)
		}
	case PrimaryMongo:
		if c.GetMongoURI() == "" {
			return fmt.Errorf("mongo.uri (or MONGO_URI) is required when storage.primary is mongo")
		}
	case PrimaryB2:
		if c.GetB2KeyID() == "" || c.GetB2AppKey() == "" || c.GetB2Bucket() == "" {
			return fmt.Errorf("b2 credentials and bucket are required when storage.primary is b2")
		}
	default:
		return fmt.Errorf("storage.primary must be one of file, github, mongo, bolt, b2, local; got %q", c.Storage.Primary)
	}
	return nil
}

// GitHubTimeout returns the per-request timeout of the github backend.
func (c *Config) GitHubTimeout() time.Duration {
	return time.Duration(c.GitHub.TimeoutSeconds) * time.Second
}

// GetGitHubToken returns the GitHub token with env var priority.
// It is read on every call so a rotated token takes effect without restart.
func (c *Config) GetGitHubToken() string {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return token
	}
	return c.GitHub.Token
}

// GetAdminPassword returns the admin password with env var priority.
func (c *Config) GetAdminPassword() string {
	if pw := os.Getenv("ADMIN_PASSWORD"); pw != "" {
		return pw
	}
	return c.Auth.Password
}

// GetMongoURI returns the MongoDB URI with env var priority.
func (c *Config) GetMongoURI() string {
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		return uri
	}
	return c.Mongo.URI
}

// GetB2KeyID returns the B2 key id with env var priority.
func (c *Config) GetB2KeyID() string {
	if id := os.Getenv("B2_KEY_ID"); id != "" {
		return id
	}
	return c.B2.KeyID
}

// GetB2AppKey returns the B2 application key with env var priority.
func (c *Config) GetB2AppKey() string {
	if key := os.Getenv("B2_APP_KEY"); key != "" {
		return key
	}
	return c.B2.AppKey
}

// GetB2Bucket returns the B2 bucket name with env var priority.
func (c *Config) GetB2Bucket() string {
	if bucket := os.Getenv("B2_BUCKET"); bucket != "" {
		return bucket
	}
	return c.B2.Bucket
}
