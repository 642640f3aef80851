// Package config provides configuration management for the closet service.
// It handles loading and parsing the YAML configuration file and exposes
// structured access to server, identity-provider, storage, thumbnail, and
// approval workflow settings.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stylingadventures/closetd/internal/apperr"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Server holds HTTP listener settings.
	Server ServerConfig `yaml:"server" json:"server"`

	// Cognito holds the hosted-UI identity provider settings used by the
	// login, token-exchange, and rotation flows.
	Cognito CognitoConfig `yaml:"cognito" json:"cognito"`

	// Storage configures the S3-compatible uploads bucket.
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Thumbs configures the thumbnail pipeline.
	Thumbs ThumbsConfig `yaml:"thumbs" json:"thumbs"`

	// Approval configures the moderation workflow integration.
	Approval ApprovalConfig `yaml:"approval" json:"approval"`

	// Redis is the connection URL for login-attempt state and the
	// thumbnail event stream, e.g. "redis://localhost:6379/0".
	Redis RedisConfig `yaml:"redis" json:"redis"`

	// Postgres is the DSN for durable approval and profile records.
	// Empty selects the in-memory stores (single-process deployments).
	Postgres string `yaml:"postgres" json:"postgres"`

	// Uploads holds tiered upload quota settings.
	Uploads UploadsConfig `yaml:"uploads" json:"uploads"`

	// AllowedOrigins is the CORS origin allow-list.
	AllowedOrigins []string `yaml:"allowed-origins" json:"allowed-origins"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// LoggingToFile writes logs to rotated files instead of stdout only.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir overrides the directory used when LoggingToFile is set.
	LogDir string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// Addr is the listen address, default ":8080".
	Addr string `yaml:"addr" json:"addr"`
}

// CognitoConfig describes the hosted-UI identity provider.
type CognitoConfig struct {
	// Domain is the full hosted-UI base URL, e.g.
	// "https://sa-dev.auth.us-east-1.amazoncognito.com".
	Domain string `yaml:"domain" json:"domain"`

	// ClientID is the app client id registered with the provider.
	ClientID string `yaml:"client-id" json:"client-id"`

	// ClientSecret is the app client secret. It never leaves the server.
	ClientSecret string `yaml:"client-secret" json:"client-secret"`

	// RedirectURI must exactly match a pre-registered callback URL.
	RedirectURI string `yaml:"redirect-uri" json:"redirect-uri"`

	// LogoutURI is the post-logout landing page.
	LogoutURI string `yaml:"logout-uri" json:"logout-uri"`

	// JWKSURL enables id-token signature verification when set.
	JWKSURL string `yaml:"jwks-url,omitempty" json:"jwks-url,omitempty"`
}

// StorageConfig configures the S3-compatible uploads bucket.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access-key" json:"access-key"`
	SecretKey string `yaml:"secret-key" json:"secret-key"`
	Region    string `yaml:"region" json:"region"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
	PathStyle bool   `yaml:"path-style" json:"path-style"`
}

// ThumbsConfig configures the thumbnail pipeline.
type ThumbsConfig struct {
	// Prefix is the destination namespace for derived images, default "thumbs/".
	Prefix string `yaml:"prefix" json:"prefix"`

	// MaxWidth bounds the longer edge of generated thumbnails, default 360.
	MaxWidth int `yaml:"max-width" json:"max-width"`

	// JPEGQuality is the encode quality (1-100), default 80.
	JPEGQuality int `yaml:"jpeg-quality" json:"jpeg-quality"`

	// Stream is the Redis Stream carrying upload notifications, default
	// "closet:thumb-jobs".
	Stream string `yaml:"stream" json:"stream"`

	// Group is the consumer group name, default "thumbnailer".
	Group string `yaml:"group" json:"group"`
}

// ApprovalConfig configures the moderation workflow integration.
type ApprovalConfig struct {
	// CallbackURL is the workflow engine endpoint that accepts task
	// success/failure signals for paused executions.
	CallbackURL string `yaml:"callback-url" json:"callback-url"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	// URL is a redis:// connection string.
	URL string `yaml:"url" json:"url"`
}

// UploadsConfig holds tiered upload quota settings, in megabytes.
type UploadsConfig struct {
	// BaseLimitMB applies to everyone, default 50.
	BaseLimitMB int `yaml:"base-limit-mb" json:"base-limit-mb"`

	// BestieLimitMB applies to members of the BESTIE group, default 200.
	BestieLimitMB int `yaml:"bestie-limit-mb" json:"bestie-limit-mb"`
}

// LoadConfig reads, parses, and validates the YAML configuration file.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configFile, err)
	}
	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configFile, err)
	}
	cfg.applyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Thumbs.Prefix == "" {
		c.Thumbs.Prefix = "thumbs/"
	}
	if !strings.HasSuffix(c.Thumbs.Prefix, "/") {
		c.Thumbs.Prefix += "/"
	}
	if c.Thumbs.MaxWidth <= 0 {
		c.Thumbs.MaxWidth = 360
	}
	if c.Thumbs.JPEGQuality <= 0 || c.Thumbs.JPEGQuality > 100 {
		c.Thumbs.JPEGQuality = 80
	}
	if c.Thumbs.Stream == "" {
		c.Thumbs.Stream = "closet:thumb-jobs"
	}
	if c.Thumbs.Group == "" {
		c.Thumbs.Group = "thumbnailer"
	}
	if c.Uploads.BaseLimitMB <= 0 {
		c.Uploads.BaseLimitMB = 50
	}
	if c.Uploads.BestieLimitMB <= 0 {
		c.Uploads.BestieLimitMB = 200
	}
	c.Cognito.Domain = strings.TrimRight(strings.TrimSpace(c.Cognito.Domain), "/")
}

// Validate fails fast on missing required settings, before any network call.
func (c *Config) Validate() error {
	var missing []string
	if c.Cognito.Domain == "" {
		missing = append(missing, "cognito.domain")
	}
	if c.Cognito.ClientID == "" {
		missing = append(missing, "cognito.client-id")
	}
	if c.Cognito.RedirectURI == "" {
		missing = append(missing, "cognito.redirect-uri")
	}
	if c.Storage.Endpoint == "" {
		missing = append(missing, "storage.endpoint")
	}
	if c.Storage.Bucket == "" {
		missing = append(missing, "storage.bucket")
	}
	if c.Storage.AccessKey == "" {
		missing = append(missing, "storage.access-key")
	}
	if c.Storage.SecretKey == "" {
		missing = append(missing, "storage.secret-key")
	}
	if len(missing) > 0 {
		return &apperr.ConfigurationError{
			Setting: strings.Join(missing, ", "),
			Message: "required setting missing",
		}
	}
	return nil
}
