package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"cabinet/internal/auth"
	"cabinet/internal/storage"
	"cabinet/internal/vfs"

	"gopkg.in/yaml.v3"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"

	AuthModeNone   = "none"
	AuthModeHeader = "header"
	AuthModeBasic  = "basic"
)

// S3Config holds the connection settings used when Backend is "s3".
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Region    string `yaml:"region,omitempty"`
	UseSSL    bool   `yaml:"useSSL"`
}

type UploadConfig struct {
	// ChunkSize is the multipart threshold and part size in bytes.
	ChunkSize int64 `yaml:"chunkSize"`
}

type AuthConfig struct {
	Mode  string           `yaml:"mode"` // "none", "header" or "basic"
	Users []auth.BasicUser `yaml:"users"`
}

// Config holds runtime configuration for cabinet.
//
// YAML example:
//
//	listen: "9000"
//	backend: "s3"            # "local" or "s3"
//	dataDir: "./data"        # used by the local backend
//	s3:
//	  endpoint: "localhost:9000"
//	  bucket: "files"
//	  accessKey: "minioadmin"
//	  secretKey: "minioadmin"
//	upload:
//	  chunkSize: 5242880
//	listLimit: 100
//	publicURL: "https://files.example.com"
//	logLevel: "info"
//	auth:
//	  mode: "basic"
//	  users:
//	    - name: "admin"
//	      password: "secret"
//	      permissions: ["*"]
//
// Environment overrides: CABINET_LISTEN, CABINET_BACKEND, CABINET_DATA_DIR,
// CABINET_S3_ENDPOINT, CABINET_S3_BUCKET, CABINET_S3_ACCESS_KEY,
// CABINET_S3_SECRET_KEY, CABINET_S3_SSL, CABINET_LOG_LEVEL,
// CABINET_PUBLIC_URL and CABINET_AUTH_MODE.
type Config struct {
	Listen    string       `yaml:"listen"`
	Backend   string       `yaml:"backend"`
	DataDir   string       `yaml:"dataDir"`
	S3        S3Config     `yaml:"s3"`
	Upload    UploadConfig `yaml:"upload"`
	ListLimit int          `yaml:"listLimit"`
	PublicURL string       `yaml:"publicURL"`
	LogLevel  string       `yaml:"logLevel"`
	Auth      AuthConfig   `yaml:"auth"`

	// Store and Authorizer, when set, take precedence over Backend and
	// Auth.
	Store      storage.ObjectStore `yaml:"-"`
	Authorizer auth.Authorizer     `yaml:"-"`
}

type ConfigOption func(*Config)

func WithStore(store storage.ObjectStore) ConfigOption {
	return func(cfg *Config) {
		cfg.Store = store
	}
}

func WithAuthorizer(authorizer auth.Authorizer) ConfigOption {
	return func(cfg *Config) {
		cfg.Authorizer = authorizer
	}
}

func WithChunkSize(size int64) ConfigOption {
	return func(cfg *Config) {
		cfg.Upload.ChunkSize = size
	}
}

func WithPublicURL(url string) ConfigOption {
	return func(cfg *Config) {
		cfg.PublicURL = url
	}
}

func WithDataDir(dataDir string) ConfigOption {
	return func(cfg *Config) {
		cfg.DataDir = dataDir
	}
}

// Default returns a Config with local defaults.
func Default() Config {
	return Config{
		Listen:    "9000",
		Backend:   BackendLocal,
		DataDir:   "./data",
		Upload:    UploadConfig{ChunkSize: vfs.DefaultChunkSize},
		ListLimit: vfs.DefaultListLimit,
		LogLevel:  "info",
		Auth:      AuthConfig{Mode: AuthModeNone},
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// LoadConfig reads configuration from path and applies environment
// overrides. A missing file or an empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return applyEnvOverrides(cfg), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return applyEnvOverrides(cfg), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	return applyEnvOverrides(cfg), nil
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	}
	return false, false
}

func applyEnvOverrides(cfg Config) Config {
	strOverrides := []struct {
		env string
		dst *string
	}{
		{"CABINET_LISTEN", &cfg.Listen},
		{"CABINET_DATA_DIR", &cfg.DataDir},
		{"CABINET_S3_ENDPOINT", &cfg.S3.Endpoint},
		{"CABINET_S3_BUCKET", &cfg.S3.Bucket},
		{"CABINET_S3_ACCESS_KEY", &cfg.S3.AccessKey},
		{"CABINET_S3_SECRET_KEY", &cfg.S3.SecretKey},
		{"CABINET_LOG_LEVEL", &cfg.LogLevel},
		{"CABINET_PUBLIC_URL", &cfg.PublicURL},
	}
	for _, o := range strOverrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = strings.TrimSpace(v)
		}
	}

	if v := os.Getenv("CABINET_BACKEND"); v != "" {
		switch b := strings.ToLower(strings.TrimSpace(v)); b {
		case BackendLocal, BackendS3:
			cfg.Backend = b
		default:
			// ignore invalid value; keep existing
		}
	}
	if v := os.Getenv("CABINET_AUTH_MODE"); v != "" {
		switch m := strings.ToLower(strings.TrimSpace(v)); m {
		case AuthModeNone, AuthModeHeader, AuthModeBasic:
			cfg.Auth.Mode = m
		}
	}
	if v := os.Getenv("CABINET_S3_SSL"); v != "" {
		if b, ok := parseBool(v); ok {
			cfg.S3.UseSSL = b
		}
	}
	if v := os.Getenv("CABINET_CHUNK_SIZE"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && n > 0 {
			cfg.Upload.ChunkSize = n
		}
	}

	return cfg
}

// Validate checks the settings needed to build the configured backend.
func (c *Config) Validate() error {
	if c.Store == nil {
		switch c.Backend {
		case BackendLocal:
			if c.DataDir == "" {
				return errors.New("dataDir is required for the local backend")
			}
		case BackendS3:
			if c.S3.Bucket == "" {
				return errors.New("s3.bucket is required for the s3 backend")
			}
		default:
			return fmt.Errorf("unknown backend %q", c.Backend)
		}
	}

	if c.Authorizer == nil {
		switch c.Auth.Mode {
		case "", AuthModeNone, AuthModeHeader:
		case AuthModeBasic:
			if len(c.Auth.Users) == 0 {
				return errors.New("auth.users is required for basic auth")
			}
		default:
			return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
		}
	}

	if c.Upload.ChunkSize < 0 {
		return errors.New("upload.chunkSize must not be negative")
	}
	if c.ListLimit < 0 || c.ListLimit > vfs.MaxListLimit {
		return fmt.Errorf("listLimit must be between 0 and %d", vfs.MaxListLimit)
	}

	return nil
}

// OpenStore builds the configured ObjectStore. The returned closer releases
// its resources and is never nil.
func (c *Config) OpenStore(ctx context.Context) (storage.ObjectStore, io.Closer, error) {
	if c.Store != nil {
		return c.Store, io.NopCloser(nil), nil
	}

	switch c.Backend {
	case BackendS3:
		store, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  c.S3.Endpoint,
			Bucket:    c.S3.Bucket,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
			Region:    c.S3.Region,
			UseSSL:    c.S3.UseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, io.NopCloser(nil), nil

	default:
		store, err := storage.NewLocalStore(ctx, c.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
}

// NewAuthorizer builds the configured Authorizer.
func (c *Config) NewAuthorizer() auth.Authorizer {
	if c.Authorizer != nil {
		return c.Authorizer
	}

	switch c.Auth.Mode {
	case AuthModeHeader:
		return auth.NewHeaderAuthorizer()
	case AuthModeBasic:
		return auth.NewBasicAuthorizer(c.Auth.Users...)
	default:
		return auth.AllowAll{}
	}
}
