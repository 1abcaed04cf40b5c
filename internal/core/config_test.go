package core_test

import (
	"os"
	"path/filepath"
	"testing"

	"cabinet/internal/auth"
	"cabinet/internal/core"
	"cabinet/internal/storage"
	"cabinet/internal/vfs"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cabinet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := core.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, core.Default(), cfg)
	require.Equal(t, "9000", cfg.Listen)
	require.Equal(t, core.BackendLocal, cfg.Backend)
	require.Equal(t, vfs.DefaultChunkSize, cfg.Upload.ChunkSize)
	require.Equal(t, vfs.DefaultListLimit, cfg.ListLimit)
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, `
listen: "8080"
backend: s3
s3:
  endpoint: "minio:9000"
  bucket: files
  accessKey: ak
  secretKey: sk
  useSSL: true
upload:
  chunkSize: 1048576
listLimit: 50
publicURL: https://files.example.com
auth:
  mode: basic
  users:
    - name: admin
      password: secret
      permissions: ["*"]
`)

	cfg, err := core.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Listen)
	require.Equal(t, core.BackendS3, cfg.Backend)
	require.Equal(t, core.S3Config{Endpoint: "minio:9000", Bucket: "files", AccessKey: "ak", SecretKey: "sk", UseSSL: true}, cfg.S3)
	require.EqualValues(t, 1<<20, cfg.Upload.ChunkSize)
	require.Equal(t, 50, cfg.ListLimit)
	require.Equal(t, "https://files.example.com", cfg.PublicURL)
	require.Equal(t, "./data", cfg.DataDir, "unset keys keep their defaults")
	require.Equal(t, core.AuthModeBasic, cfg.Auth.Mode)
	require.Equal(t, []auth.BasicUser{{Name: "admin", Password: "secret", Permissions: []auth.Permission{auth.Wildcard}}}, cfg.Auth.Users)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, "listen: \"8080\"\nbackend: s3\n")

	t.Setenv("CABINET_LISTEN", "7000")
	t.Setenv("CABINET_BACKEND", "LOCAL")
	t.Setenv("CABINET_DATA_DIR", "/var/lib/cabinet")
	t.Setenv("CABINET_S3_SSL", "yes")
	t.Setenv("CABINET_LOG_LEVEL", "debug")
	t.Setenv("CABINET_AUTH_MODE", "header")
	t.Setenv("CABINET_CHUNK_SIZE", "2048")

	cfg, err := core.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "7000", cfg.Listen)
	require.Equal(t, core.BackendLocal, cfg.Backend)
	require.Equal(t, "/var/lib/cabinet", cfg.DataDir)
	require.True(t, cfg.S3.UseSSL)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, core.AuthModeHeader, cfg.Auth.Mode)
	require.EqualValues(t, 2048, cfg.Upload.ChunkSize)
}

func TestLoadConfigIgnoresInvalidEnv(t *testing.T) {
	t.Setenv("CABINET_BACKEND", "ftp")
	t.Setenv("CABINET_S3_SSL", "maybe")
	t.Setenv("CABINET_CHUNK_SIZE", "-1")

	cfg, err := core.LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, core.BackendLocal, cfg.Backend)
	require.False(t, cfg.S3.UseSSL)
	require.Equal(t, vfs.DefaultChunkSize, cfg.Upload.ChunkSize)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	_, err := core.LoadConfig(writeConfig(t, "listen: [unterminated"))
	require.ErrorContains(t, err, "parse config")
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*core.Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*core.Config) {}},
		{name: "unknown backend", mutate: func(c *core.Config) { c.Backend = "ftp" }, wantErr: "unknown backend"},
		{name: "s3 without bucket", mutate: func(c *core.Config) { c.Backend = core.BackendS3 }, wantErr: "s3.bucket"},
		{name: "local without dir", mutate: func(c *core.Config) { c.DataDir = "" }, wantErr: "dataDir"},
		{name: "basic without users", mutate: func(c *core.Config) { c.Auth.Mode = core.AuthModeBasic }, wantErr: "auth.users"},
		{name: "unknown auth", mutate: func(c *core.Config) { c.Auth.Mode = "jwt" }, wantErr: "unknown auth mode"},
		{name: "list limit too large", mutate: func(c *core.Config) { c.ListLimit = vfs.MaxListLimit + 1 }, wantErr: "listLimit"},
		{name: "negative chunk", mutate: func(c *core.Config) { c.Upload.ChunkSize = -1 }, wantErr: "chunkSize"},
		{
			name: "explicit store skips backend checks",
			mutate: func(c *core.Config) {
				c.Backend = "ftp"
				c.Store = &storage.LocalStore{}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := core.Default()
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestNewAuthorizer(t *testing.T) {
	t.Parallel()

	cfg := core.NewConfig()
	require.IsType(t, auth.AllowAll{}, cfg.NewAuthorizer())

	cfg.Auth.Mode = core.AuthModeHeader
	require.IsType(t, &auth.HeaderAuthorizer{}, cfg.NewAuthorizer())

	cfg.Auth.Mode = core.AuthModeBasic
	require.IsType(t, &auth.BasicAuthorizer{}, cfg.NewAuthorizer())

	explicit := auth.NewCompoundAuthorizer()
	cfg = core.NewConfig(core.WithAuthorizer(explicit))
	require.Same(t, explicit, cfg.NewAuthorizer())
}

func TestOpenStoreS3(t *testing.T) {
	t.Parallel()

	cfg := core.NewConfig(func(c *core.Config) {
		c.Backend = core.BackendS3
		c.S3 = core.S3Config{Endpoint: "localhost:9000", Bucket: "files", AccessKey: "ak", SecretKey: "sk"}
	})

	store, closer, err := cfg.OpenStore(t.Context())
	require.NoError(t, err)
	require.NotNil(t, closer)
	require.IsType(t, &storage.MinioStore{}, store)
}
