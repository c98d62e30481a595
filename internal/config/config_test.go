package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lunanaall/thumbnailer/internal/model"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "require", cfg.Database.SSLMode)
	assert.Equal(t, "Image Metadata", cfg.Database.Table)
	assert.Equal(t, "originals", cfg.Storage.OriginalsContainer)
	assert.Equal(t, "thumbnails", cfg.Storage.ThumbnailsContainer)
	assert.Equal(t, 150, cfg.Thumbnail.MaxEdge)
	assert.Equal(t, 85, cfg.Thumbnail.Quality)
	assert.Equal(t, "thumb_", cfg.Thumbnail.KeyPrefix)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, model.PendingEmpty, cfg.Pipeline.Policy())
	assert.Equal(t, LeaseNone, cfg.Lease.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Lease.TTL)
	assert.Equal(t, 3, cfg.Retry.Attempts)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_NAME", "gallery")
	t.Setenv("DB_USER", "worker")
	t.Setenv("DB_PASSWORD", "s3cr3t")
	t.Setenv("DB_SSLMODE", "disable")
	t.Setenv("STORAGE_DRIVER", "s3")
	t.Setenv("STORAGE_USE_SSL", "false")
	t.Setenv("ORIGINALS_CONTAINER", "orig-prod")
	t.Setenv("THUMBNAILS_CONTAINER", "thumb-prod")
	t.Setenv("THUMB_MAX_EDGE", "300")
	t.Setenv("PIPELINE_WORKERS", "1")
	t.Setenv("PIPELINE_PENDING_POLICY", "equals_original")
	t.Setenv("LEASE_BACKEND", "redis")
	t.Setenv("LEASE_TTL", "90s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "6543", cfg.Database.Port)
	assert.Equal(t, "gallery", cfg.Database.Name)
	assert.Equal(t, "worker", cfg.Database.User)
	assert.Equal(t, "s3cr3t", cfg.Database.Pass)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "s3", cfg.Storage.Driver)
	assert.False(t, cfg.Storage.UseSSL)
	assert.Equal(t, "orig-prod", cfg.Storage.OriginalsContainer)
	assert.Equal(t, "thumb-prod", cfg.Storage.ThumbnailsContainer)
	assert.Equal(t, 300, cfg.Thumbnail.MaxEdge)
	assert.Equal(t, 1, cfg.Pipeline.Workers)
	assert.Equal(t, model.PendingEqualsOriginal, cfg.Pipeline.Policy())
	assert.Equal(t, LeaseRedis, cfg.Lease.Backend)
	assert.Equal(t, 90*time.Second, cfg.Lease.TTL)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	body := `
database:
  host: file-host
  table: previews
storage:
  public_base_url: https://cdn.example.com
thumbnail:
  quality: 70
retry:
  attempts: 5
  delay: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("DB_HOST", "env-host")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Environment wins over the file.
	assert.Equal(t, "env-host", cfg.Database.Host)
	assert.Equal(t, "previews", cfg.Database.Table)
	assert.Equal(t, "https://cdn.example.com", cfg.Storage.PublicBaseURL)
	assert.Equal(t, 70, cfg.Thumbnail.Quality)

	s := cfg.Retry.Strategy()
	assert.Equal(t, 5, s.Attempts)
	assert.Equal(t, 2*time.Second, s.Delay)
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("database: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("THUMB_QUALITY", "0")
	t.Setenv("PIPELINE_WORKERS", "0")
	t.Setenv("LEASE_BACKEND", "zookeeper")

	_, err := Load("")
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, strings.Contains(msg, "thumbnail.quality"))
	assert.True(t, strings.Contains(msg, "pipeline.workers"))
	assert.True(t, strings.Contains(msg, "lease.backend"))
}

func TestLoad_DBLeaseNeedsDefaultTable(t *testing.T) {
	t.Setenv("LEASE_BACKEND", LeaseDB)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTable, cfg.Database.Table)

	t.Setenv("DB_TABLE", "previews")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lease.backend")

	t.Setenv("LEASE_BACKEND", LeaseRedis)
	_, err = Load("")
	assert.NoError(t, err)
}

func TestDatabase_DSN(t *testing.T) {
	d := Database{Host: "db", Port: "5432", User: "app", Pass: "p@ss/word", Name: "images", SSLMode: "require"}

	assert.Equal(t, "postgres://app:p%40ss%2Fword@db:5432/images?sslmode=require", d.DSN())
}
