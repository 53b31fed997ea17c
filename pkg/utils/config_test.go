package utils

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MANGASYNC_CONFIG", "")
	t.Setenv("MANGASYNC_TCP_TRUST_USER_ID", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 10*time.Minute, cfg.Ingest.RetrogradeTolerance)
	assert.Equal(t, "ignore", cfg.Live.DeletePolicy)
	assert.True(t, cfg.Live.TrustUserID)
	assert.Equal(t, 24*time.Hour, cfg.Auth.JWTDuration)
	assert.Empty(t, cfg.File)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mangasync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":7000"
db:
  driver: postgres
  dsn: postgres://localhost/mangasync
auth:
  jwt_issuer: file-issuer
  jwt_duration: 2h
ingest:
  retrograde_tolerance: 0s
live:
  delete_policy: demote
  trust_user_id: true
`), 0o644))

	t.Setenv("MANGASYNC_CONFIG", path)
	t.Setenv("MANGASYNC_HTTP_ADDR", ":7100")
	t.Setenv("MANGASYNC_JWT_TTL_HOURS", "3")
	t.Setenv("MANGASYNC_TCP_TRUST_USER_ID", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, ":7100", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.TCPAddr)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, "file-issuer", cfg.Auth.JWTIssuer)
	assert.Equal(t, 3*time.Hour, cfg.Auth.JWTDuration)
	assert.Equal(t, time.Duration(0), cfg.Ingest.RetrogradeTolerance)
	assert.Equal(t, 5*time.Second, cfg.Ingest.MinSyncInterval)
	assert.Equal(t, "demote", cfg.Live.DeletePolicy)
	assert.False(t, cfg.Live.TrustUserID)
}

func TestLoadConfigBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ingest: [oops"), 0o644))
	t.Setenv("MANGASYNC_CONFIG", path)
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("MANGASYNC_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestAuthTTLParse(t *testing.T) {
	t.Setenv("MANGASYNC_JWT_TTL_HOURS", "48")
	assert.Equal(t, 48*time.Hour, LoadAuthConfig().JWTDuration)

	t.Setenv("MANGASYNC_JWT_TTL_HOURS", "soon")
	assert.Equal(t, 24*time.Hour, LoadAuthConfig().JWTDuration)
}

func TestWatchPolicyReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mangasync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ingest:\n  retrograde_tolerance: 1m\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan PolicyConfig, 8)
	require.NoError(t, WatchPolicy(ctx, path, func(p PolicyConfig) { got <- p }, log.New(io.Discard, "", 0)))

	require.NoError(t, os.WriteFile(path, []byte("ingest:\n  retrograde_tolerance: 3m\n  min_sync_interval: 2s\n"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case p := <-got:
			if p.RetrogradeTolerance == 3*time.Minute {
				assert.Equal(t, 2*time.Second, p.MinSyncInterval)
				return
			}
		case <-deadline:
			t.Fatal("policy change not observed")
		}
	}
}
