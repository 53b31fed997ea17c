package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	JWTIssuer   string        `yaml:"jwt_issuer"`
	JWTDuration time.Duration `yaml:"jwt_duration"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// PolicyConfig is the part of the file that is reloaded while running.
type PolicyConfig struct {
	RetrogradeTolerance time.Duration `yaml:"retrograde_tolerance"`
	MinSyncInterval     time.Duration `yaml:"min_sync_interval"`
}

type LiveConfig struct {
	// DeletePolicy is "ignore" or "demote".
	DeletePolicy string `yaml:"delete_policy"`
	// TrustUserID lets TCP subscribers without a token name their user.
	TrustUserID bool `yaml:"trust_user_id"`
}

type Config struct {
	HTTPAddr string       `yaml:"http_addr"`
	TCPAddr  string       `yaml:"tcp_addr"`
	GRPCAddr string       `yaml:"grpc_addr"`
	DB       DBConfig     `yaml:"db"`
	Auth     AuthConfig   `yaml:"auth"`
	Ingest   PolicyConfig `yaml:"ingest"`
	Live     LiveConfig   `yaml:"live"`

	// File is the YAML file the config was read from, "" for env only.
	File string `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		HTTPAddr: ":8080",
		TCPAddr:  ":9090",
		GRPCAddr: ":9092",
		Auth: AuthConfig{
			// dev default (change for demo / production)
			JWTSecret:   "dev-secret-change-me",
			JWTIssuer:   "mangasync",
			JWTDuration: 24 * time.Hour,
		},
		Ingest: PolicyConfig{
			RetrogradeTolerance: 10 * time.Minute,
			MinSyncInterval:     5 * time.Second,
		},
		Live: LiveConfig{DeletePolicy: "ignore", TrustUserID: true},
	}
}

// LoadConfig starts from the defaults, overlays the YAML file named by
// MANGASYNC_CONFIG and then individual MANGASYNC_* variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if path := strings.TrimSpace(os.Getenv("MANGASYNC_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
		cfg.File = path
	}
	applyEnv(&cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadPolicy reads only the ingest section of path, falling back to the
// defaults for missing keys.
func LoadPolicy(path string) (PolicyConfig, error) {
	cfg := DefaultConfig()
	if err := loadFile(path, &cfg); err != nil {
		return PolicyConfig{}, err
	}
	return cfg.Ingest, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.HTTPAddr, "MANGASYNC_HTTP_ADDR")
	setString(&cfg.TCPAddr, "MANGASYNC_TCP_ADDR")
	setString(&cfg.GRPCAddr, "MANGASYNC_GRPC_ADDR")
	setString(&cfg.DB.Driver, "MANGASYNC_DB_DRIVER")
	setString(&cfg.DB.Path, "MANGASYNC_DB_PATH")
	setString(&cfg.DB.DSN, "MANGASYNC_DB_DSN")
	setString(&cfg.Live.DeletePolicy, "MANGASYNC_DELETE_POLICY")
	if v := strings.TrimSpace(os.Getenv("MANGASYNC_TCP_TRUST_USER_ID")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Live.TrustUserID = b
		}
	}

	cfg.Auth = LoadAuthConfigFrom(cfg.Auth)
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func LoadAuthConfig() AuthConfig {
	return LoadAuthConfigFrom(DefaultConfig().Auth)
}

// LoadAuthConfigFrom overrides base with MANGASYNC_JWT_* variables.
func LoadAuthConfigFrom(base AuthConfig) AuthConfig {
	setString(&base.JWTSecret, "MANGASYNC_JWT_SECRET")
	setString(&base.JWTIssuer, "MANGASYNC_JWT_ISSUER")

	// hours; a bad value keeps what we had
	if ttl := strings.TrimSpace(os.Getenv("MANGASYNC_JWT_TTL_HOURS")); ttl != "" {
		if h, err := strconv.Atoi(ttl); err == nil && h > 0 {
			base.JWTDuration = time.Duration(h) * time.Hour
		}
	}
	if base.JWTDuration <= 0 {
		base.JWTDuration = 24 * time.Hour
	}
	return base
}
