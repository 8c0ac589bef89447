package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultListenAddr = "127.0.0.1:7878"
	DefaultDBFileName = ".vrac.db"

	DefaultMaxUploadBytes int64 = 500 * 1024 * 1024
	DefaultSweepInterval        = 60 // minutes
	DefaultStorageBackend       = "filesystem"

	configDirEnvKey = "VRAC_CONFIG_DIR"
	configFileName  = ".vrac.toml"
)

// StorageConfig selects and configures the byte-storage backend.
type StorageConfig struct {
	Backend string `toml:"backend"`

	// Filesystem backend.
	Root string `toml:"root"`

	// Object store backend.
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
}

// UploadConfig bounds upload request handling.
type UploadConfig struct {
	MaxUploadBytes int64 `toml:"max_upload_bytes"`
}

// SweepConfig controls the background maintenance loop.
type SweepConfig struct {
	IntervalMinutes int `toml:"interval_minutes"`
}

// Config defines runtime configuration for vrac.
type Config struct {
	ListenAddr string        `toml:"listen_addr"`
	DBPath     string        `toml:"db_path"`
	Storage    StorageConfig `toml:"storage"`
	Upload     UploadConfig  `toml:"upload"`
	Sweep      SweepConfig   `toml:"sweep"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		ListenAddr: DefaultListenAddr,
		DBPath:     "",
		Storage: StorageConfig{
			Backend: DefaultStorageBackend,
		},
		Upload: UploadConfig{
			MaxUploadBytes: DefaultMaxUploadBytes,
		},
		Sweep: SweepConfig{
			IntervalMinutes: DefaultSweepInterval,
		},
	}
}

// Load reads config from the global file and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	path, err := GlobalPath()
	if err == nil {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if cfg.DBPath == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = filepath.Join(filepath.Dir(cfg.DBPath), "vrac-data")
	}

	applyEnvOverrides(&cfg)
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VRAC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("VRAC_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("VRAC_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("VRAC_STORAGE_ROOT"); v != "" {
		cfg.Storage.Root = v
	}
	if v := os.Getenv("VRAC_S3_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	// Credentials come from the environment in deployments; the config
	// file works too but keeps secrets on disk.
	if v := os.Getenv("VRAC_S3_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("VRAC_S3_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("VRAC_S3_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("VRAC_S3_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := strings.TrimSpace(os.Getenv("VRAC_S3_USE_SSL")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Storage.UseSSL = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("VRAC_MAX_UPLOAD_BYTES")); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			cfg.Upload.MaxUploadBytes = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("VRAC_SWEEP_INTERVAL_MINUTES")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Sweep.IntervalMinutes = parsed
		}
	}
}

func (c *Config) normalize() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultStorageBackend
	}
	if c.Upload.MaxUploadBytes <= 0 {
		c.Upload.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Sweep.IntervalMinutes <= 0 {
		c.Sweep.IntervalMinutes = DefaultSweepInterval
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "filesystem":
		if strings.TrimSpace(c.Storage.Root) == "" {
			return fmt.Errorf("storage.root is required for the filesystem backend")
		}
	case "object_store":
		if strings.TrimSpace(c.Storage.Endpoint) == "" {
			return fmt.Errorf("storage.endpoint is required for the object_store backend")
		}
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return fmt.Errorf("storage.bucket is required for the object_store backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// GlobalPath returns the path to the config file.
func GlobalPath() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(configDirEnvKey)); dir != "" {
		return filepath.Join(dir, configFileName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

var allowedKeys = []string{
	"listen_addr",
	"db_path",
	"storage.backend",
	"storage.root",
	"storage.endpoint",
	"storage.bucket",
	"storage.region",
	"storage.use_ssl",
	"upload.max_upload_bytes",
	"sweep.interval_minutes",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "listen_addr":
		return c.ListenAddr, nil
	case "db_path":
		return c.DBPath, nil
	case "storage.backend":
		return c.Storage.Backend, nil
	case "storage.root":
		return c.Storage.Root, nil
	case "storage.endpoint":
		return c.Storage.Endpoint, nil
	case "storage.bucket":
		return c.Storage.Bucket, nil
	case "storage.region":
		return c.Storage.Region, nil
	case "storage.use_ssl":
		return strconv.FormatBool(c.Storage.UseSSL), nil
	case "upload.max_upload_bytes":
		return strconv.FormatInt(c.Upload.MaxUploadBytes, 10), nil
	case "sweep.interval_minutes":
		return strconv.Itoa(c.Sweep.IntervalMinutes), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "upload.max_upload_bytes":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "sweep.interval_minutes":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "storage.use_ssl":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return parsed, nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}
