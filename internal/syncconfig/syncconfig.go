package syncconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// APIConfig holds remote API settings.
type APIConfig struct {
	URL            string `json:"url"`
	ProbeURL       string `json:"probe_url,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"` // duration string, default "10s"
}

// SyncConfig holds sync engine settings.
type SyncConfig struct {
	Auto     *bool  `json:"auto,omitempty"`     // nil = default true
	Interval string `json:"interval,omitempty"` // duration string, default "5s"
	Grace    string `json:"grace,omitempty"`    // duration string, default "5s"
}

// Config is the global config stored at ~/.config/vistoria/config.json.
type Config struct {
	API  APIConfig  `json:"api"`
	Sync SyncConfig `json:"sync"`
	DB   string     `json:"db,omitempty"`
}

// AuthCredentials stores authentication state at ~/.config/vistoria/auth.json.
type AuthCredentials struct {
	Token     string `json:"token"`
	UserID    int64  `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	ServerURL string `json:"server_url,omitempty"`
}

const (
	defaultAPIURL         = "http://localhost:8000/api"
	defaultProbeURL       = "https://clients3.google.com/generate_204"
	defaultRequestTimeout = 10 * time.Second
	defaultStatusInterval = 5 * time.Second
	defaultGrace          = 5 * time.Second
)

// LoadDotEnv loads .env from the working directory into the process
// environment. Variables already set win. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ConfigDir returns ~/.config/vistoria, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "vistoria")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// AuthPath returns the path of auth.json
func AuthPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "auth.json"), nil
}

// LoadConfig reads the global config.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the global config.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads auth credentials. Returns nil, nil when not logged in.
func LoadAuth() (*AuthCredentials, error) {
	path, err := AuthPath()
	if err != nil {
		return nil, err
	}
	return loadAuthFile(path)
}

func loadAuthFile(path string) (*AuthCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes auth credentials (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	path, err := AuthPath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ClearAuth removes auth.json.
func ClearAuth() error {
	path, err := AuthPath()
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetAPIURL returns the checklist API base URL.
// Priority: VISTORIA_API_URL env > config.json > default.
func GetAPIURL() string {
	if v := os.Getenv("VISTORIA_API_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.API.URL != "" {
		return cfg.API.URL
	}
	return defaultAPIURL
}

// GetProbeURL returns the reachability probe URL.
// Priority: VISTORIA_PROBE_URL env > config.json > default.
func GetProbeURL() string {
	if v := os.Getenv("VISTORIA_PROBE_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.API.ProbeURL != "" {
		return cfg.API.ProbeURL
	}
	return defaultProbeURL
}

// GetRequestTimeout returns the per-request timeout for remote calls.
// Priority: VISTORIA_REQUEST_TIMEOUT env > config.json > 10s
func GetRequestTimeout() time.Duration {
	if d, ok := parseDurationEnv("VISTORIA_REQUEST_TIMEOUT"); ok {
		return d
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.API.RequestTimeout != "" {
		if d, err := time.ParseDuration(cfg.API.RequestTimeout); err == nil && d > 0 {
			return d
		}
	}
	return defaultRequestTimeout
}

// GetToken returns the bearer token.
// Priority: VISTORIA_TOKEN env > auth.json.
func GetToken() string {
	if v := os.Getenv("VISTORIA_TOKEN"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.Token
	}
	return ""
}

// IsAuthenticated returns true if a token is available.
func IsAuthenticated() bool {
	return GetToken() != ""
}

// GetUserID returns the id of the logged-in user, 0 if unknown.
// Priority: VISTORIA_USER_ID env > auth.json.
func GetUserID() int64 {
	if v := os.Getenv("VISTORIA_USER_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.UserID
	}
	return 0
}

// GetDBPath returns the local database path.
// Priority: VISTORIA_DB env > config.json > ~/.local/share/vistoria/vistoria.db
func GetDBPath() string {
	if v := os.Getenv("VISTORIA_DB"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.DB != "" {
		return cfg.DB
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "vistoria.db"
	}
	return filepath.Join(home, ".local", "share", "vistoria", "vistoria.db")
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := os.Getenv(envKey)
	if v == "" {
		return nil
	}
	v = strings.ToLower(v)
	if v == "1" || v == "true" {
		b := true
		return &b
	}
	if v == "0" || v == "false" {
		b := false
		return &b
	}
	return nil
}

func parseDurationEnv(envKey string) (time.Duration, bool) {
	v := os.Getenv(envKey)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// GetAutoSyncEnabled returns whether watch syncs on reconnect.
// Priority: VISTORIA_AUTO_SYNC env > config.json sync.auto > true
func GetAutoSyncEnabled() bool {
	if v := parseBoolEnv("VISTORIA_AUTO_SYNC"); v != nil {
		return *v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Auto != nil {
		return *cfg.Sync.Auto
	}
	return true
}

// GetSyncInterval returns the status refresh and periodic sync interval.
// Priority: VISTORIA_SYNC_INTERVAL env > config.json sync.interval > 5s
func GetSyncInterval() time.Duration {
	if d, ok := parseDurationEnv("VISTORIA_SYNC_INTERVAL"); ok {
		return d
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Interval != "" {
		if d, err := time.ParseDuration(cfg.Sync.Interval); err == nil && d > 0 {
			return d
		}
	}
	return defaultStatusInterval
}

// GetGraceDelay returns how long completed queue items linger before deletion.
// Priority: config.json sync.grace > 5s
func GetGraceDelay() time.Duration {
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Grace != "" {
		if d, err := time.ParseDuration(cfg.Sync.Grace); err == nil && d >= 0 {
			return d
		}
	}
	return defaultGrace
}
