package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/scanline/internal/pipeline"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v      *viper.Viper
	logger *slog.Logger

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
// cfgFile may be empty to search the working directory and $HOME/.scanline.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		logger:    slog.Default(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// SetLogger sets the logger used for reload diagnostics.
func (cm *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		cm.logger = logger
	}
}

// initViper sets up viper with defaults, env bindings and config file.
func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	for _, entry := range DefaultEntries() {
		v.SetDefault(entry.Key, entry.Value)
		if entry.Env != "" {
			if err := v.BindEnv(entry.Key, entry.Env); err != nil {
				return fmt.Errorf("failed to bind %s: %w", entry.Env, err)
			}
		}
	}
	// Remaining keys are reachable as SCANLINE_<KEY>
	v.SetEnvPrefix("SCANLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.scanline")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		envBoolHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := cm.v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envBoolHook accepts the boolean spellings used in environment files
// ("1", "true", "yes", "on", case-insensitive); anything else is false.
func envBoolHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
		return data, nil
	}
	return parseBool(data.(string)), nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the config file in use, or "" when running on defaults.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// Entries returns every known key with its effective value.
func (cm *Manager) Entries() []Entry {
	entries := DefaultEntries()
	for i := range entries {
		entries[i].Value = cm.v.Get(entries[i].Key)
		if entries[i].Key == "azure.api_key" {
			entries[i].Value = maskKey(cm.v.GetString(entries[i].Key))
		}
	}
	return entries
}

// maskKey hides a literal key but keeps ${ENV_VAR} references readable.
func maskKey(key string) string {
	if key == "" || envVarPattern.MatchString(key) {
		return key
	}
	return "********"
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
// Invalid edits are logged and the previous configuration stays active.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			cm.logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		cm.logger.Info("config reloaded", "file", e.Name)
		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.OCR.ConfidenceThreshold < 0 || c.OCR.ConfidenceThreshold > 1 {
		return fmt.Errorf("ocr.confidence_threshold must be in [0, 1], got %v", c.OCR.ConfidenceThreshold)
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("http_timeout_seconds must be positive, got %d", c.HTTPTimeoutSeconds)
	}
	if c.Azure.RequestsPerMinute < 0 {
		return fmt.Errorf("azure.requests_per_minute must not be negative, got %d", c.Azure.RequestsPerMinute)
	}
	return nil
}

// Settings returns an immutable pipeline settings snapshot.
// ${ENV_VAR} references in the endpoint and key are resolved.
func (c *Config) Settings() pipeline.Settings {
	return pipeline.Settings{
		ConfidenceThreshold:    c.OCR.ConfidenceThreshold,
		HTTPTimeout:            time.Duration(c.HTTPTimeoutSeconds) * time.Second,
		AzureEndpoint:          strings.TrimSpace(ResolveEnvVars(c.Azure.Endpoint)),
		AzureAPIKey:            strings.TrimSpace(ResolveEnvVars(c.Azure.APIKey)),
		AzureAPIVersion:        c.Azure.APIVersion,
		AzureModel:             c.Azure.Model,
		AzureAllowHTTP:         c.Azure.AllowHTTP,
		AzureRequestsPerMinute: c.Azure.RequestsPerMinute,
		Offline:                c.OfflineMode,
		DebugSave:              c.OCR.DebugSave,
		DebugDir:               c.OCR.DebugDir,
		FallbackLanguages:      pipeline.ParseLanguages(c.OCR.FallbackLanguages),
	}
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Scanline configuration
# The API key uses ${ENV_VAR} syntax to reference an environment variable.
# Environment variables override file values:
#   AZURE_DI_ENDPOINT AZURE_DI_API_KEY AZURE_DI_API_VERSION AZURE_DI_MODEL
#   HTTP_TIMEOUT_SECONDS OFFLINE_MODE OCR_CONFIDENCE_THRESHOLD
#   OCR_DEBUG_SAVE OCR_DEBUG_DIR OCR_FALLBACK_LANGUAGES

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
