package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "MCPGATEWAY"

func bindDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("listen", d.Listen)
	v.SetDefault("data-dir", d.DataDir)
	v.SetDefault("capabilities-dir", d.CapabilitiesDir)
	v.SetDefault("read-only-mode", d.ReadOnlyMode)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.enable-console", d.Logging.EnableConsole)
	v.SetDefault("logging.enable-file", d.Logging.EnableFile)
	v.SetDefault("health-check.interval", d.HealthCheck.Interval.Duration().String())
	v.SetDefault("health-check.timeout", d.HealthCheck.Timeout.Duration().String())
	v.SetDefault("health-check.kind", d.HealthCheck.Kind)
	v.SetDefault("notify.tools-list-changed", d.Notify.ToolsListChanged)
	v.SetDefault("notify.resources-list-changed", d.Notify.ResourcesListChanged)
	v.SetDefault("notify.prompts-list-changed", d.Notify.PromptsListChanged)
	v.SetDefault("notify.resource-subscriptions", d.Notify.ResourceSubscriptions)
	v.SetDefault("session-timeout", d.SessionTimeout.Duration().String())
	v.SetDefault("cancellation-ttl", d.CancellationTTL.Duration().String())
	v.SetDefault("progress-ttl", d.ProgressTTL.Duration().String())
	v.SetDefault("max-batch-size", d.MaxBatchSize)
	v.SetDefault("sse-deprecated", d.SSEDeprecated)
}

// Load reads configuration from an optional file path, environment
// variables prefixed MCPGATEWAY_, and viper defaults. Viper's precedence
// applies: an environment variable overrides the file, and the file
// overrides the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	d := Default()
	bindDefaults(v, d)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	cfg := Default()
	durationHook := func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		s, ok := data.(string)
		if !ok || to != reflect.TypeOf(Duration(0)) {
			return data, nil
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return Duration(parsed), nil
	}
	if err := v.Unmarshal(cfg, viper.DecodeHook(durationHook)); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromFile is a thin convenience wrapper for commands that only ever
// load an explicit path (e.g. validate-config).
func LoadFromFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return Load(path)
}
