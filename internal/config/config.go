// Package config defines the gateway's configuration shape and loads it
// from file and environment via spf13/viper, mirroring the
// teacher's internal/config/loader.go.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpgateway/gateway/internal/gwlog"
	"github.com/mcpgateway/gateway/internal/metrics"
	"github.com/mcpgateway/gateway/internal/notify"
	"github.com/mcpgateway/gateway/internal/toolvalidator"
	"github.com/mcpgateway/gateway/internal/upstream"
	"github.com/mcpgateway/gateway/internal/upstream/remote"
)

// Duration marshals to/from JSON as a Go duration string ("30s", "5m")
// instead of a bare integer of nanoseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// LogConfig controls internal/gwlog output.
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
	Filename      string `json:"filename,omitempty" mapstructure:"filename"`
	MaxSizeMB     int    `json:"max_size_mb,omitempty" mapstructure:"max-size-mb"`
	MaxBackups    int    `json:"max_backups,omitempty" mapstructure:"max-backups"`
	MaxAgeDays    int    `json:"max_age_days,omitempty" mapstructure:"max-age-days"`
	Compress      bool   `json:"compress,omitempty" mapstructure:"compress"`
}

// ToGWLog converts to the runtime-facing gwlog.Config.
func (l LogConfig) ToGWLog() gwlog.Config {
	return gwlog.Config{
		Level:         l.Level,
		EnableConsole: l.EnableConsole,
		EnableFile:    l.EnableFile,
		JSONFormat:    l.JSONFormat,
		Filename:      l.Filename,
		MaxSizeMB:     l.MaxSizeMB,
		MaxBackups:    l.MaxBackups,
		MaxAgeDays:    l.MaxAgeDays,
		Compress:      l.Compress,
	}
}

// DefaultLogConfig mirrors the teacher's console-by-default choice.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:         gwlog.LevelInfo,
		EnableConsole: true,
		EnableFile:    false,
		Filename:      "mcpgatewayd.log",
		MaxSizeMB:     10,
		MaxBackups:    5,
		MaxAgeDays:    30,
		Compress:      true,
	}
}

// AuthConfig is the file/env representation of a remote backend's auth,
// converted into remote.Auth at construction time.
type AuthConfig struct {
	Kind         string `json:"kind,omitempty" mapstructure:"kind"` // none|bearer|basic|api_key|custom
	Token        string `json:"token,omitempty" mapstructure:"token"`
	Username     string `json:"username,omitempty" mapstructure:"username"`
	Password     string `json:"password,omitempty" mapstructure:"password"`
	APIKeyHeader string `json:"api_key_header,omitempty" mapstructure:"api-key-header"`
	APIKeyValue  string `json:"api_key_value,omitempty" mapstructure:"api-key-value"`
	CustomHeader string `json:"custom_header,omitempty" mapstructure:"custom-header"`
	CustomValue  string `json:"custom_value,omitempty" mapstructure:"custom-value"`
}

// ToRemoteAuth converts the config shape into upstream/remote's runtime Auth,
// nil if unset or unrecognized.
func (a *AuthConfig) ToRemoteAuth() *remote.Auth {
	if a == nil {
		return nil
	}
	switch a.Kind {
	case "bearer":
		return &remote.Auth{Kind: remote.AuthBearer, Token: a.Token}
	case "basic":
		return &remote.Auth{Kind: remote.AuthBasic, Username: a.Username, Password: a.Password}
	case "api_key":
		return &remote.Auth{Kind: remote.AuthAPIKey, HeaderName: a.APIKeyHeader, Token: a.APIKeyValue}
	case "custom":
		return &remote.Auth{Kind: remote.AuthCustom, HeaderName: a.CustomHeader, HeaderValue: a.CustomValue}
	default:
		return &remote.Auth{Kind: remote.AuthNone}
	}
}

// ServerConfig is one external MCP backend, convertible into
// upstream.ServerConfig.
type ServerConfig struct {
	Name     string            `json:"name" mapstructure:"name"`
	Protocol string            `json:"protocol" mapstructure:"protocol"` // stdio|http|sse
	Command  string            `json:"command,omitempty" mapstructure:"command"`
	Args     []string          `json:"args,omitempty" mapstructure:"args"`
	Env      map[string]string `json:"env,omitempty" mapstructure:"env"`
	WorkDir  string            `json:"work_dir,omitempty" mapstructure:"work-dir"`

	URL     string            `json:"url,omitempty" mapstructure:"url"`
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	Auth    *AuthConfig       `json:"auth,omitempty" mapstructure:"auth"`

	RequestTimeout     Duration `json:"request_timeout,omitempty" mapstructure:"request-timeout"`
	MaxRestartAttempts int      `json:"max_restart_attempts,omitempty" mapstructure:"max-restart-attempts"`
	RestartCooldown    Duration `json:"restart_cooldown,omitempty" mapstructure:"restart-cooldown"`
	CapabilityTTL      Duration `json:"capability_ttl,omitempty" mapstructure:"capability-ttl"`
}

// ToUpstreamConfig converts into the shape upstream.Manager.AddServer wants.
func (s ServerConfig) ToUpstreamConfig() upstream.ServerConfig {
	kind := upstream.KindStdio
	switch s.Protocol {
	case "http":
		kind = upstream.KindHTTP
	case "sse":
		kind = upstream.KindSSE
	}
	return upstream.ServerConfig{
		Name:               s.Name,
		Kind:               kind,
		Command:            s.Command,
		Args:               s.Args,
		Env:                s.Env,
		WorkingDir:         s.WorkDir,
		URL:                s.URL,
		Headers:            s.Headers,
		Auth:               s.Auth.ToRemoteAuth(),
		RequestTimeout:     s.RequestTimeout.Duration(),
		MaxRestartAttempts: s.MaxRestartAttempts,
		RestartCooldown:    s.RestartCooldown.Duration(),
		CapabilityTTL:      s.CapabilityTTL.Duration(),
	}
}

// ToolValidatorConfig maps to toolvalidator.Limits.
type ToolValidatorConfig struct {
	MaxDescriptionSize     int `json:"max_description_size,omitempty" mapstructure:"max-description-size"`
	MaxParameters          int `json:"max_parameters,omitempty" mapstructure:"max-parameters"`
	MaxParameterNameLength int `json:"max_parameter_name_length,omitempty" mapstructure:"max-parameter-name-length"`
	MaxSchemaBytes         int `json:"max_schema_bytes,omitempty" mapstructure:"max-schema-bytes"`
}

func (t ToolValidatorConfig) ToLimits() toolvalidator.Limits {
	d := toolvalidator.DefaultLimits()
	if t.MaxDescriptionSize > 0 {
		d.MaxDescriptionSize = t.MaxDescriptionSize
	}
	if t.MaxParameters > 0 {
		d.MaxParameters = t.MaxParameters
	}
	if t.MaxParameterNameLength > 0 {
		d.MaxParameterNameLength = t.MaxParameterNameLength
	}
	if t.MaxSchemaBytes > 0 {
		d.MaxSchemaBytes = t.MaxSchemaBytes
	}
	return d
}

// NotifyConfig maps to notify.Capabilities.
type NotifyConfig struct {
	ResourcesListChanged  bool `json:"resources_list_changed" mapstructure:"resources-list-changed"`
	PromptsListChanged    bool `json:"prompts_list_changed" mapstructure:"prompts-list-changed"`
	ToolsListChanged      bool `json:"tools_list_changed" mapstructure:"tools-list-changed"`
	ResourceSubscriptions bool `json:"resource_subscriptions" mapstructure:"resource-subscriptions"`
}

func (n NotifyConfig) ToCapabilities() notify.Capabilities {
	return notify.Capabilities{
		ResourcesListChanged:  n.ResourcesListChanged,
		PromptsListChanged:    n.PromptsListChanged,
		ToolsListChanged:      n.ToolsListChanged,
		ResourceSubscriptions: n.ResourceSubscriptions,
	}
}

// HealthCheckConfig maps to metrics.CheckerConfig.
type HealthCheckConfig struct {
	Interval Duration `json:"interval,omitempty" mapstructure:"interval"`
	Timeout  Duration `json:"timeout,omitempty" mapstructure:"timeout"`
	Kind     string   `json:"kind,omitempty" mapstructure:"kind"` // ping|tools_list|synthetic
}

func (h HealthCheckConfig) ToCheckerConfig() metrics.CheckerConfig {
	cfg := metrics.DefaultCheckerConfig()
	if h.Interval > 0 {
		cfg.Interval = h.Interval.Duration()
	}
	if h.Timeout > 0 {
		cfg.Timeout = h.Timeout.Duration()
	}
	switch h.Kind {
	case "tools_list":
		cfg.Kind = metrics.CheckToolsList
	case "synthetic":
		cfg.Kind = metrics.CheckSynthetic
	case "ping", "":
		cfg.Kind = metrics.CheckPing
	}
	return cfg
}

// Config is the gateway's top-level configuration.
type Config struct {
	Listen          string `json:"listen" mapstructure:"listen"`
	DataDir         string `json:"data_dir" mapstructure:"data-dir"`
	CapabilitiesDir string `json:"capabilities_dir" mapstructure:"capabilities-dir"`

	APIKey       string `json:"api_key,omitempty" mapstructure:"api-key"`
	ReadOnlyMode bool   `json:"read_only_mode" mapstructure:"read-only-mode"`

	Servers []ServerConfig `json:"servers,omitempty" mapstructure:"servers"`

	Logging       LogConfig           `json:"logging" mapstructure:"logging"`
	HealthCheck   HealthCheckConfig   `json:"health_check" mapstructure:"health-check"`
	ToolValidator ToolValidatorConfig `json:"tool_validator" mapstructure:"tool-validator"`
	Notify        NotifyConfig        `json:"notify" mapstructure:"notify"`

	SessionTimeout   Duration `json:"session_timeout" mapstructure:"session-timeout"`
	CancellationTTL  Duration `json:"cancellation_ttl" mapstructure:"cancellation-ttl"`
	ProgressTTL      Duration `json:"progress_ttl" mapstructure:"progress-ttl"`
	MaxBatchSize     int      `json:"max_batch_size" mapstructure:"max-batch-size"`
	SSEDeprecated    bool     `json:"sse_deprecated" mapstructure:"sse-deprecated"`
	DisableSSETransport bool  `json:"disable_sse_transport" mapstructure:"disable-sse-transport"`
}

// Default returns the gateway's baseline configuration.
func Default() *Config {
	return &Config{
		Listen:          "127.0.0.1:8080",
		DataDir:         ".mcpgateway",
		CapabilitiesDir: "capabilities",
		ReadOnlyMode:    false,
		Logging:         DefaultLogConfig(),
		HealthCheck:     HealthCheckConfig{Interval: Duration(30 * time.Second), Timeout: Duration(5 * time.Second), Kind: "ping"},
		Notify: NotifyConfig{
			ResourcesListChanged:  true,
			PromptsListChanged:    true,
			ToolsListChanged:      true,
			ResourceSubscriptions: true,
		},
		SessionTimeout:  Duration(30 * time.Minute),
		CancellationTTL: Duration(10 * time.Minute),
		ProgressTTL:     Duration(10 * time.Minute),
		MaxBatchSize:    100,
		SSEDeprecated:   true,
	}
}

// Validate checks the fields Load cannot enforce via viper defaults alone.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive")
	}
	seen := make(map[string]struct{}, len(c.Servers))
	for _, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("server entry missing a name")
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate server name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		switch s.Protocol {
		case "stdio":
			if s.Command == "" {
				return fmt.Errorf("server %q: stdio protocol requires a command", s.Name)
			}
		case "http", "sse":
			if s.URL == "" {
				return fmt.Errorf("server %q: %s protocol requires a url", s.Name, s.Protocol)
			}
		default:
			return fmt.Errorf("server %q: unknown protocol %q", s.Name, s.Protocol)
		}
	}
	return nil
}
