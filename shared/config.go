package shared

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix         = "VOICECALL"
	DefaultConfigName = "voicecall"
	DefaultAgentName  = "agent-1"
)

type Config struct {
	// ProxyURL is the token endpoint, query string excluded.
	ProxyURL string `mapstructure:"proxy_url" yaml:"proxy_url"`
	// AgentName is sent as the agent_name query parameter.
	AgentName string `mapstructure:"agent_name" yaml:"agent_name"`
	// AgentMarker is matched against participant identities to spot the agent.
	AgentMarker string `mapstructure:"agent_marker" yaml:"agent_marker"`
	// FallbackServerURL is used when the token response omits livekit_url.
	FallbackServerURL string        `mapstructure:"fallback_server_url" yaml:"fallback_server_url,omitempty"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	Log   LogConfig   `mapstructure:"log" yaml:"log"`
	Proxy ProxyConfig `mapstructure:"proxy" yaml:"proxy"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	Level      string `mapstructure:"level" yaml:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

type ProxyConfig struct {
	Listen      string `mapstructure:"listen" yaml:"listen"`
	UpstreamURL string `mapstructure:"upstream_url" yaml:"upstream_url"`
	APIKey      string `mapstructure:"api_key" yaml:"-"`
}

// flagKeys maps cobra flag names onto config keys.
var flagKeys = map[string]string{
	"proxy-url":      "proxy_url",
	"agent-name":     "agent_name",
	"agent-marker":   "agent_marker",
	"server-url":     "fallback_server_url",
	"timeout":        "request_timeout",
	"log-file":       "log.file",
	"log-level":      "log.level",
	"listen":         "proxy.listen",
	"upstream-url":   "proxy.upstream_url",
	"upstream-token": "proxy.api_key",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("proxy_url", "http://localhost:5001/proxy/tokens/generate")
	v.SetDefault("agent_name", DefaultAgentName)
	v.SetDefault("agent_marker", "agent")
	v.SetDefault("fallback_server_url", "")
	v.SetDefault("request_timeout", "10s")

	v.SetDefault("log.file", "voicecall.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 2)
	v.SetDefault("log.max_age_days", 3)
	v.SetDefault("log.compress", false)

	v.SetDefault("proxy.listen", ":5001")
	v.SetDefault("proxy.upstream_url", "https://live.xpectrum-ai.com/tokens/generate")
	v.SetDefault("proxy.api_key", "")
}

// LoadConfig layers defaults, an optional YAML file, VOICECALL_* environment
// variables and the given flags, in increasing precedence. An explicit path
// must exist; otherwise ./voicecall.yaml and ~/.voicecall/voicecall.yaml are
// tried and silently skipped when absent.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.voicecall")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ProxyURL == "" {
		return &ConfigError{Field: "proxy_url", Message: "must not be empty"}
	}
	u, err := url.Parse(c.ProxyURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ConfigError{Field: "proxy_url", Value: c.ProxyURL, Message: "must be an absolute http(s) URL"}
	}
	if c.FallbackServerURL != "" {
		u, err := url.Parse(c.FallbackServerURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return &ConfigError{Field: "fallback_server_url", Value: c.FallbackServerURL, Message: "must be a ws(s) URL"}
		}
	}
	if c.AgentName == "" {
		c.AgentName = DefaultAgentName
	}
	if c.RequestTimeout <= 0 {
		return &ConfigError{Field: "request_timeout", Value: c.RequestTimeout.String(), Message: "must be positive"}
	}
	return nil
}
