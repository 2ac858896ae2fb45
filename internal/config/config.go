// Package config provides configuration parsing and validation for the
// stegochannel engine.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/postalsys/stegochannel/internal/beacon"
	"github.com/postalsys/stegochannel/internal/keytext"
	"github.com/postalsys/stegochannel/internal/textfeature"
	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration.
type Config struct {
	Agent   AgentConfig     `yaml:"agent"`
	Metrics MetricsConfig   `yaml:"metrics"`
	Beacon  BeaconConfig    `yaml:"beacon"`
	Channels []ChannelConfig `yaml:"channels"`
}

// AgentConfig contains engine process settings.
type AgentConfig struct {
	DataDir   string `yaml:"data_dir"`   // directory for persistent channel state
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// BeaconConfig configures the beacon oracle's HTTP fetcher.
type BeaconConfig struct {
	BTCPrimaryURL  string `yaml:"btc_primary_url"`
	BTCFallbackURL string `yaml:"btc_fallback_url"`
	NISTURL        string `yaml:"nist_url"`
}

// ChannelConfig is the YAML representation of a single channel, a
// direct mapping of spec's ChannelConfig tuple: (channelId, channelKey,
// beaconType, selectionRate, featureSet, lengthThreshold, mySources,
// theirSources).
type ChannelConfig struct {
	ID string `yaml:"id"`

	// ChannelKeyText is the textual stegochannel:v0:... form (see
	// internal/keytext). When set, it supplies Beacon, Rate, and Features
	// too, and those fields below are ignored.
	ChannelKeyText string `yaml:"channel_key"`

	// Explicit fields, used when ChannelKeyText is empty.
	ChannelKeyHex string   `yaml:"channel_key_hex"`
	BeaconKind    string   `yaml:"beacon"`
	Rate          float64  `yaml:"rate"`
	Features      []string `yaml:"features"`

	LengthThreshold int  `yaml:"length_threshold"`
	Encrypt         bool `yaml:"encrypt"`

	MySource     string   `yaml:"my_source"`
	TheirSources []string `yaml:"their_sources"`
}

// ResolvedKey returns the channel's raw 32-byte key, preferring the
// textual form over the hex form when both happen to be set.
func (c *ChannelConfig) ResolvedKey() ([32]byte, error) {
	var key [32]byte
	if c.ChannelKeyText != "" {
		parsed, err := keytext.Parse(c.ChannelKeyText)
		if err != nil {
			return key, fmt.Errorf("channel %q: %w", c.ID, err)
		}
		return parsed.Key, nil
	}
	if c.ChannelKeyHex == "" {
		return key, fmt.Errorf("channel %q: one of channel_key or channel_key_hex is required", c.ID)
	}
	decoded, err := decodeHexKey(c.ChannelKeyHex)
	if err != nil {
		return key, fmt.Errorf("channel %q: channel_key_hex: %w", c.ID, err)
	}
	return decoded, nil
}

// ResolvedBeaconKind returns the channel's effective beacon kind,
// preferring the textual key form's beacon field when present.
func (c *ChannelConfig) ResolvedBeaconKind() (beacon.Kind, error) {
	raw := c.BeaconKind
	if c.ChannelKeyText != "" {
		parsed, err := keytext.Parse(c.ChannelKeyText)
		if err != nil {
			return "", fmt.Errorf("channel %q: %w", c.ID, err)
		}
		raw = string(parsed.Beacon)
	}
	switch beacon.Kind(raw) {
	case beacon.KindBTC, beacon.KindNIST, beacon.KindDate:
		return beacon.Kind(raw), nil
	default:
		return "", fmt.Errorf("channel %q: invalid beacon kind %q", c.ID, raw)
	}
}

// ResolvedRate returns the channel's effective selection rate, preferring
// the textual key form's rate field when present.
func (c *ChannelConfig) ResolvedRate() (float64, error) {
	if c.ChannelKeyText != "" {
		parsed, err := keytext.Parse(c.ChannelKeyText)
		if err != nil {
			return 0, fmt.Errorf("channel %q: %w", c.ID, err)
		}
		return parsed.Rate, nil
	}
	return c.Rate, nil
}

// ResolvedFeatures returns the channel's effective feature list, mapped
// from the external textual vocabulary ({len, media, punct, time, emoji})
// to the internal extractor identifiers of internal/textfeature.
func (c *ChannelConfig) ResolvedFeatures() ([]textfeature.FeatureID, error) {
	tokens := c.Features
	if c.ChannelKeyText != "" {
		parsed, err := keytext.Parse(c.ChannelKeyText)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", c.ID, err)
		}
		tokens = parsed.Features
	}
	ids := make([]textfeature.FeatureID, 0, len(tokens))
	for _, token := range tokens {
		id, err := ResolveFeatureToken(token)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", c.ID, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ResolveFeatureToken maps one external feature token onto its internal
// textfeature.FeatureID. "punct" is realized by the question-mark feature
// (the only punctuation-derived bit the extractor implements). "time" and
// "emoji" are accepted (a textual channel key naming them must still
// parse) but, like the internal "wcount" identifier, are not yet
// implemented; they collapse onto the same reserved FeatureWCount id so
// that selecting any of them surfaces ErrFeatureNotImplemented uniformly
// at extraction time rather than at config load time.
func ResolveFeatureToken(token string) (textfeature.FeatureID, error) {
	switch token {
	case "len":
		return textfeature.FeatureLen, nil
	case "media":
		return textfeature.FeatureMedia, nil
	case "punct":
		return textfeature.FeatureQMark, nil
	case "fword":
		return textfeature.FeatureFWord, nil
	case "time", "emoji", "wcount":
		return textfeature.FeatureWCount, nil
	default:
		return 0, fmt.Errorf("unknown feature token %q", token)
	}
}

func decodeHexKey(s string) ([32]byte, error) {
	var key [32]byte
	if len(s) != 64 {
		return key, fmt.Errorf("must be 64 hex characters, got %d", len(s))
	}
	for i := 0; i < 32; i++ {
		b, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return key, fmt.Errorf("invalid hex byte at offset %d: %w", i*2, err)
		}
		key[i] = byte(b)
	}
	return key, nil
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			DataDir:   "./data",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
		Beacon: BeaconConfig{
			BTCPrimaryURL:  "https://blockchain.info/q/latesthash",
			BTCFallbackURL: "https://blockstream.info/api/blocks/tip/hash",
			NISTURL:        "https://beacon.nist.gov/beacon/2.0/pulse/last",
		},
		Channels: []ChannelConfig{},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Agent.DataDir == "" {
		errs = append(errs, "agent.data_dir is required")
	}
	if !isValidLogLevel(c.Agent.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.Agent.LogLevel))
	}
	if !isValidLogFormat(c.Agent.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.Agent.LogFormat))
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, "metrics.address is required when enabled")
	}

	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if err := c.validateChannel(ch, i); err != nil {
			errs = append(errs, fmt.Sprintf("channels[%d]: %v", i, err))
			continue
		}
		if seen[ch.ID] {
			errs = append(errs, fmt.Sprintf("channels[%d]: duplicate channel id %q", i, ch.ID))
		}
		seen[ch.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateChannel(ch ChannelConfig, index int) error {
	if ch.ID == "" {
		return fmt.Errorf("id is required")
	}
	if _, err := ch.ResolvedKey(); err != nil {
		return err
	}
	kind, err := ch.ResolvedBeaconKind()
	if err != nil {
		return err
	}
	if _, err := beacon.GetEpochInfo(kind); err != nil {
		return err
	}
	rate, err := ch.ResolvedRate()
	if err != nil {
		return err
	}
	if rate <= 0 || rate > 1 {
		return fmt.Errorf("rate must be in (0, 1], got %v", rate)
	}
	if _, err := ch.ResolvedFeatures(); err != nil {
		return err
	}
	if ch.LengthThreshold <= 0 {
		return fmt.Errorf("length_threshold must be positive")
	}
	if ch.MySource == "" {
		return fmt.Errorf("my_source is required")
	}
	if len(ch.TheirSources) == 0 {
		return fmt.Errorf("their_sources must list at least one source")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// String returns a string representation of the config, with channel
// keys redacted. Use StringUnsafe() for full output.
func (c *Config) String() string {
	redacted := c.Redacted()
	data, _ := yaml.Marshal(redacted)
	return string(data)
}

// StringUnsafe returns a string representation including channel keys.
// Use with caution; do not log the output.
func (c *Config) StringUnsafe() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Redacted returns a deep copy of the config with channel key material
// redacted, safe to log or display.
func (c *Config) Redacted() *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		return c
	}
	redacted := &Config{}
	if err := yaml.Unmarshal(data, redacted); err != nil {
		return c
	}
	for i := range redacted.Channels {
		if redacted.Channels[i].ChannelKeyText != "" {
			redacted.Channels[i].ChannelKeyText = redactedValue
		}
		if redacted.Channels[i].ChannelKeyHex != "" {
			redacted.Channels[i].ChannelKeyHex = redactedValue
		}
	}
	return redacted
}

// HasSensitiveData returns true if the config contains any channel key
// material.
func (c *Config) HasSensitiveData() bool {
	for _, ch := range c.Channels {
		if ch.ChannelKeyText != "" || ch.ChannelKeyHex != "" {
			return true
		}
	}
	return false
}
