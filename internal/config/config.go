// Package config resolves analyzer settings from CLI flags, environment
// variables and an optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	ErrMissingQoS  = errors.New("--sub-qos is required")
	ErrMissingFile = errors.New("a dump file is required (--file or positional argument)")
)

// Config holds the application configuration
type Config struct {
	SubQoS    int    `mapstructure:"sub-qos"`
	File      string `mapstructure:"file"`
	Transport string `mapstructure:"transport"`
	Broker    string `mapstructure:"broker"`
	Redis     string `mapstructure:"redis"`
	ClientID  string `mapstructure:"client-id"`
	TopicRoot string `mapstructure:"topic-root"`
	Debug     bool   `mapstructure:"debug"`

	ReportInterval time.Duration `mapstructure:"report-interval"`
	Window         int           `mapstructure:"window"`
	Retain         int           `mapstructure:"retain"`

	AlertPolicy string `mapstructure:"alert-policy"`
	AlertsFile  string `mapstructure:"alerts-file"`
	MetricsAddr string `mapstructure:"metrics-addr"`

	LatencyProbability float64       `mapstructure:"latency-probability"`
	MaxLatency         time.Duration `mapstructure:"max-latency"`
}

// RegisterFlags defines every configuration flag on fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(KeyConfigFile, "", HelpConfigFile)
	fs.Int(KeySubQoS, unsetQoS, HelpSubQoS)
	fs.String(KeyFile, "", HelpFile)
	fs.String(KeyTransport, DefaultTransport, HelpTransport)
	fs.String(KeyBroker, DefaultBroker, HelpBroker)
	fs.String(KeyRedis, DefaultRedis, HelpRedis)
	fs.String(KeyClientID, "", HelpClientID)
	fs.String(KeyTopicRoot, DefaultTopicRoot, HelpTopicRoot)
	fs.Bool(KeyDebug, false, HelpDebug)
	fs.Duration(KeyReportInterval, DefaultReportInterval, HelpReportInterval)
	fs.Int(KeyWindow, DefaultWindow, HelpWindow)
	fs.Int(KeyRetain, 0, HelpRetain)
	fs.String(KeyAlertPolicy, "", HelpAlertPolicy)
	fs.String(KeyAlertsFile, DefaultAlertsFile, HelpAlertsFile)
	fs.String(KeyMetricsAddr, "", HelpMetricsAddr)
	fs.Float64(KeyLatencyProbability, 0, HelpLatencyProbability)
	fs.Duration(KeyMaxLatency, 0, HelpMaxLatency)
}

// Load resolves the configuration from fs (already parsed), the
// environment and the optional config file. args are the positional
// arguments; the first one is the dump file when --file is not given.
func Load(v *viper.Viper, fs *pflag.FlagSet, args []string) (*Config, error) {
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.File == "" && len(args) > 0 {
		cfg.File = args[0]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required keys and value ranges
func (c *Config) Validate() error {
	if c.SubQoS == unsetQoS {
		return ErrMissingQoS
	}
	if c.SubQoS < 0 || c.SubQoS > 2 {
		return fmt.Errorf("--%s must be 0, 1 or 2, got %d", KeySubQoS, c.SubQoS)
	}
	if c.File == "" {
		return ErrMissingFile
	}
	switch c.Transport {
	case TransportMQTT:
		if c.Broker == "" {
			return fmt.Errorf("--%s is required for the mqtt transport", KeyBroker)
		}
	case TransportRedis:
		if c.Redis == "" {
			return fmt.Errorf("--%s is required for the redis transport", KeyRedis)
		}
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportMQTT, TransportRedis)
	}
	if c.TopicRoot == "" {
		return fmt.Errorf("--%s must not be empty", KeyTopicRoot)
	}
	if c.ReportInterval <= 0 {
		return fmt.Errorf("--%s must be positive", KeyReportInterval)
	}
	if c.Window <= 0 {
		return fmt.Errorf("--%s must be positive", KeyWindow)
	}
	if c.Retain < 0 {
		return fmt.Errorf("--%s must not be negative", KeyRetain)
	}
	if c.Retain > 0 && c.Retain < c.Window {
		return fmt.Errorf("--%s (%d) must be 0 or at least --%s (%d)", KeyRetain, c.Retain, KeyWindow, c.Window)
	}
	if c.LatencyProbability < 0 || c.LatencyProbability > 1 {
		return fmt.Errorf("--%s must be between 0 and 1", KeyLatencyProbability)
	}
	if c.MaxLatency < 0 {
		return fmt.Errorf("--%s must not be negative", KeyMaxLatency)
	}
	return nil
}
