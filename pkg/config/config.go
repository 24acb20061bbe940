// Package config holds the instance configuration (A1): interface
// capture settings, cache sizing, detection tuning, and ambient concerns
// (logging, metrics). It is grounded on cmd/goProbe's config package (the
// Config struct and its per-interface validation) combined with
// pkg/conf's viper-backed flag registration for the ambient settings.
package config

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/els0r/telemetry/tracing"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	ConfigFile = "config"

	loggingKey = "logging"

	LogDestination = loggingKey + ".destination"
	LogEncoding    = loggingKey + ".encoding"
	LogLevel       = loggingKey + ".level"

	DefaultLogEncoding = "logfmt"
	DefaultLogLevel    = "info"
)

// InterfaceConfig is one capture interface's tunables.
type InterfaceConfig struct {
	Promiscuous bool     `json:"promiscuous" mapstructure:"promiscuous"`
	Role        string   `json:"role" mapstructure:"role"` // "lan" or "wan"
	RingSizeMB  int      `json:"ring_size_mb" mapstructure:"ring_size_mb"`

	// PrivacyNets lists CIDRs whose matching endpoint is redacted in
	// emitted output: a flow with a lower or upper IP contained in one of
	// these prefixes has PrivacyLower/PrivacyUpper set, while its primary
	// digest is still computed on the original, unredacted tuple.
	PrivacyNets []string `json:"privacy_nets" mapstructure:"privacy_nets"`
}

// Validate checks an interface configuration for internal consistency.
func (c InterfaceConfig) Validate(name string) error {
	switch c.Role {
	case "", "lan", "wan":
	default:
		return fmt.Errorf("interface %q: unknown role %q", name, c.Role)
	}
	if c.RingSizeMB < 0 {
		return fmt.Errorf("interface %q: ring_size_mb must not be negative", name)
	}
	for _, cidr := range c.PrivacyNets {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return fmt.Errorf("interface %q: invalid privacy_nets entry %q: %w", name, cidr, err)
		}
	}
	return nil
}

// Equals reports whether two interface configurations are identical,
// used by the capture manager to decide whether a running capture needs
// to be restarted on reload.
func (c InterfaceConfig) Equals(other InterfaceConfig) bool {
	if c.Promiscuous != other.Promiscuous || c.Role != other.Role || c.RingSizeMB != other.RingSizeMB {
		return false
	}
	if len(c.PrivacyNets) != len(other.PrivacyNets) {
		return false
	}
	for i, n := range c.PrivacyNets {
		if other.PrivacyNets[i] != n {
			return false
		}
	}
	return true
}

// Ifaces is the per-interface configuration set handed to the capture
// manager on startup and on every reload.
type Ifaces map[string]InterfaceConfig

// Validate checks every interface configuration in the set.
func (ifaces Ifaces) Validate() error {
	for name, cfg := range ifaces {
		if err := cfg.Validate(name); err != nil {
			return err
		}
	}
	return nil
}

// Config is the full instance configuration.
type Config struct {
	Interfaces map[string]InterfaceConfig `json:"interfaces" mapstructure:"interfaces"`

	BucketCount      int           `json:"bucket_count" mapstructure:"bucket_count"`
	FHCCapacity      int           `json:"fhc_capacity" mapstructure:"fhc_capacity"`
	FHCPurgeDivisor  int           `json:"fhc_purge_divisor" mapstructure:"fhc_purge_divisor"`
	DHCTTL           time.Duration `json:"dhc_ttl" mapstructure:"dhc_ttl"`
	DetectionWorkers int           `json:"detection_workers" mapstructure:"detection_workers"`
	MaxDetectionPkts uint32        `json:"max_detection_pkts" mapstructure:"max_detection_pkts"`
	MaxFlows         int           `json:"max_flows" mapstructure:"max_flows"`

	UpdateInterval time.Duration `json:"update_interval" mapstructure:"update_interval"`
	TTLIdleFlow    time.Duration `json:"ttl_idle_flow" mapstructure:"ttl_idle_flow"`
	TTLIdleTCPFlow time.Duration `json:"ttl_idle_tcp_flow" mapstructure:"ttl_idle_tcp_flow"`

	RunWithoutSources bool `json:"run_without_sources" mapstructure:"run_without_sources"`
	AutoFlowExpiry    bool `json:"auto_flow_expiry" mapstructure:"auto_flow_expiry"`
	TerminateForce    bool `json:"terminate_force" mapstructure:"terminate_force"`

	SignatureDBPath string `json:"signature_db_path" mapstructure:"signature_db_path"`
	CategoryDBDir   string `json:"category_db_dir" mapstructure:"category_db_dir"`
	SignatureAPIURL string `json:"signature_api_url" mapstructure:"signature_api_url"`

	FHCPersistPath string `json:"fhc_persist_path" mapstructure:"fhc_persist_path"`
	DHCPersistPath string `json:"dhc_persist_path" mapstructure:"dhc_persist_path"`

	Logging LogConfig `json:"logging" mapstructure:"logging"`
}

// LogConfig mirrors the ambient logging flags registered by RegisterFlags.
type LogConfig struct {
	Destination string `json:"destination" mapstructure:"destination"`
	Level       string `json:"level" mapstructure:"level"`
	Encoding    string `json:"encoding" mapstructure:"encoding"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Interfaces:       make(map[string]InterfaceConfig),
		BucketCount:      128,
		FHCCapacity:      10000,
		FHCPurgeDivisor:  10,
		DHCTTL:           30 * time.Minute,
		MaxDetectionPkts: 32,
		UpdateInterval:   15 * time.Second,
		TTLIdleFlow:      30 * time.Second,
		TTLIdleTCPFlow:   300 * time.Second,
		Logging:          LogConfig{Level: DefaultLogLevel, Encoding: DefaultLogEncoding},
	}
}

// Validate checks the whole configuration for internal consistency.
func (c *Config) Validate() error {
	for name, ic := range c.Interfaces {
		if err := ic.Validate(name); err != nil {
			return err
		}
	}
	if c.BucketCount < 0 {
		return fmt.Errorf("bucket_count must not be negative")
	}
	if c.MaxFlows < 0 {
		return fmt.Errorf("max_flows must not be negative")
	}
	return nil
}

// RegisterFlags registers sentrytapd's command-line flags and binds them
// into viper.
func RegisterFlags(cmd *cobra.Command) error {
	pflags := cmd.PersistentFlags()

	pflags.StringP(ConfigFile, "c", "", "path to configuration file")
	tracing.RegisterFlags(pflags)

	pflags.String(LogLevel, DefaultLogLevel, "log level for logger")
	pflags.String(LogEncoding, DefaultLogEncoding, "message encoding format for logger")
	pflags.String(LogDestination, "", "logging destination file path (empty for stdout)")

	return viper.BindPFlags(pflags)
}

// mu guards concurrent reload of the active configuration, per the
// "effectively immutable after load, swap-under-lock on reload" model.
var mu sync.Mutex

// Load reads configuration from the path bound to ConfigFile (if any),
// falling back to defaults, and applies the flag values bound into viper.
// Environment variables are not consulted.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	cfg := New()

	if path := viper.GetString(ConfigFile); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}
