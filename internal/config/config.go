// Package config handles configuration loading and validation for proctord.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eliteGoblin/proctord/internal/policy"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PROCTORD_"

// Duration is a time.Duration that decodes from "1500ms"-style strings in
// TOML, YAML and JSON, or from integer nanoseconds in JSON.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalJSON accepts a duration string or integer nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer nanoseconds: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete daemon configuration.
type Config struct {
	Server     ServerConfig     `toml:"server" json:"server" yaml:"server"`
	Logging    LoggingConfig    `toml:"logging" json:"logging" yaml:"logging"`
	Monitoring MonitoringConfig `toml:"monitoring" json:"monitoring" yaml:"monitoring"`
	Policy     PolicyConfig     `toml:"policy" json:"policy" yaml:"policy"`
	Storage    StorageConfig    `toml:"storage" json:"storage" yaml:"storage"`
	Redis      RedisConfig      `toml:"redis" json:"redis" yaml:"redis"`
	Kafka      KafkaConfig      `toml:"kafka" json:"kafka" yaml:"kafka"`
	GeoIP      GeoIPConfig      `toml:"geoip" json:"geoip" yaml:"geoip"`
	Probe      ProbeConfig      `toml:"probe" json:"probe" yaml:"probe"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr            string   `toml:"addr" json:"addr" yaml:"addr"`
	ReadTimeout     Duration `toml:"read_timeout" json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout" json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxFrameBytes   int64    `toml:"max_frame_bytes" json:"max_frame_bytes" yaml:"max_frame_bytes"`
	MaxFramePixels  int      `toml:"max_frame_pixels" json:"max_frame_pixels" yaml:"max_frame_pixels"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string   `toml:"level" json:"level" yaml:"level"`
	Development bool     `toml:"development" json:"development" yaml:"development"`
	Outputs     []string `toml:"outputs" json:"outputs" yaml:"outputs"`
	ErrOutputs  []string `toml:"error_outputs" json:"error_outputs" yaml:"error_outputs"`
}

// MonitoringConfig configures the per-session runtime.
type MonitoringConfig struct {
	SampleInterval  Duration `toml:"sample_interval" json:"sample_interval" yaml:"sample_interval"`
	EndOnDeviceLoss bool     `toml:"end_on_device_loss" json:"end_on_device_loss" yaml:"end_on_device_loss"`
	Retention       Duration `toml:"retention" json:"retention" yaml:"retention"`
	SweepInterval   Duration `toml:"sweep_interval" json:"sweep_interval" yaml:"sweep_interval"`
}

// PolicyConfig mirrors policy.Policy with config-friendly durations.
type PolicyConfig struct {
	Scoring  policy.Scoring `toml:"scoring" json:"scoring" yaml:"scoring"`
	Debounce DebounceConfig `toml:"debounce" json:"debounce" yaml:"debounce"`
}

// DebounceConfig mirrors policy.Debounce.
type DebounceConfig struct {
	NoFaceLimit        int      `toml:"no_face_limit" json:"noFaceLimit" yaml:"noFaceLimit"`
	PhoneLimit         int      `toml:"phone_limit" json:"phoneLimit" yaml:"phoneLimit"`
	GazeWindow         int      `toml:"gaze_window" json:"gazeWindow" yaml:"gazeWindow"`
	GazeOffCenterLimit int      `toml:"gaze_off_center_limit" json:"gazeOffCenterLimit" yaml:"gazeOffCenterLimit"`
	TabSwitchDebounce  Duration `toml:"tab_switch_debounce" json:"tabSwitchDebounce" yaml:"tabSwitchDebounce"`
}

// StorageConfig configures local and durable persistence.
type StorageConfig struct {
	DataDir     string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`
	Encrypted   bool   `toml:"encrypted" json:"encrypted" yaml:"encrypted"`
	Archive     bool   `toml:"archive" json:"archive" yaml:"archive"`
	PostgresURL string `toml:"postgres_url" json:"postgres_url" yaml:"postgres_url"`
	BufferSize  int    `toml:"buffer_size" json:"buffer_size" yaml:"buffer_size"`
}

// RedisConfig configures the live snapshot mirror. Empty Addr disables it.
type RedisConfig struct {
	Addr     string   `toml:"addr" json:"addr" yaml:"addr"`
	Password string   `toml:"password" json:"password" yaml:"password"`
	DB       int      `toml:"db" json:"db" yaml:"db"`
	TTL      Duration `toml:"ttl" json:"ttl" yaml:"ttl"`
}

// KafkaConfig configures the event publisher. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers string `toml:"brokers" json:"brokers" yaml:"brokers"`
	Topic   string `toml:"topic" json:"topic" yaml:"topic"`
}

// GeoIPConfig points at a MaxMind ASN database. Empty path disables ASN checks.
type GeoIPConfig struct {
	ASNDatabase string `toml:"asn_database" json:"asn_database" yaml:"asn_database"`
}

// ProbeConfig toggles environment probe checks.
type ProbeConfig struct {
	Enabled             bool     `toml:"enabled" json:"enabled" yaml:"enabled"`
	CheckProcesses      bool     `toml:"check_processes" json:"check_processes" yaml:"check_processes"`
	CheckVirtualization bool     `toml:"check_virtualization" json:"check_virtualization" yaml:"check_virtualization"`
	RemoteDesktop       []string `toml:"remote_desktop" json:"remote_desktop" yaml:"remote_desktop"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	def := policy.Default()
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8787",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
			MaxFrameBytes:   4 << 20,
			MaxFramePixels:  3840 * 2160,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Outputs:    []string{"stdout"},
			ErrOutputs: []string{"stderr"},
		},
		Monitoring: MonitoringConfig{
			SampleInterval: Duration(policy.DefaultSampleInterval),
			Retention:      Duration(24 * time.Hour),
			SweepInterval:  Duration(10 * time.Minute),
		},
		Policy: FromPolicy(def),
		Storage: StorageConfig{
			Encrypted:  true,
			Archive:    true,
			BufferSize: 256,
		},
		Redis: RedisConfig{
			TTL: Duration(24 * time.Hour),
		},
		Probe: ProbeConfig{
			Enabled:             true,
			CheckProcesses:      false,
			CheckVirtualization: false,
		},
	}
}

// FromPolicy converts a policy into its config representation.
func FromPolicy(p policy.Policy) PolicyConfig {
	return PolicyConfig{
		Scoring: p.Scoring,
		Debounce: DebounceConfig{
			NoFaceLimit:        p.Debounce.NoFaceLimit,
			PhoneLimit:         p.Debounce.PhoneLimit,
			GazeWindow:         p.Debounce.GazeWindow,
			GazeOffCenterLimit: p.Debounce.GazeOffCenterLimit,
			TabSwitchDebounce:  Duration(p.Debounce.TabSwitchDebounce),
		},
	}
}

// ToPolicy converts the policy section into a policy.Policy.
func (p PolicyConfig) ToPolicy() policy.Policy {
	return policy.Policy{
		Scoring: p.Scoring,
		Debounce: policy.Debounce{
			NoFaceLimit:        p.Debounce.NoFaceLimit,
			PhoneLimit:         p.Debounce.PhoneLimit,
			GazeWindow:         p.Debounce.GazeWindow,
			GazeOffCenterLimit: p.Debounce.GazeOffCenterLimit,
			TabSwitchDebounce:  p.Debounce.TabSwitchDebounce.Std(),
		},
	}
}

// Validate checks semantic constraints the schema cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Monitoring.SampleInterval < 0 {
		errs = append(errs, errors.New("monitoring.sample_interval must be non-negative"))
	}
	if c.Monitoring.Retention < 0 {
		errs = append(errs, errors.New("monitoring.retention must be non-negative"))
	}
	if c.Monitoring.SweepInterval <= 0 {
		errs = append(errs, errors.New("monitoring.sweep_interval must be positive"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Storage.BufferSize < 0 {
		errs = append(errs, errors.New("storage.buffer_size must be non-negative"))
	}
	if err := c.Policy.ToPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("policy: %w", err))
	}
	return errors.Join(errs...)
}

// ApplyEnvOverrides overlays PROCTORD_* environment variables.
// Malformed numeric or boolean values are ignored.
func (c *Config) ApplyEnvOverrides() {
	setString(&c.Server.Addr, "ADDR")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setBool(&c.Logging.Development, "LOG_DEVELOPMENT")
	setDuration(&c.Monitoring.SampleInterval, "SAMPLE_INTERVAL")
	setBool(&c.Monitoring.EndOnDeviceLoss, "END_ON_DEVICE_LOSS")
	setDuration(&c.Monitoring.Retention, "RETENTION")
	setString(&c.Storage.DataDir, "DATA_DIR")
	setBool(&c.Storage.Encrypted, "STORAGE_ENCRYPTED")
	setBool(&c.Storage.Archive, "STORAGE_ARCHIVE")
	setString(&c.Storage.PostgresURL, "POSTGRES_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")
	setString(&c.Kafka.Brokers, "KAFKA_BROKERS")
	setString(&c.Kafka.Topic, "KAFKA_TOPIC")
	setString(&c.GeoIP.ASNDatabase, "GEOIP_ASN_DB")
	setBool(&c.Probe.Enabled, "PROBE_ENABLED")
}

func lookupEnv(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func setString(dst *string, name string) {
	if v, ok := lookupEnv(name); ok {
		*dst = v
	}
}

func setBool(dst *bool, name string) {
	if v, ok := lookupEnv(name); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, name string) {
	if v, ok := lookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *Duration, name string) {
	if v, ok := lookupEnv(name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
