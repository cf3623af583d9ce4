package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
)

// Config is the root configuration structure for the entire service.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Server   ServerConfig   `mapstructure:"server"`
	Gate     GateConfig     `mapstructure:"gate"`
	Limiter  LimiterConfig  `mapstructure:"limiter"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	PoW      PowConfig      `mapstructure:"pow"`
	Detector DetectorConfig `mapstructure:"detector"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// ServerConfig holds settings for the HTTP listener.
type ServerConfig struct {
	Addr            string         `mapstructure:"addr"`
	ReadTimeout     time.Duration  `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration  `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration  `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration  `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration  `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string       `mapstructure:"allowed_origins"`
	Throttle        ThrottleConfig `mapstructure:"throttle"`
}

// ThrottleConfig bounds the global request rate accepted by the listener.
// This is an outer guard on the whole process, independent of the per-IP
// sliding window used for scoring.
type ThrottleConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// GateConfig holds the redirect target and gating behavior.
type GateConfig struct {
	// TargetURL is the destination revealed to visitors that pass the gate.
	// Required; the process refuses to start without it.
	TargetURL string `mapstructure:"target_url"`
	// RateCeiling is the per-IP request count within the limiter window
	// above which the rate signal fires.
	RateCeiling int `mapstructure:"rate_ceiling"`
}

// LimiterConfig holds settings for the per-IP sliding window.
type LimiterConfig struct {
	Window      time.Duration `mapstructure:"window"`
	SweepChance float64       `mapstructure:"sweep_chance"`
}

// LedgerConfig holds settings for the fingerprint ledger.
type LedgerConfig struct {
	TTL         time.Duration `mapstructure:"ttl"`
	SweepChance float64       `mapstructure:"sweep_chance"`
}

// PowConfig holds settings for the proof-of-work challenge service.
type PowConfig struct {
	// Difficulty is the number of leading zero hex digits a solution hash
	// must carry.
	Difficulty int `mapstructure:"difficulty"`
}

// DetectorConfig carries the recognized client detector options. Values are
// serialized into the served script; unknown keys are not forwarded.
type DetectorConfig struct {
	CDPWeight         int           `mapstructure:"cdp_weight" json:"cdpWeight"`
	BehaviorWeight    int           `mapstructure:"behavior_weight" json:"behaviorWeight"`
	FingerprintWeight int           `mapstructure:"fingerprint_weight" json:"fingerprintWeight"`
	TimingWeight      int           `mapstructure:"timing_weight" json:"timingWeight"`
	NavigatorWeight   int           `mapstructure:"navigator_weight" json:"navigatorWeight"`
	Threshold         int           `mapstructure:"threshold" json:"threshold"`
	BehaviorTimeout   time.Duration `mapstructure:"behavior_timeout" json:"-"`
	// AssetTTL bounds how long an issued script name stays servable.
	AssetTTL time.Duration `mapstructure:"asset_ttl" json:"-"`
}

// SetDefaults registers default values so the service can run with a minimal
// config file. Weights and thresholds that are part of the scoring contract
// live in their packages, not here.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "newredirect")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.throttle.enabled", true)
	v.SetDefault("server.throttle.rps", 200.0)
	v.SetDefault("server.throttle.burst", 400)

	v.SetDefault("gate.rate_ceiling", 20)

	v.SetDefault("limiter.window", time.Minute)
	v.SetDefault("limiter.sweep_chance", 0.01)

	v.SetDefault("ledger.ttl", 24*time.Hour)
	v.SetDefault("ledger.sweep_chance", 0.01)

	v.SetDefault("pow.difficulty", 4)

	v.SetDefault("detector.cdp_weight", 55)
	v.SetDefault("detector.behavior_weight", 15)
	v.SetDefault("detector.fingerprint_weight", 10)
	v.SetDefault("detector.timing_weight", 10)
	v.SetDefault("detector.navigator_weight", 10)
	v.SetDefault("detector.threshold", 50)
	v.SetDefault("detector.behavior_timeout", 2500*time.Millisecond)
	v.SetDefault("detector.asset_ttl", 2*time.Minute)
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Gate.TargetURL == "" {
		return fmt.Errorf("gate.target_url is a required configuration field")
	}
	if c.Gate.RateCeiling <= 0 {
		return fmt.Errorf("gate.rate_ceiling must be a positive integer")
	}
	if c.Limiter.Window <= 0 {
		return fmt.Errorf("limiter.window must be a positive duration")
	}
	if c.Limiter.SweepChance < 0 || c.Limiter.SweepChance > 1 {
		return fmt.Errorf("limiter.sweep_chance must be between 0 and 1")
	}
	if c.Ledger.TTL <= 0 {
		return fmt.Errorf("ledger.ttl must be a positive duration")
	}
	if c.Ledger.SweepChance < 0 || c.Ledger.SweepChance > 1 {
		return fmt.Errorf("ledger.sweep_chance must be between 0 and 1")
	}
	if c.PoW.Difficulty < 1 || c.PoW.Difficulty > 8 {
		return fmt.Errorf("pow.difficulty must be between 1 and 8")
	}
	if c.Detector.BehaviorTimeout <= 0 {
		return fmt.Errorf("detector.behavior_timeout must be a positive duration")
	}
	for name, w := range map[string]int{
		"detector.cdp_weight":         c.Detector.CDPWeight,
		"detector.behavior_weight":    c.Detector.BehaviorWeight,
		"detector.fingerprint_weight": c.Detector.FingerprintWeight,
		"detector.timing_weight":      c.Detector.TimingWeight,
		"detector.navigator_weight":   c.Detector.NavigatorWeight,
	} {
		if w < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	var loadErr error
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Set stores the given configuration as the singleton. Intended for the root
// command and for tests.
func Set(cfg *Config) {
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}
