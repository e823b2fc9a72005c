// Package config loads server and simulation settings from file,
// environment, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Data       DataConfig       `mapstructure:"data"`
	Backtest   BacktestConfig   `mapstructure:"backtest"`
	MonteCarlo MonteCarloConfig `mapstructure:"montecarlo"`
}

// ServerConfig configures the HTTP/WebSocket server.
type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	WebSocketPath string        `mapstructure:"websocketPath"`
	ReadTimeout   time.Duration `mapstructure:"readTimeout"`
	WriteTimeout  time.Duration `mapstructure:"writeTimeout"`
	EnableMetrics bool          `mapstructure:"enableMetrics"`
}

// Addr is the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DataConfig configures data loading.
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// BacktestConfig holds backtest defaults.
type BacktestConfig struct {
	InitialCapital float64 `mapstructure:"initialCapital"`
	SlippagePct    float64 `mapstructure:"slippagePct"`
	CommissionPct  float64 `mapstructure:"commissionPct"`
	RiskFreeRate   float64 `mapstructure:"riskFreeRate"`
}

// MonteCarloConfig holds simulation defaults.
type MonteCarloConfig struct {
	NumSimulations int   `mapstructure:"numSimulations"`
	SimulationDays int   `mapstructure:"simulationDays"`
	Seed           int64 `mapstructure:"seed"`
	Workers        int   `mapstructure:"workers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocketPath", "/ws")
	v.SetDefault("server.readTimeout", 30*time.Second)
	v.SetDefault("server.writeTimeout", 30*time.Second)
	v.SetDefault("server.enableMetrics", true)

	v.SetDefault("data.dir", "./data")

	v.SetDefault("backtest.initialCapital", 100000)
	v.SetDefault("backtest.slippagePct", 0.001)
	v.SetDefault("backtest.commissionPct", 0)
	v.SetDefault("backtest.riskFreeRate", 0.0)

	v.SetDefault("montecarlo.numSimulations", 1000)
	v.SetDefault("montecarlo.simulationDays", 252)
	v.SetDefault("montecarlo.seed", 42)
	v.SetDefault("montecarlo.workers", 0) // 0 = NumCPU
}

// Load reads configuration from the optional file path, then environment
// variables prefixed CRASHSIM_ (dots become underscores), then defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CRASHSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive")
	}
	if c.Backtest.SlippagePct < 0 || c.Backtest.SlippagePct >= 1 {
		return fmt.Errorf("slippage must be in [0, 1)")
	}
	if c.MonteCarlo.NumSimulations <= 0 || c.MonteCarlo.SimulationDays <= 0 {
		return fmt.Errorf("monte carlo dimensions must be positive")
	}
	return nil
}
