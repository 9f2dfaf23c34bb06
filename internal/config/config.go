// Package config loads server configuration from YAML, environment
// variables, and CLI flags, in that increasing order of priority.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the realm server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sim      SimConfig      `yaml:"sim"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Cache    CacheConfig    `yaml:"cache"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig controls listener ports and the persistence root.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	DataDir     string `yaml:"data_dir"`
	RESTPort    int    `yaml:"rest_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// SimConfig controls the simulation loop's timing and lifecycle windows.
type SimConfig struct {
	TickRate           int `yaml:"tick_rate"`
	RealmIdleSeconds    int `yaml:"realm_idle_seconds"`
	DormancySeconds     int `yaml:"dormancy_seconds"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type CacheConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	TTLSecond int    `yaml:"ttl_seconds"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// TickInterval returns the fixed per-tick duration implied by TickRate.
func (s SimConfig) TickInterval() time.Duration {
	rate := s.TickRate
	if rate <= 0 {
		rate = 20
	}
	return time.Second / time.Duration(rate)
}

func (s SimConfig) RealmIdleWindow() time.Duration {
	secs := s.RealmIdleSeconds
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

func (s SimConfig) DormancyWindow() time.Duration {
	secs := s.DormancySeconds
	if secs <= 0 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

// Default returns a config with every field at its documented default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        7777,
			DataDir:     "data",
			RESTPort:    8088,
			MetricsPort: 2112,
		},
		Sim: SimConfig{
			TickRate:         20,
			RealmIdleSeconds: 300,
			DormancySeconds:  60,
		},
		Cache: CacheConfig{
			TTLSecond: 10,
		},
	}
}

// Load reads a YAML file at path, falling back to GAME_CONFIG env var when
// path is empty, and starts from Default() when neither is set; the
// environment-variable fallbacks are applied in every case.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("GAME_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvFallbacks(cfg)
	return cfg, nil
}

// applyEnvFallbacks lets deployment environments override config fields
// without editing the YAML file, matching the teacher's per-field fallback
// convention.
func applyEnvFallbacks(cfg *Config) {
	cfg.Server.Port = intEnvFallback(cfg.Server.Port, "GAME_PORT", cfg.Server.Port)
	cfg.Server.RESTPort = intEnvFallback(cfg.Server.RESTPort, "GAME_REST_PORT", cfg.Server.RESTPort)
	cfg.Server.MetricsPort = intEnvFallback(cfg.Server.MetricsPort, "GAME_METRICS_PORT", cfg.Server.MetricsPort)
	if v := os.Getenv("GAME_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	cfg.Sim.TickRate = intEnvFallback(cfg.Sim.TickRate, "GAME_TICK_RATE", cfg.Sim.TickRate)
	cfg.Sim.RealmIdleSeconds = intEnvFallback(cfg.Sim.RealmIdleSeconds, "GAME_REALM_IDLE_SECONDS", cfg.Sim.RealmIdleSeconds)
	cfg.Sim.DormancySeconds = intEnvFallback(cfg.Sim.DormancySeconds, "GAME_DORMANCY_SECONDS", cfg.Sim.DormancySeconds)
	if v := os.Getenv("GAME_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}

func intEnvFallback(current int, envVar string, fallback int) int {
	if v := os.Getenv(envVar); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// BindFlags registers the CLI surface described in the server's operator
// docs and applies overrides onto cfg after parsing.
func BindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.Server.Port, "port", cfg.Server.Port, "game listener port")
	fs.StringVar(&cfg.Server.DataDir, "data-dir", cfg.Server.DataDir, "persistence root directory")
	fs.IntVar(&cfg.Sim.RealmIdleSeconds, "realm-idle-seconds", cfg.Sim.RealmIdleSeconds, "seconds an empty realm stays loaded before unloading")
	fs.IntVar(&cfg.Sim.DormancySeconds, "dormancy-seconds", cfg.Sim.DormancySeconds, "seconds a disconnected session is kept dormant")
	fs.IntVar(&cfg.Sim.TickRate, "tick-rate", cfg.Sim.TickRate, "simulation ticks per second")
}
