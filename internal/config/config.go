package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the risk engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Clients  ClientsConfig  `yaml:"clients"`
	Postgres PostgresConfig `yaml:"postgres"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
	Rules    RulesConfig    `yaml:"rules"`
	Cache    CacheConfig    `yaml:"cache"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Sweep    SweepConfig    `yaml:"sweep"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ClientsConfig groups integrations with the surrounding HR suite.
type ClientsConfig struct {
	HRCore HRCoreConfig `yaml:"hrcore"`
}

// HRCoreConfig configures read access to the HR suite's signal APIs.
type HRCoreConfig struct {
	BaseURL         string        `yaml:"baseURL"`
	EmployeesPath   string        `yaml:"employeesPath"`
	CyclesPath      string        `yaml:"cyclesPath"`
	EvaluationsPath string        `yaml:"evaluationsPath"`
	FeedbackPath    string        `yaml:"feedbackPath"`
	PlansPath       string        `yaml:"plansPath"`
	SurveysPath     string        `yaml:"surveysPath"`
	Timeout         time.Duration `yaml:"timeout"`
}

// PostgresConfig configures flag/snapshot persistence. An empty DSN
// selects the in-memory store (development and tests).
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// NotifyConfig configures the outbound notification webhook.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls threshold-pack loading for the rule scorer.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls Redis-backed caching of cycle lookups and
// population reports.
type CacheConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Addr                string        `yaml:"addr"`
	Username            string        `yaml:"username"`
	Password            string        `yaml:"password"`
	DB                  int           `yaml:"db"`
	DialTimeout         time.Duration `yaml:"dialTimeout"`
	ReadTimeout         time.Duration `yaml:"readTimeout"`
	WriteTimeout        time.Duration `yaml:"writeTimeout"`
	TLS                 bool          `yaml:"tls"`
	ActiveCycleTTL      time.Duration `yaml:"activeCycleTTL"`
	PopulationReportTTL time.Duration `yaml:"populationReportTTL"`
}

// AnalysisConfig holds the population-detector parameters.
type AnalysisConfig struct {
	MinPopulation            int     `yaml:"minPopulation"`
	ZScoreThreshold          float64 `yaml:"zScoreThreshold"`
	IQRMultiplier            float64 `yaml:"iqrMultiplier"`
	ClusterEps               float64 `yaml:"clusterEps"`
	ClusterMinSamples        int     `yaml:"clusterMinSamples"`
	PerformanceContamination float64 `yaml:"performanceContamination"`
	BehavioralContamination  float64 `yaml:"behavioralContamination"`
	ForestTrees              int     `yaml:"forestTrees"`
	ForestSeed               int64   `yaml:"forestSeed"`
}

// SweepConfig controls scheduled full sweeps.
type SweepConfig struct {
	Interval time.Duration `yaml:"interval"`
	Workers  int           `yaml:"workers"`
}

// Load initialises Config from a YAML file and optional environment
// overrides, then validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TALENT_RISK_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects deployment mistakes. A bad threshold is fatal at
// startup rather than a data condition.
func (c *Config) Validate() error {
	a := c.Analysis
	if a.MinPopulation < 1 {
		return fmt.Errorf("invalid config: analysis.minPopulation must be >= 1, got %d", a.MinPopulation)
	}
	if a.ZScoreThreshold <= 0 {
		return fmt.Errorf("invalid config: analysis.zScoreThreshold must be > 0, got %g", a.ZScoreThreshold)
	}
	if a.IQRMultiplier <= 0 {
		return fmt.Errorf("invalid config: analysis.iqrMultiplier must be > 0, got %g", a.IQRMultiplier)
	}
	if a.ClusterEps <= 0 {
		return fmt.Errorf("invalid config: analysis.clusterEps must be > 0, got %g", a.ClusterEps)
	}
	if a.ClusterMinSamples < 1 {
		return fmt.Errorf("invalid config: analysis.clusterMinSamples must be >= 1, got %d", a.ClusterMinSamples)
	}
	for name, rate := range map[string]float64{
		"analysis.performanceContamination": a.PerformanceContamination,
		"analysis.behavioralContamination":  a.BehavioralContamination,
	} {
		if rate <= 0 || rate >= 1 {
			return fmt.Errorf("invalid config: %s must be in (0,1), got %g", name, rate)
		}
	}
	if a.ForestTrees < 1 {
		return fmt.Errorf("invalid config: analysis.forestTrees must be >= 1, got %d", a.ForestTrees)
	}
	if c.Sweep.Workers < 1 {
		return fmt.Errorf("invalid config: sweep.workers must be >= 1, got %d", c.Sweep.Workers)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8085",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			HRCore: HRCoreConfig{
				EmployeesPath:   "/api/v1/signals/employees",
				CyclesPath:      "/api/v1/signals/cycles",
				EvaluationsPath: "/api/v1/signals/evaluations",
				FeedbackPath:    "/api/v1/signals/feedback",
				PlansPath:       "/api/v1/signals/development-plans",
				SurveysPath:     "/api/v1/signals/survey-flags",
				Timeout:         5 * time.Second,
			},
		},
		Notify:  NotifyConfig{Timeout: 5 * time.Second},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Cache: CacheConfig{
			Enabled:             false,
			DialTimeout:         2 * time.Second,
			ReadTimeout:         500 * time.Millisecond,
			WriteTimeout:        500 * time.Millisecond,
			ActiveCycleTTL:      5 * time.Minute,
			PopulationReportTTL: 10 * time.Minute,
		},
		Analysis: AnalysisConfig{
			MinPopulation:            5,
			ZScoreThreshold:          2.5,
			IQRMultiplier:            1.5,
			ClusterEps:               0.5,
			ClusterMinSamples:        3,
			PerformanceContamination: 0.10,
			BehavioralContamination:  0.15,
			ForestTrees:              100,
			ForestSeed:               42,
		},
		Sweep: SweepConfig{
			Interval: 0,
			Workers:  8,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TALENT_RISK_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("TALENT_RISK_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("TALENT_RISK_HRCORE_BASE_URL"); v != "" {
		cfg.Clients.HRCore.BaseURL = v
	}
	if v := os.Getenv("TALENT_RISK_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("TALENT_RISK_NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("TALENT_RISK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TALENT_RISK_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("TALENT_RISK_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("TALENT_RISK_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("TALENT_RISK_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("TALENT_RISK_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("TALENT_RISK_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("TALENT_RISK_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("TALENT_RISK_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sweep.Interval = d
		}
	}
	if v := os.Getenv("TALENT_RISK_SWEEP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sweep.Workers = n
		}
	}
	if v := os.Getenv("TALENT_RISK_FOREST_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Analysis.ForestSeed = n
		}
	}
}
