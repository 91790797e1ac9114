package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Admin      AdminConfig      `yaml:"admin" mapstructure:"admin"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FetchConfig configures the fetch gateway strategies.
type FetchConfig struct {
	BackendURL         string   `yaml:"backend_url" mapstructure:"backend_url"`
	Relays             []string `yaml:"relays" mapstructure:"relays"`
	UserAgent          string   `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs        int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	EmailTimeoutSecs   int      `yaml:"email_timeout_secs" mapstructure:"email_timeout_secs"`
	MaxRetries         int      `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec         float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	BreakerThreshold   int      `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs   int      `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	PreferDirect       bool     `yaml:"prefer_direct" mapstructure:"prefer_direct"`
	DisableDirectFetch bool     `yaml:"disable_direct_fetch" mapstructure:"disable_direct_fetch"`
}

// SourcesConfig holds the external record-source URL templates. Each
// template takes a single %s for the MC or DOT identifier.
type SourcesConfig struct {
	CarrierURL      string `yaml:"carrier_url" mapstructure:"carrier_url"`
	RegistrationURL string `yaml:"registration_url" mapstructure:"registration_url"`
	SafetyURL       string `yaml:"safety_url" mapstructure:"safety_url"`
	InsuranceURL    string `yaml:"insurance_url" mapstructure:"insurance_url"`
}

// BatchConfig configures the batch orchestrator.
type BatchConfig struct {
	Workers          int `yaml:"workers" mapstructure:"workers"`
	ProgressEvery    int `yaml:"progress_every" mapstructure:"progress_every"`
	SimulatedDelayMs int `yaml:"simulated_delay_ms" mapstructure:"simulated_delay_ms"`
	PersistRetries   int `yaml:"persist_retries" mapstructure:"persist_retries"`
}

// EnrichConfig configures the enrichment orchestrator.
type EnrichConfig struct {
	AutoStart     bool `yaml:"auto_start" mapstructure:"auto_start"`
	ProgressEvery int  `yaml:"progress_every" mapstructure:"progress_every"`
}

// ServerConfig configures the backend proxy server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// AdminConfig holds the seeded administrator account.
type AdminConfig struct {
	Name     string `yaml:"name" mapstructure:"name"`
	Email    string `yaml:"email" mapstructure:"email"`
	Password string `yaml:"password" mapstructure:"password"`
}

// MonitoringConfig configures dataset health checks and alert delivery.
type MonitoringConfig struct {
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	CoverageThreshold float64 `yaml:"coverage_threshold" mapstructure:"coverage_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the fields a command mode depends on are present.
// Recognized modes are "scrape", "enrich", "serve" and "seed".
func (c *Config) Validate(mode string) error {
	var missing []string

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url")
		}
	default:
		return eris.Errorf("config: unsupported store driver: %s", c.Store.Driver)
	}

	switch mode {
	case "scrape", "enrich":
		if c.Sources.CarrierURL == "" {
			missing = append(missing, "sources.carrier_url")
		}
		if c.Batch.Workers <= 0 {
			missing = append(missing, "batch.workers")
		}
	case "serve":
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port")
		}
	case "seed":
		if c.Admin.Email == "" {
			missing = append(missing, "admin.email")
		}
		if c.Admin.Password == "" {
			missing = append(missing, "admin.password")
		}
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required fields for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CARRIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "carriers.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("fetch.backend_url", "http://localhost:3001")
	v.SetDefault("fetch.relays", []string{
		"https://api.allorigins.win/raw?url=",
		"https://api.codetabs.com/v1/proxy?quest=",
	})
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("fetch.timeout_secs", 15)
	v.SetDefault("fetch.email_timeout_secs", 10)
	v.SetDefault("fetch.max_retries", 1)
	v.SetDefault("fetch.rate_per_sec", 5.0)
	v.SetDefault("fetch.breaker_threshold", 5)
	v.SetDefault("fetch.breaker_reset_secs", 30)
	v.SetDefault("sources.carrier_url", "https://safer.fmcsa.dot.gov/query.asp?searchtype=ANY&query_type=queryCarrierSnapshot&query_param=MC_MX&query_string=%s")
	v.SetDefault("sources.registration_url", "https://ai.fmcsa.dot.gov/SMS/Carrier/%s/CarrierRegistration.aspx")
	v.SetDefault("sources.safety_url", "https://ai.fmcsa.dot.gov/SMS/Carrier/%s/CompleteProfile.aspx")
	v.SetDefault("sources.insurance_url", "https://searchcarriers.com/company/%s/insurances")
	v.SetDefault("batch.workers", 5)
	v.SetDefault("batch.progress_every", 3)
	v.SetDefault("batch.simulated_delay_ms", 100)
	v.SetDefault("batch.persist_retries", 2)
	v.SetDefault("enrich.auto_start", true)
	v.SetDefault("enrich.progress_every", 3)
	v.SetDefault("admin.name", "System Admin")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.coverage_threshold", 0.5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
