package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/billsync/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Logging   LoggingConfig   `mapstructure:"logging" validate:"required"`
	HubSpot   HubSpotConfig   `mapstructure:"hubspot" validate:"required"`
	Billing   BillingConfig   `mapstructure:"billing" validate:"required"`
	Forecast  ForecastConfig  `mapstructure:"forecast"`
	Retry     RetryConfig     `mapstructure:"retry" validate:"required"`
	Lock      LockConfig      `mapstructure:"lock"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
}

type LoggingConfig struct {
	Level types.LogLevel `mapstructure:"level" validate:"required"`
}

type HubSpotConfig struct {
	AccessToken       string        `mapstructure:"access_token" validate:"required"`
	ClientSecret      string        `mapstructure:"client_secret"`
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int           `mapstructure:"burst" validate:"gt=0"`
	DealPipeline      string        `mapstructure:"deal_pipeline"`
	TicketPipeline    string        `mapstructure:"ticket_pipeline" validate:"required"`
	SchemaCacheTTL    time.Duration `mapstructure:"schema_cache_ttl"`
}

// BillingConfig drives the billing schedule and the billing ticket reconciler
type BillingConfig struct {
	HorizonDays    int           `mapstructure:"horizon_days" validate:"gt=0"`
	MaxOccurrences int           `mapstructure:"max_occurrences" validate:"gt=0"`
	MaxManualSlots int           `mapstructure:"max_manual_slots" validate:"gt=0"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	Stages         BillingStages `mapstructure:"stages" validate:"required"`
}

// BillingStages are the entry stages the billing reconciler creates tickets in.
// Tickets that moved past them are left alone.
type BillingStages struct {
	Manual    string `mapstructure:"manual" validate:"required"`
	Automatic string `mapstructure:"automatic" validate:"required"`
}

type ForecastConfig struct {
	Enabled          bool                      `mapstructure:"enabled"`
	MaxOccurrences   int                       `mapstructure:"max_occurrences" validate:"gt=0"`
	DealStageBuckets map[string]string         `mapstructure:"deal_stage_buckets"`
	Stages           map[string]ForecastStages `mapstructure:"stages"`
}

// ForecastStages is one row of the forecast stage lookup (one deal stage bucket)
type ForecastStages struct {
	Manual    string `mapstructure:"manual"`
	Automatic string `mapstructure:"automatic"`
}

type RetryConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts" validate:"gt=0"`
	InitialInterval  time.Duration `mapstructure:"initial_interval"`
	MaxInterval      time.Duration `mapstructure:"max_interval"`
	TransportRetries int           `mapstructure:"transport_retries"`
}

type LockConfig struct {
	Path string        `mapstructure:"path"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type SchedulerConfig struct {
	Cron     string `mapstructure:"cron"`
	Timezone string `mapstructure:"timezone"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

func NewConfig() (*Configuration, error) {
	// .env is optional, real deployments inject the environment directly
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/billsync")

	v.SetEnvPrefix("BILLSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns the built-in defaults without reading files or the environment.
// Used by tests and scripts.
func GetDefaultConfig() *Configuration {
	v := viper.New()
	setDefaults(v)

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("invalid default configuration: %v", err))
	}
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", types.LogLevelInfo)

	v.SetDefault("hubspot.base_url", "https://api.hubapi.com")
	v.SetDefault("hubspot.timeout", 30*time.Second)
	v.SetDefault("hubspot.requests_per_second", 9.0)
	v.SetDefault("hubspot.burst", 10)
	v.SetDefault("hubspot.deal_pipeline", "default")
	v.SetDefault("hubspot.ticket_pipeline", "billing")
	v.SetDefault("hubspot.schema_cache_ttl", time.Hour)

	v.SetDefault("billing.horizon_days", 30)
	v.SetDefault("billing.max_occurrences", 48)
	v.SetDefault("billing.max_manual_slots", 24)
	v.SetDefault("billing.cooldown", 3*time.Second)
	v.SetDefault("billing.stages.manual", "billing_manual_review")
	v.SetDefault("billing.stages.automatic", "billing_auto_invoice")

	v.SetDefault("forecast.enabled", true)
	v.SetDefault("forecast.max_occurrences", 24)
	v.SetDefault("forecast.deal_stage_buckets", map[string]string{
		"appointmentscheduled":   "open",
		"qualifiedtobuy":         "open",
		"presentationscheduled":  "open",
		"decisionmakerboughtin":  "committed",
		"contractsent":           "committed",
		"closedwon":              "committed",
	})
	v.SetDefault("forecast.stages", map[string]interface{}{
		"open": map[string]interface{}{
			"manual":    "forecast_open_manual",
			"automatic": "forecast_open_automatic",
		},
		"committed": map[string]interface{}{
			"manual":    "forecast_committed_manual",
			"automatic": "forecast_committed_automatic",
		},
	})

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_interval", 500*time.Millisecond)
	v.SetDefault("retry.max_interval", 30*time.Second)
	v.SetDefault("retry.transport_retries", 2)

	v.SetDefault("lock.path", "/tmp/billsync.lock")
	v.SetDefault("lock.ttl", 2*time.Hour)

	v.SetDefault("scheduler.cron", "0 */6 * * *")
	v.SetDefault("scheduler.timezone", "UTC")

	v.SetDefault("server.address", ":8080")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.environment", "development")
	v.SetDefault("sentry.sample_rate", 0.1)
}
