package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the daemon
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
	Backend      BackendConfig      `mapstructure:"backend"`
	Store        StoreConfig        `mapstructure:"store"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	NATS         struct {
		URL                 string `mapstructure:"url"`                 // Empty disables the NATS connectivity source
		ConnectivitySubject string `mapstructure:"connectivitySubject"` // Subject carrying {"online": bool}
	} `mapstructure:"nats"`
}

// BackendConfig describes the clustering/search backend that receives feedback.
type BackendConfig struct {
	BaseURL   string        `mapstructure:"baseURL"`
	Timeout   time.Duration `mapstructure:"timeout"` // Per-attempt delivery timeout
	UserAgent string        `mapstructure:"userAgent"`
}

// StoreConfig selects and tunes the durable store.
type StoreConfig struct {
	Driver                string `mapstructure:"driver"` // sqlite or postgres
	DSN                   string `mapstructure:"dsn"`
	KeepAbandoned         bool   `mapstructure:"keepAbandoned"`         // Copy abandoned items to abandoned_feedbacks
	PurgeAbandonedOnStart bool   `mapstructure:"purgeAbandonedOnStart"` // Drop items with a lastError before loading
}

// SyncConfig holds sync engine settings.
type SyncConfig struct {
	MaxRetries       int           `mapstructure:"maxRetries"`
	AutoRetry        bool          `mapstructure:"autoRetry"`
	RetryBaseDelay   time.Duration `mapstructure:"retryBaseDelay"`
	RetryMaxDelay    time.Duration `mapstructure:"retryMaxDelay"`
	FailFastOnReject bool          `mapstructure:"failFastOnReject"`
}

// ConnectivityConfig holds the connectivity monitor settings.
type ConnectivityConfig struct {
	InitialOnline bool `mapstructure:"initialOnline"`
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8765)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("backend.baseURL", "http://127.0.0.1:8000")
	v.SetDefault("backend.timeout", 8*time.Second)
	v.SetDefault("backend.userAgent", "silo-feedback-sync")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "silo-feedback.db")
	v.SetDefault("store.keepAbandoned", true)
	v.SetDefault("store.purgeAbandonedOnStart", true)

	// Sync defaults
	v.SetDefault("sync.maxRetries", 3)
	v.SetDefault("sync.autoRetry", false)
	v.SetDefault("sync.retryBaseDelay", 5*time.Second)
	v.SetDefault("sync.retryMaxDelay", 5*time.Minute)
	v.SetDefault("sync.failFastOnReject", false)

	v.SetDefault("connectivity.initialOnline", true)
	v.SetDefault("nats.connectivitySubject", "silo.connectivity")

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.silo-feedback-sync")
	v.AddConfigPath("/etc/silo-feedback-sync")

	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		v.Set("store.driver", driver)
	}
	if dsn := os.Getenv("STORE_DSN"); dsn != "" {
		v.Set("store.dsn", dsn)
	}
	if url := os.Getenv("BACKEND_URL"); url != "" {
		v.Set("backend.baseURL", url)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if config.Sync.MaxRetries < 1 {
		return nil, fmt.Errorf("sync.maxRetries must be at least 1, got %d", config.Sync.MaxRetries)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(parts, tag)
		key := strings.Join(path, ".")

		// time.Duration is an int64, so only real structs recurse
		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
