package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the twin service
type Config struct {
	// Core settings
	SimulatorName string `mapstructure:"simulator_name"`
	HTTPPort      int    `mapstructure:"http_port"`
	OPCUAPort     int    `mapstructure:"opcua_port"`
	OPCUAEnabled  bool   `mapstructure:"opcua_enabled"`
	LogLevel      string `mapstructure:"log_level"`

	// Backend settings
	BackendEndpoint  string        `mapstructure:"backend_endpoint"`
	RecordPath       string        `mapstructure:"record_path"`
	ResultPath       string        `mapstructure:"result_path"`
	SubmissionPath   string        `mapstructure:"submission_path"`
	FlowPath         string        `mapstructure:"flow_path"`
	SensorStreamPath string        `mapstructure:"sensor_stream_path"`
	SensorRetryDelay time.Duration `mapstructure:"sensor_retry_delay"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`

	// Catalog files
	ModelCatalog string `mapstructure:"model_catalog"`
	FlowCatalog  string `mapstructure:"flow_catalog"`

	// Timing settings
	ScriptedTickInterval    time.Duration `mapstructure:"scripted_tick_interval"`
	RealtimeElapsedInterval time.Duration `mapstructure:"realtime_elapsed_interval"`
	RealtimePollInterval    time.Duration `mapstructure:"realtime_poll_interval"`

	// Demo settings
	DemoSensors bool `mapstructure:"demo_sensors"`
}

var defaults = map[string]interface{}{
	"simulator_name": "FactoryTwin-01",
	"http_port":      8081,
	"opcua_port":     4840,
	"opcua_enabled":  true,
	"log_level":      "info",

	"backend_endpoint":   "http://localhost:8080",
	"record_path":        "/api/v1/production/current",
	"result_path":        "/api/v1/production/result",
	"submission_path":    "/api/v1/production/validation",
	"flow_path":          "/api/v1/products/flows",
	"sensor_stream_path": "/api/v1/sensors/stream",
	"sensor_retry_delay": 5 * time.Second,
	"request_timeout":    10 * time.Second,

	"model_catalog": "./config/models.yaml",
	"flow_catalog":  "./config/flows.yaml",

	"scripted_tick_interval":    250 * time.Millisecond,
	"realtime_elapsed_interval": 500 * time.Millisecond,
	"realtime_poll_interval":    2 * time.Second,

	"demo_sensors": false,
}

// Load reads configuration from defaults, an optional YAML file named by
// TWIN_CONFIG and environment variables (upper-cased keys), in that order.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path := os.Getenv("TWIN_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// AutomaticEnv only applies to keys viper already knows about,
	// which is every key thanks to the defaults above.
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ScriptedTickInterval <= 0 {
		return fmt.Errorf("scripted_tick_interval must be positive, got %s", c.ScriptedTickInterval)
	}
	if c.RealtimeElapsedInterval <= 0 {
		return fmt.Errorf("realtime_elapsed_interval must be positive, got %s", c.RealtimeElapsedInterval)
	}
	if c.RealtimePollInterval <= 0 {
		return fmt.Errorf("realtime_poll_interval must be positive, got %s", c.RealtimePollInterval)
	}
	if c.SensorRetryDelay <= 0 {
		return fmt.Errorf("sensor_retry_delay must be positive, got %s", c.SensorRetryDelay)
	}
	if c.ModelCatalog == "" {
		return fmt.Errorf("model_catalog must be set")
	}
	return nil
}
