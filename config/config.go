package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Storage
	AppDBPath   string
	MartDBPath  string
	ReportsPath string

	// API Server
	APIPort string
	APIHost string

	// Report view
	ImageBaseURL string
	ImagesPath   string

	// Time-series store
	TSDB TSDBConfig

	// Logging
	LogLevel string

	// Concurrency
	WorkerPoolSize    int
	LoggerConcurrency int

	// Identifier alias table
	AliasFile string
	Aliases   *AliasConfigManager

	// Report engine tuning
	Engine EngineConfig `mapstructure:"engine"`

	// Metric names per device class
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Report-ready notifications
	Notify NotifyConfig `mapstructure:"notify"`

	// Mock data settings
	MockData MockDataConfig `mapstructure:"mock_data"`

	// Scheduler
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	// Retention
	Retention RetentionConfig `mapstructure:"retention"`

	v *viper.Viper
}

// TSDBConfig locates the PromQL-compatible store
type TSDBConfig struct {
	URL               string
	QueryTimeout      time.Duration
	RangeQueryTimeout time.Duration
}

// EngineConfig holds report engine parameters
type EngineConfig struct {
	EnergyStep             time.Duration `mapstructure:"energy_step" json:"energy_step"`
	TrimStep               time.Duration `mapstructure:"trim_step" json:"trim_step"`
	ExistenceStep          time.Duration `mapstructure:"existence_step" json:"existence_step"`
	TrimMinSamples         int           `mapstructure:"trim_min_samples" json:"trim_min_samples"`
	TrimWindow             int           `mapstructure:"trim_window" json:"trim_window"`
	TrimPeakFraction       float64       `mapstructure:"trim_peak_fraction" json:"trim_peak_fraction"`
	TrimFloorW             float64       `mapstructure:"trim_floor_w" json:"trim_floor_w"`
	InverterPhaseThreshold float64       `mapstructure:"inverter_phase_threshold" json:"inverter_phase_threshold"`
	MeterPhaseThreshold    float64       `mapstructure:"meter_phase_threshold" json:"meter_phase_threshold"`
	MeterThirdPhaseMinV    float64       `mapstructure:"meter_third_phase_min_v" json:"meter_third_phase_min_v"`
	MeterPrefix            string        `mapstructure:"meter_prefix" json:"meter_prefix"`
}

// DeviceMetrics names the series a device class publishes. Per-phase names
// contain a {phase} placeholder; an empty name means the class has no such series.
type DeviceMetrics struct {
	IDLabel        string `mapstructure:"id_label"`
	MatchContains  bool   `mapstructure:"match_contains"`
	Model          string `mapstructure:"model"`
	TotalPower     string `mapstructure:"total_power"`
	ApparentPower  string `mapstructure:"apparent_power"`
	ReactivePower  string `mapstructure:"reactive_power"`
	PhasePower     string `mapstructure:"phase_power"`
	PhaseVoltage   string `mapstructure:"phase_voltage"`
	PhaseCurrent   string `mapstructure:"phase_current"`
	LineVoltage    string `mapstructure:"line_voltage"`
	NeutralVoltage string `mapstructure:"neutral_voltage"`
}

// MetricsConfig holds metric names for both device classes
type MetricsConfig struct {
	Inverter DeviceMetrics `mapstructure:"inverter"`
	Meter    DeviceMetrics `mapstructure:"meter"`
}

// NotifyConfig holds report-ready notification settings
type NotifyConfig struct {
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Outbox OutboxConfig `mapstructure:"outbox"`
}

// MQTTConfig holds MQTT publisher settings
type MQTTConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Broker        string `mapstructure:"broker"`
	ClientID      string `mapstructure:"client_id"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	TopicTemplate string `mapstructure:"topic_template"`
	QoS           int    `mapstructure:"qos"`
}

// KafkaConfig holds Kafka publisher settings
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// OutboxConfig holds delivery retry settings
type OutboxConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BatchSize   int           `mapstructure:"batch_size"`
}

// RetentionConfig holds data retention settings
type RetentionConfig struct {
	ReportDays  int    `mapstructure:"report_days"`
	JobDays     int    `mapstructure:"job_days"`
	CleanupTime string `mapstructure:"cleanup_time"` // Format: "15:04"
}

// MockDataConfig holds demo telemetry settings
type MockDataConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	EventID        string   `mapstructure:"event_id"`
	Inverters      []string `mapstructure:"inverters"`
	Meters         []string `mapstructure:"meters"`
	DurationHours  int      `mapstructure:"duration_hours"`
	IdleMinutes    int      `mapstructure:"idle_minutes"`
	SampleSeconds  int      `mapstructure:"sample_seconds"`
	PeakPowerWatts float64  `mapstructure:"peak_power_watts"`
}

// LoadConfig loads configuration from .env and config.yaml
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		// .env file is optional, only warn
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("..")

	return load(v)
}

// LoadFile loads configuration from an explicit YAML file plus the environment.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
		fmt.Println("Warning: config.yaml not found, using defaults")
	}

	config := &Config{
		// Load from environment variables
		AppDBPath:    getEnv("APP_DB_PATH", "./data/app.db"),
		MartDBPath:   getEnv("MART_DB_PATH", "./data/mart.duckdb"),
		ReportsPath:  getEnv("REPORTS_PATH", "./data/reports"),
		APIPort:      getEnv("API_PORT", "8080"),
		APIHost:      getEnv("API_HOST", "0.0.0.0"),
		ImageBaseURL: getEnv("IMAGE_BASE_URL", "/images"),
		ImagesPath:   getEnv("IMAGES_PATH", "./data/images"),
		TSDB: TSDBConfig{
			URL:               getEnv("TSDB_URL", ""),
			QueryTimeout:      getEnvAsDuration("QUERY_TIMEOUT", 10*time.Second),
			RangeQueryTimeout: getEnvAsDuration("RANGE_QUERY_TIMEOUT", 30*time.Second),
		},
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		WorkerPoolSize:    getEnvAsInt("WORKER_POOL_SIZE", 4),
		LoggerConcurrency: getEnvAsInt("LOGGER_CONCURRENCY", 4),
		AliasFile:         getEnv("ALIAS_FILE", "aliases.json"),
		v:                 v,
	}

	// Load from YAML (whole tree, so defaults survive partial sections)
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config.yaml: %w", err)
	}

	if os.Getenv("MOCK_DATA") != "" {
		config.MockData.Enabled = getEnvAsBool("MOCK_DATA", config.MockData.Enabled)
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		config.Notify.Kafka.Brokers = strings.Split(brokers, ",")
		config.Notify.Kafka.Enabled = true
	}
	if broker := getEnv("MQTT_BROKER", ""); broker != "" {
		config.Notify.MQTT.Broker = broker
		config.Notify.MQTT.Enabled = true
	}

	// Initialize alias table
	config.Aliases = NewAliasConfigManager(config.AliasFile)
	if err := config.Aliases.Load(); err != nil {
		fmt.Printf("Warning: Failed to load alias table: %v\n", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks required fields
func (c *Config) Validate() error {
	if c.TSDB.URL == "" && !c.MockData.Enabled {
		return fmt.Errorf("TSDB_URL is required unless MOCK_DATA is enabled")
	}
	if c.AppDBPath == "" {
		return fmt.Errorf("APP_DB_PATH is required")
	}
	if c.Engine.EnergyStep <= 0 || c.Engine.TrimStep <= 0 || c.Engine.ExistenceStep <= 0 {
		return fmt.Errorf("engine steps must be positive")
	}
	if c.Engine.TrimWindow < 1 {
		return fmt.Errorf("engine.trim_window must be at least 1")
	}
	if c.Metrics.Inverter.TotalPower == "" || c.Metrics.Meter.TotalPower == "" {
		return fmt.Errorf("metrics.*.total_power must be set")
	}
	if c.WorkerPoolSize < 1 {
		c.WorkerPoolSize = 1
	}
	if c.LoggerConcurrency < 1 {
		c.LoggerConcurrency = 1
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.energy_step", "30s")
	v.SetDefault("engine.trim_step", "10s")
	v.SetDefault("engine.existence_step", "5m")
	v.SetDefault("engine.trim_min_samples", 10)
	v.SetDefault("engine.trim_window", 6)
	v.SetDefault("engine.trim_peak_fraction", 0.02)
	v.SetDefault("engine.trim_floor_w", 50.0)
	v.SetDefault("engine.inverter_phase_threshold", 10.0)
	v.SetDefault("engine.meter_phase_threshold", 20.0)
	v.SetDefault("engine.meter_third_phase_min_v", 20.0)
	v.SetDefault("engine.meter_prefix", "acuvim_")

	v.SetDefault("metrics.inverter.id_label", "system_id")
	v.SetDefault("metrics.inverter.model", "inverter")
	v.SetDefault("metrics.inverter.total_power", "victron_ac_out_power")
	v.SetDefault("metrics.inverter.apparent_power", "victron_ac_out_apparent")
	v.SetDefault("metrics.inverter.phase_power", "victron_ac_out_{phase}_p")
	v.SetDefault("metrics.inverter.phase_voltage", "victron_ac_out_{phase}_v")
	v.SetDefault("metrics.inverter.phase_current", "victron_ac_out_{phase}_i")

	v.SetDefault("metrics.meter.id_label", "device")
	v.SetDefault("metrics.meter.match_contains", true)
	v.SetDefault("metrics.meter.model", "power_meter")
	v.SetDefault("metrics.meter.total_power", "acuvim_P")
	v.SetDefault("metrics.meter.reactive_power", "acuvim_Q")
	v.SetDefault("metrics.meter.phase_voltage", "acuvim_V{phase}")
	v.SetDefault("metrics.meter.phase_current", "acuvim_I{phase}")
	v.SetDefault("metrics.meter.line_voltage", "acuvim_Vll")
	v.SetDefault("metrics.meter.neutral_voltage", "acuvim_Vln")

	v.SetDefault("notify.mqtt.client_id", "fleet-report")
	v.SetDefault("notify.mqtt.topic_template", "reports/{event_id}/ready")
	v.SetDefault("notify.mqtt.qos", 1)
	v.SetDefault("notify.kafka.topic", "report-ready")
	v.SetDefault("notify.outbox.base_delay", "30s")
	v.SetDefault("notify.outbox.max_delay", "30m")
	v.SetDefault("notify.outbox.max_attempts", 10)
	v.SetDefault("notify.outbox.batch_size", 20)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_minutes", 15)
	v.SetDefault("scheduler.outbox_interval_seconds", 30)

	v.SetDefault("retention.report_days", 365)
	v.SetDefault("retention.job_days", 30)
	v.SetDefault("retention.cleanup_time", "03:00")

	v.SetDefault("mock_data.event_id", "demo-event")
	v.SetDefault("mock_data.inverters", []string{"Pro6005-2", "Pro6005-3"})
	v.SetDefault("mock_data.meters", []string{"Logger 0"})
	v.SetDefault("mock_data.duration_hours", 2)
	v.SetDefault("mock_data.idle_minutes", 10)
	v.SetDefault("mock_data.sample_seconds", 10)
	v.SetDefault("mock_data.peak_power_watts", 6000.0)
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool reads an environment variable as bool or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("15s") or plain seconds ("15")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
