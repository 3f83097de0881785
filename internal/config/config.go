package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置（Broker 为空时禁用发布）
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // topic prefix for adaptation events
	QoS      byte
}

// Config 智能闹钟引擎配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 引擎配置
	Engine struct {
		// 自适应循环配置
		TickSeconds    int     // adapter tick interval, default 900 (15 min)
		DailyCeiling   int     // max applied non-emergency adaptations per alarm per day
		MinConfidence  float64 // minimum aggregate confidence to apply
		MaxConcurrency int     // alarms evaluated in parallel per tick

		// 信号采集配置
		SignalTimeoutSeconds   int // per-provider fetch timeout
		CalendarLookaheadHours int
		SignalKeyPrefix        string // redis key prefix, e.g. "smartalarm:signal:"

		// 闹钟默认值
		DefaultWindowMinutes int     // default wake window
		WindowFloorMinutes   int     // hard floor for dynamic windows
		WindowCeilingMinutes int     // hard ceiling for dynamic windows
		FeedbackWindowSize   int     // recent feedback entries used by the window sizer
		PreferenceRepeats    int     // repeated preference flags needed to bias the window
		PreferenceBias       int     // minutes added per biased direction
		PatternStddevFactor  float64 // stddev -> pattern window scale
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置（带默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "smartalarm")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "smartalarm-engine")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "smartalarm/adaptations")
	cfg.MQTT.QoS = 1

	cfg.Engine.TickSeconds = getEnvInt("ADAPT_TICK_SECONDS", 900)
	cfg.Engine.DailyCeiling = getEnvInt("ADAPT_DAILY_CEILING", 5)
	cfg.Engine.MinConfidence = getEnvFloat("ADAPT_MIN_CONFIDENCE", 0.6)
	cfg.Engine.MaxConcurrency = getEnvInt("ADAPT_MAX_CONCURRENCY", 8)

	cfg.Engine.SignalTimeoutSeconds = getEnvInt("SIGNAL_TIMEOUT_SECONDS", 5)
	cfg.Engine.CalendarLookaheadHours = getEnvInt("CALENDAR_LOOKAHEAD_HOURS", 12)
	cfg.Engine.SignalKeyPrefix = getEnv("SIGNAL_KEY_PREFIX", "smartalarm:signal:")

	cfg.Engine.DefaultWindowMinutes = 30
	cfg.Engine.WindowFloorMinutes = 5
	cfg.Engine.WindowCeilingMinutes = 60
	cfg.Engine.FeedbackWindowSize = 14
	cfg.Engine.PreferenceRepeats = 3
	cfg.Engine.PreferenceBias = 10
	cfg.Engine.PatternStddevFactor = 1.5

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if cfg.Engine.TickSeconds <= 0 {
		return nil, fmt.Errorf("ADAPT_TICK_SECONDS must be positive, got %d", cfg.Engine.TickSeconds)
	}
	if cfg.Engine.MinConfidence < 0 || cfg.Engine.MinConfidence > 1 {
		return nil, fmt.Errorf("ADAPT_MIN_CONFIDENCE must be in [0,1], got %f", cfg.Engine.MinConfidence)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
