package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	TimeRange TimeRangeConfig
	Catalog   CatalogConfig
	Cache     CacheConfig
	Sessions  SessionsConfig
	Agent     AgentConfig
	MCP       MCPConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type PostgresConfig struct {
	URL                 string
	MaxConnections      int32
	StatementTimeoutSec int
	MaxRows             int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

// TimeRangeConfig holds the business calendar used to resolve relative
// time expressions.
type TimeRangeConfig struct {
	Timezone             string
	FiscalYearStartMonth int
	WeekStart            string
}

type CatalogConfig struct {
	CSVPath     string
	SheetURL    string
	TTLMinutes  int
	RefreshCron string
}

type CacheConfig struct {
	TTLSeconds int
}

type SessionsConfig struct {
	RetentionDays int
	PruneCron     string
}

type AgentConfig struct {
	MaxToolIterations int
	HistoryLimit      int
}

type MCPConfig struct {
	Enabled bool
	Path    string
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/funnel-agent")

	viper.SetEnvPrefix("FUNNEL_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.TimeRange.FiscalYearStartMonth < 1 || c.TimeRange.FiscalYearStartMonth > 12 {
		return fmt.Errorf("invalid fiscal year start month %d", c.TimeRange.FiscalYearStartMonth)
	}
	switch strings.ToLower(c.TimeRange.WeekStart) {
	case "monday", "sunday":
	default:
		return fmt.Errorf("invalid week start %q", c.TimeRange.WeekStart)
	}
	if c.Agent.MaxToolIterations <= 0 {
		return fmt.Errorf("agent.maxToolIterations must be positive")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("postgres.url", "postgres://readonly@localhost:5432/sales?sslmode=disable")
	viper.SetDefault("postgres.maxConnections", 10)
	viper.SetDefault("postgres.statementTimeoutSec", 30)
	viper.SetDefault("postgres.maxRows", 1000)

	viper.SetDefault("sqlite.path", "./data/funnel_agent.db")

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 60)

	viper.SetDefault("timeRange.timezone", "Asia/Kolkata")
	viper.SetDefault("timeRange.fiscalYearStartMonth", 4)
	viper.SetDefault("timeRange.weekStart", "monday")

	viper.SetDefault("catalog.csvPath", "./data/predefined_queries.csv")
	viper.SetDefault("catalog.ttlMinutes", 15)
	viper.SetDefault("catalog.refreshCron", "*/15 * * * *")

	viper.SetDefault("cache.ttlSeconds", 300)

	viper.SetDefault("sessions.retentionDays", 30)
	viper.SetDefault("sessions.pruneCron", "0 3 * * *")

	viper.SetDefault("agent.maxToolIterations", 6)
	viper.SetDefault("agent.historyLimit", 20)

	viper.SetDefault("mcp.enabled", true)
	viper.SetDefault("mcp.path", "/mcp")

	viper.SetDefault("rateLimit.enabled", true)
	viper.SetDefault("rateLimit.requestsPerMinute", 60)
	viper.SetDefault("rateLimit.burst", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
