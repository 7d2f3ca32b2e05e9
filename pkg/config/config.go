package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Discord  DiscordConfig  `mapstructure:"discord"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Sidekick SidekickConfig `mapstructure:"sidekick"`
	Log      LogConfig      `mapstructure:"log"`
}

type DiscordConfig struct {
	// SupervisorToken may be left empty; the token is then read from the
	// store's system config.
	SupervisorToken string `mapstructure:"supervisor_token"`
}

type TelegramConfig struct {
	SupervisorToken string  `mapstructure:"supervisor_token"`
	Operators       []int64 `mapstructure:"operators"`
	// AllowAnyOperator lets every user issue supervisor commands when
	// Operators is empty. Without it an empty list refuses everyone.
	AllowAnyOperator bool `mapstructure:"allow_any_operator"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type SidekickConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	RunTimeout   time.Duration `mapstructure:"run_timeout"`
	// FailureNotice is replied when a run fails or times out. Empty keeps
	// failures silent.
	FailureNotice string `mapstructure:"failure_notice"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		if port, err = strconv.Atoi(u.Port()); err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q: %w", u.Port(), err)
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func parseOperators(list string) ([]int64, error) {
	var ids []int64
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid operator id %q: %w", field, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// LoadConfig reads the YAML file at path and applies environment
// overrides. An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("telegram.allow_any_operator", false)
	v.SetDefault("openai.base_url", "")
	v.SetDefault("sidekick.poll_interval", time.Second)
	v.SetDefault("sidekick.run_timeout", 10*time.Minute)
	v.SetDefault("sidekick.failure_notice", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	// Enable environment variable support
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if token := v.GetString("DISCORD_SUPERVISOR_TOKEN"); token != "" {
		config.Discord.SupervisorToken = token
	}

	if token := v.GetString("TELEGRAM_SUPERVISOR_TOKEN"); token != "" {
		config.Telegram.SupervisorToken = token
	}

	if ops := v.GetString("TELEGRAM_OPERATORS"); ops != "" {
		ids, err := parseOperators(ops)
		if err != nil {
			return nil, fmt.Errorf("failed to parse TELEGRAM_OPERATORS: %v", err)
		}
		config.Telegram.Operators = ids
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Sidekick.PollInterval <= 0 {
		return fmt.Errorf("sidekick.poll_interval must be positive")
	}
	if c.Sidekick.RunTimeout < c.Sidekick.PollInterval {
		return fmt.Errorf("sidekick.run_timeout must be at least sidekick.poll_interval")
	}
	return nil
}
