package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	ServerPort string `mapstructure:"SERVER_PORT"`

	// StoreDriver selects the document store: "badger" (embedded) or "mysql".
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	BadgerPath  string `mapstructure:"BADGER_PATH"`

	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBName     string `mapstructure:"DB_NAME"`

	JWTSecretKey string `mapstructure:"JWT_SECRET_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`

	RedisHost     string `mapstructure:"REDIS_HOST"`
	RedisPort     string `mapstructure:"REDIS_PORT"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	MQUser     string `mapstructure:"MQ_USER"`
	MQPassword string `mapstructure:"MQ_PASSWORD"`
	MQHost     string `mapstructure:"MQ_HOST"`
	MQPort     string `mapstructure:"MQ_PORT"`

	JaegerEndpoint string `mapstructure:"JAEGER_ENDPOINT"`

	ReactionMaxAttempts int           `mapstructure:"REACTION_MAX_ATTEMPTS"`
	CommentMaxAttempts  int           `mapstructure:"COMMENT_MAX_ATTEMPTS"`
	CascadeBatchSize    int           `mapstructure:"CASCADE_BATCH_SIZE"`
	ResubscribeInitial  time.Duration `mapstructure:"RESUBSCRIBE_INITIAL"`
	ResubscribeMax      time.Duration `mapstructure:"RESUBSCRIBE_MAX"`
	FaultThreshold      int           `mapstructure:"FAULT_THRESHOLD"`
	TopicCacheTTL       time.Duration `mapstructure:"TOPIC_CACHE_TTL"`
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	configureViper(v)
	if err := readConfiguration(v); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "badger", "mysql":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.ReactionMaxAttempts < 1 {
		return fmt.Errorf("REACTION_MAX_ATTEMPTS must be at least 1, got %d", c.ReactionMaxAttempts)
	}
	if c.CommentMaxAttempts < 1 {
		return fmt.Errorf("COMMENT_MAX_ATTEMPTS must be at least 1, got %d", c.CommentMaxAttempts)
	}
	if c.CascadeBatchSize < 1 {
		return fmt.Errorf("CASCADE_BATCH_SIZE must be at least 1, got %d", c.CascadeBatchSize)
	}
	if c.FaultThreshold < 1 {
		return fmt.Errorf("FAULT_THRESHOLD must be at least 1, got %d", c.FaultThreshold)
	}
	return nil
}

func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func (c *Config) RabbitURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.MQUser, c.MQPassword, c.MQHost, c.MQPort)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("SERVER_PORT", "8080")

	v.SetDefault("STORE_DRIVER", "badger")
	v.SetDefault("BADGER_PATH", "./data/forum")

	v.SetDefault("DB_USER", "root")
	v.SetDefault("DB_PASSWORD", "root")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "3306")
	v.SetDefault("DB_NAME", "forum_db")

	v.SetDefault("JWT_SECRET_KEY", "your_fallback_secret_key_change_in_production")
	v.SetDefault("JWT_ISSUER", "forum_app")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", "0")

	v.SetDefault("MQ_USER", "guest")
	v.SetDefault("MQ_PASSWORD", "guest")
	v.SetDefault("MQ_HOST", "localhost")
	v.SetDefault("MQ_PORT", "5672")

	v.SetDefault("JAEGER_ENDPOINT", "http://localhost:14268/api/traces")

	v.SetDefault("REACTION_MAX_ATTEMPTS", 5)
	v.SetDefault("COMMENT_MAX_ATTEMPTS", 5)
	v.SetDefault("CASCADE_BATCH_SIZE", 100)
	v.SetDefault("RESUBSCRIBE_INITIAL", "500ms")
	v.SetDefault("RESUBSCRIBE_MAX", "30s")
	v.SetDefault("FAULT_THRESHOLD", 3)
	v.SetDefault("TOPIC_CACHE_TTL", "5m")
}

func configureViper(v *viper.Viper) {
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
}

func readConfiguration(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Warning: .env file not found, using defaults and system env")
			return nil
		}
		return fmt.Errorf("config file error: %w", err)
	}
	fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	return nil
}
