package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	Kafka     KafkaConfig
	MinIO     MinIOConfig
}

type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN prefers DATABASE_URL and falls back to the individual POSTGRES_* keys.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		d.Host, d.User, d.Password, d.DBName, d.Port, d.SSLMode)
}

type RedisConfig struct {
	URL          string
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

// Enabled is false when REDIS_URL is set to an empty string. Presence
// tracking and rate limiting are then off and rooms are kept in memory.
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

type JWTConfig struct {
	Secret         string
	ExpirationTime time.Duration
}

type WebSocketConfig struct {
	AuthGracePeriod time.Duration
	MaxAuthAttempts int
	SendBufferSize  int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
}

type KafkaConfig struct {
	Brokers           []string
	NotificationTopic string
	ChatTopic         string
	// DeadLetterTopic receives notification events that can never be
	// processed. Empty disables dead-lettering; such events are skipped.
	DeadLetterTopic string
	GroupID         string
}

// Enabled reports whether brokers are configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != ""
}

// LoadConfig reads configuration from a .env file in the working directory
// and the environment, which takes precedence.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")

	setDefaults(v)
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read .env: %w", err)
		}
		slog.Debug("No .env file found, using environment variables and defaults")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("LEXIDRAFT_HOST"),
			Port:           v.GetString("LEXIDRAFT_PORT"),
			ReadTimeout:    v.GetDuration("LEXIDRAFT_READ_TIMEOUT"),
			WriteTimeout:   v.GetDuration("LEXIDRAFT_WRITE_TIMEOUT"),
			IdleTimeout:    v.GetDuration("LEXIDRAFT_IDLE_TIMEOUT"),
			AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			URL:      v.GetString("DATABASE_URL"),
			Host:     v.GetString("POSTGRES_HOST"),
			Port:     v.GetString("POSTGRES_PORT"),
			User:     v.GetString("POSTGRES_USER"),
			Password: v.GetString("POSTGRES_PASSWORD"),
			DBName:   v.GetString("POSTGRES_DB"),
			SSLMode:  v.GetString("POSTGRES_SSLMODE"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("REDIS_URL"),
			MaxRetries:   v.GetInt("REDIS_MAX_RETRIES"),
			DialTimeout:  v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:  v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("REDIS_WRITE_TIMEOUT"),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
		},
		JWT: JWTConfig{
			Secret:         v.GetString("LEXIDRAFT_JWT_SECRET"),
			ExpirationTime: v.GetDuration("LEXIDRAFT_JWT_EXPIRE"),
		},
		WebSocket: WebSocketConfig{
			AuthGracePeriod: v.GetDuration("WS_AUTH_GRACE_PERIOD"),
			MaxAuthAttempts: v.GetInt("WS_MAX_AUTH_ATTEMPTS"),
			SendBufferSize:  v.GetInt("WS_SEND_BUFFER"),
			MaxMessageSize:  v.GetInt64("WS_MAX_MESSAGE_SIZE"),
			WriteWait:       v.GetDuration("WS_WRITE_WAIT"),
			PongWait:        v.GetDuration("WS_PONG_WAIT"),
			PingPeriod:      v.GetDuration("WS_PING_PERIOD"),
		},
		Kafka: KafkaConfig{
			Brokers:           splitList(v.GetString("KAFKA_BROKERS")),
			NotificationTopic: v.GetString("KAFKA_NOTIFICATION_TOPIC"),
			ChatTopic:         v.GetString("KAFKA_CHAT_TOPIC"),
			DeadLetterTopic:   v.GetString("KAFKA_DEADLETTER_TOPIC"),
			GroupID:           v.GetString("KAFKA_GROUP_ID"),
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LEXIDRAFT_HOST", "")
	v.SetDefault("LEXIDRAFT_PORT", "8080")
	v.SetDefault("LEXIDRAFT_READ_TIMEOUT", 30*time.Second)
	v.SetDefault("LEXIDRAFT_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("LEXIDRAFT_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("LEXIDRAFT_JWT_SECRET", "secret")
	v.SetDefault("LEXIDRAFT_JWT_EXPIRE", "24h")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000,https://localhost:3000,http://127.0.0.1:3000")

	v.SetDefault("WS_AUTH_GRACE_PERIOD", 10*time.Second)
	v.SetDefault("WS_MAX_AUTH_ATTEMPTS", 5)
	v.SetDefault("WS_SEND_BUFFER", 256)
	v.SetDefault("WS_MAX_MESSAGE_SIZE", 65536)
	v.SetDefault("WS_WRITE_WAIT", 10*time.Second)
	v.SetDefault("WS_PONG_WAIT", 60*time.Second)
	v.SetDefault("WS_PING_PERIOD", 54*time.Second)

	v.SetDefault("POSTGRES_USER", "postgres")
	v.SetDefault("POSTGRES_PASSWORD", "password")
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_DB", "lexidraft")
	v.SetDefault("POSTGRES_SSLMODE", "disable")

	v.SetDefault("REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("REDIS_MAX_RETRIES", 3)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
	v.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
	v.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_NOTIFICATION_TOPIC", "lexidraft.notifications")
	v.SetDefault("KAFKA_CHAT_TOPIC", "lexidraft.chat")
	v.SetDefault("KAFKA_DEADLETTER_TOPIC", "lexidraft.notifications.dlq")
	v.SetDefault("KAFKA_GROUP_ID", "lexidraft-realtime")

	v.SetDefault("MINIO_ENDPOINT", "")
	v.SetDefault("MINIO_BUCKET", "lexidraft-attachments")
	v.SetDefault("MINIO_USE_SSL", false)
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("LEXIDRAFT_JWT_SECRET must not be empty")
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return fmt.Errorf("WS_PING_PERIOD (%s) must be shorter than WS_PONG_WAIT (%s)",
			c.WebSocket.PingPeriod, c.WebSocket.PongWait)
	}
	if c.MinIO.Enabled() && c.MinIO.Bucket == "" {
		return fmt.Errorf("MINIO_BUCKET is required when MINIO_ENDPOINT is set")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
