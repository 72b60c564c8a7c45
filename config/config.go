package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// DefaultPath 默认配置文件路径，可由 CONFIG_PATH 覆盖
const DefaultPath = "config/config.json"

type Config struct {
	Server   ServerConfig   `json:"server"`
	Log      LogConfig      `json:"log"`
	Database DatabaseConfig `json:"database"`
	Auth     AuthConfig     `json:"auth"`
	Redis    RedisConfig    `json:"redis"`
	Kafka    KafkaConfig    `json:"kafka"`
	Chat     ChatConfig     `json:"chat"`
}

type ServerConfig struct {
	Addr         string   `json:"addr"`
	AllowOrigins []string `json:"allow_origins"`
}

type LogConfig struct {
	Mode string `json:"mode"` // development, production
}

type DatabaseConfig struct {
	Driver string `json:"driver"` // postgres, sqlite
	DSN    string `json:"dsn"`
}

type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret"`
	TokenExpiry   int    `json:"token_expiry"`   // in hours
	RefreshExpiry int    `json:"refresh_expiry"` // in hours
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
	Channel  string `json:"channel"` // pub/sub channel used by the redis bus
}

type KafkaConfig struct {
	Brokers   []string `json:"brokers"`
	Topic     string   `json:"topic"`
	GroupID   string   `json:"group_id"` // 为空时按主机名生成，保证每个实例都收到全部事件
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	Mechanism string   `json:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	UseTLS    bool     `json:"use_tls"`
	CertFile  string   `json:"cert_file"`
	KeyFile   string   `json:"key_file"`
	CAFile    string   `json:"ca_file"`
}

type ReconnectConfig struct {
	MaxAttempts int `json:"max_attempts"`
	BaseDelayMS int `json:"base_delay_ms"`
	MaxDelayMS  int `json:"max_delay_ms"`
}

type RateLimitConfig struct {
	Enabled       bool   `json:"enabled"`
	Strategy      string `json:"strategy"` // fixed_window, token_bucket
	Limit         int    `json:"limit"`
	WindowSeconds int    `json:"window_seconds"`
}

type ChatConfig struct {
	Bus                 string          `json:"bus"`    // local, redis, kafka
	Locker              string          `json:"locker"` // local, redis
	MaxMessageRunes     int             `json:"max_message_runes"`
	PollIntervalSeconds int             `json:"poll_interval_seconds"`
	Reconnect           ReconnectConfig `json:"reconnect"`
	ReplyServiceURL     string          `json:"reply_service_url"`
	ReplyTimeoutMS      int             `json:"reply_timeout_ms"`
	RateLimit           RateLimitConfig `json:"rate_limit"`
}

func (c ChatConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c ChatConfig) ReplyTimeout() time.Duration {
	return time.Duration(c.ReplyTimeoutMS) * time.Millisecond
}

// minLockTTL 房间锁的最短过期时间
const minLockTTL = 10 * time.Second

// LockTTL 分布式房间锁不续期，机器人回复在持锁期间完成，过期时间必须覆盖两倍回复超时
func (c ChatConfig) LockTTL() time.Duration {
	if ttl := 2 * c.ReplyTimeout(); ttl > minLockTTL {
		return ttl
	}
	return minLockTTL
}

func (r ReconnectConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

func (r ReconnectConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMS) * time.Millisecond
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// ApplyDefaults 填充未配置的字段
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "development"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Auth.TokenExpiry == 0 {
		c.Auth.TokenExpiry = 24
	}
	if c.Auth.RefreshExpiry == 0 {
		c.Auth.RefreshExpiry = 24 * 7
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "support:events"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "support.room.events"
	}
	if c.Chat.Bus == "" {
		c.Chat.Bus = "local"
	}
	if c.Chat.Locker == "" {
		c.Chat.Locker = "local"
	}
	if c.Chat.MaxMessageRunes == 0 {
		c.Chat.MaxMessageRunes = 2000
	}
	if c.Chat.PollIntervalSeconds == 0 {
		c.Chat.PollIntervalSeconds = 3
	}
	if c.Chat.Reconnect.MaxAttempts == 0 {
		c.Chat.Reconnect.MaxAttempts = 5
	}
	if c.Chat.Reconnect.BaseDelayMS == 0 {
		c.Chat.Reconnect.BaseDelayMS = 1000
	}
	if c.Chat.Reconnect.MaxDelayMS == 0 {
		c.Chat.Reconnect.MaxDelayMS = 10000
	}
	if c.Chat.ReplyTimeoutMS == 0 {
		c.Chat.ReplyTimeoutMS = 5000
	}
	if c.Chat.RateLimit.Strategy == "" {
		c.Chat.RateLimit.Strategy = "fixed_window"
	}
	if c.Chat.RateLimit.Limit == 0 {
		c.Chat.RateLimit.Limit = 30
	}
	if c.Chat.RateLimit.WindowSeconds == 0 {
		c.Chat.RateLimit.WindowSeconds = 60
	}
}

// LoadConfig 读取 JSON 配置文件；path 为空时使用 CONFIG_PATH 或默认路径
func LoadConfig(path string) (config Config, err error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}
	file, err := os.Open(path)
	if err != nil {
		return config, err
	}
	defer func(file *os.File) {
		closeErr := file.Close()
		if closeErr != nil {
			log.Printf("Error closing config file: %v", closeErr)
		}
	}(file)
	decoder := json.NewDecoder(file)
	err = decoder.Decode(&config)
	if err != nil {
		return config, err
	}
	config.ApplyDefaults()
	return config, nil
}
