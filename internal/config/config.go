package config

import "time"

// StreamerConfig is the root configuration for a streamer instance.
type StreamerConfig struct {
	Instance      InstanceConfig       `yaml:"instance"`
	Stream        StreamConfig         `yaml:"stream"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Router        RouterConfig         `yaml:"router"`
	Database      DBConfig             `yaml:"database"`
	Writers       WritersConfig        `yaml:"writers"`
	Redis         RedisConfig          `yaml:"redis"`
	Health        HealthConfig         `yaml:"health"`
	Log           LogConfig            `yaml:"log"`
}

// InstanceConfig identifies this streamer.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// StreamConfig holds the streaming endpoint and reconnect settings.
type StreamConfig struct {
	URL                  string        `yaml:"url"`
	APIKey               string        `yaml:"api_key"`          // Key ID sent with signed handshakes
	PrivateKeyPath       string        `yaml:"private_key_path"` // RSA private key PEM; empty = unauthenticated
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	BaseReconnectDelay   time.Duration `yaml:"base_reconnect_delay"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	MessageBufferSize    int           `yaml:"message_buffer_size"`
	Debug                bool          `yaml:"debug"`
}

// SubscriptionConfig lists the symbols to subscribe on one channel.
type SubscriptionConfig struct {
	Channel string   `yaml:"channel"` // "trades", "orderbook" or "ticker"
	Symbols []string `yaml:"symbols"`
}

// RouterConfig holds initial router buffer capacities.
type RouterConfig struct {
	TradeBufferSize     int `yaml:"trade_buffer_size"`
	OrderbookBufferSize int `yaml:"orderbook_buffer_size"`
	TickerBufferSize    int `yaml:"ticker_buffer_size"`
}

// DBConfig holds the PostgreSQL connection used for trade storage.
// Storage is skipped when Enabled is false.
type DBConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RedisConfig holds the top-of-book publisher settings. Publishing is
// skipped when Enabled is false.
type RedisConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	ChannelPrefix string        `yaml:"channel_prefix"`
	TTL           time.Duration `yaml:"ttl"` // Expiry of the latest-value keys
}

// HealthConfig holds the health/debug HTTP server settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`   // empty = stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}
