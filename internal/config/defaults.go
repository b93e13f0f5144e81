package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultBaseReconnectDelay   = 2 * time.Second
	DefaultMaxReconnectDelay    = 60 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultPingInterval         = 15 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultMessageBufferSize    = 4096
	DefaultTradeBufferSize      = 10000
	DefaultOrderbookBufferSize  = 10000
	DefaultTickerBufferSize     = 1000
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 1000
	DefaultFlushInterval        = 1 * time.Second
	DefaultRedisAddr            = "localhost:6379"
	DefaultRedisChannelPrefix   = "marketstream"
	DefaultRedisTTL             = 30 * time.Second
	DefaultHealthPort           = 8080
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultLogMaxSizeMB         = 100
	DefaultLogMaxBackups        = 5
	DefaultLogMaxAgeDays        = 14
)

func (c *StreamerConfig) applyDefaults() {
	// Stream defaults
	if c.Stream.MaxReconnectAttempts == 0 {
		c.Stream.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Stream.BaseReconnectDelay == 0 {
		c.Stream.BaseReconnectDelay = DefaultBaseReconnectDelay
	}
	if c.Stream.MaxReconnectDelay == 0 {
		c.Stream.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if c.Stream.HandshakeTimeout == 0 {
		c.Stream.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}
	if c.Stream.MessageBufferSize == 0 {
		c.Stream.MessageBufferSize = DefaultMessageBufferSize
	}

	// Router defaults
	if c.Router.TradeBufferSize == 0 {
		c.Router.TradeBufferSize = DefaultTradeBufferSize
	}
	if c.Router.OrderbookBufferSize == 0 {
		c.Router.OrderbookBufferSize = DefaultOrderbookBufferSize
	}
	if c.Router.TickerBufferSize == 0 {
		c.Router.TickerBufferSize = DefaultTickerBufferSize
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = DefaultRedisChannelPrefix
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = DefaultRedisTTL
	}

	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Log.File != "" {
		if c.Log.MaxSizeMB == 0 {
			c.Log.MaxSizeMB = DefaultLogMaxSizeMB
		}
		if c.Log.MaxBackups == 0 {
			c.Log.MaxBackups = DefaultLogMaxBackups
		}
		if c.Log.MaxAgeDays == 0 {
			c.Log.MaxAgeDays = DefaultLogMaxAgeDays
		}
	}
}
