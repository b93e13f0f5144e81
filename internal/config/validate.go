package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Channels accepted in the subscriptions section.
var validChannels = map[string]bool{
	"trades":    true,
	"orderbook": true,
	"ticker":    true,
}

// Validate checks that all required fields are set and values are valid.
func (c *StreamerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Stream.validate(); err != nil {
		return err
	}

	if len(c.Subscriptions) == 0 {
		return errors.New("subscriptions must not be empty")
	}
	for i, sub := range c.Subscriptions {
		if !validChannels[sub.Channel] {
			return fmt.Errorf("subscriptions[%d].channel %q is not one of trades, orderbook, ticker", i, sub.Channel)
		}
		if len(sub.Symbols) == 0 {
			return fmt.Errorf("subscriptions[%d].symbols must not be empty", i)
		}
	}

	if c.Router.TradeBufferSize < 1 {
		return errors.New("router.trade_buffer_size must be >= 1")
	}
	if c.Router.OrderbookBufferSize < 1 {
		return errors.New("router.orderbook_buffer_size must be >= 1")
	}
	if c.Router.TickerBufferSize < 1 {
		return errors.New("router.ticker_buffer_size must be >= 1")
	}

	if c.Database.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Writers.BatchSize < 1 {
			return errors.New("writers.batch_size must be >= 1")
		}
		if c.Writers.FlushInterval <= 0 {
			return errors.New("writers.flush_interval must be > 0")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("redis.db must be >= 0, got %d", c.Redis.DB)
		}
		if c.Redis.TTL < 0 {
			return errors.New("redis.ttl must be >= 0")
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (s *StreamConfig) validate() error {
	if s.URL == "" {
		return errors.New("stream.url is required")
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("stream.url is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("stream.url scheme must be ws or wss, got %q", u.Scheme)
	}
	if s.PrivateKeyPath != "" && s.APIKey == "" {
		return errors.New("stream.api_key is required when stream.private_key_path is set")
	}
	if s.BaseReconnectDelay <= 0 {
		return errors.New("stream.base_reconnect_delay must be > 0")
	}
	if s.MaxReconnectDelay > 0 && s.MaxReconnectDelay < s.BaseReconnectDelay {
		return fmt.Errorf("stream.max_reconnect_delay (%s) cannot be less than base_reconnect_delay (%s)",
			s.MaxReconnectDelay, s.BaseReconnectDelay)
	}
	if s.MessageBufferSize < 1 {
		return errors.New("stream.message_buffer_size must be >= 1")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
