// Package publish fans top-of-book updates out to Redis.
//
// Each update is published as JSON on "<prefix>:book:<symbol>" and the same
// payload is stored under "<prefix>:top:<symbol>" with a TTL, so late
// subscribers can read the latest value.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis"

	"github.com/rickgao/marketstream/internal/config"
	"github.com/rickgao/marketstream/internal/model"
)

// Client is the subset of *redis.Client used by Publisher.
type Client interface {
	Publish(channel string, message interface{}) *redis.IntCmd
	Set(key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Stats holds publisher counters.
type Stats struct {
	Published int64
	Errors    int64
}

// Publisher writes BookTop updates to Redis.
type Publisher struct {
	client Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger

	published atomic.Int64
	errors    atomic.Int64
}

// NewClient opens a go-redis client from config and verifies it with PING.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// New creates a Publisher. A zero ttl stores latest values without expiry.
func New(client Client, prefix string, ttl time.Duration, logger *slog.Logger) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("publish: nil redis client")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With("component", "publisher"),
	}, nil
}

// topPayload is the JSON form of a model.BookTop.
type topPayload struct {
	Symbol    string  `json:"symbol"`
	BidPrice  string  `json:"bid_price,omitempty"`
	BidSize   string  `json:"bid_size,omitempty"`
	AskPrice  string  `json:"ask_price,omitempty"`
	AskSize   string  `json:"ask_size,omitempty"`
	Spread    float64 `json:"spread"`
	Seq       int64   `json:"seq"`
	Stale     bool    `json:"stale"`
	UpdatedAt int64   `json:"updated_at"`
}

// Channel returns the pub/sub channel for symbol.
func (p *Publisher) Channel(symbol string) string {
	return p.prefix + ":book:" + symbol
}

// Key returns the latest-value key for symbol.
func (p *Publisher) Key(symbol string) string {
	return p.prefix + ":top:" + symbol
}

// PublishTop publishes top and stores it as the symbol's latest value.
func (p *Publisher) PublishTop(top model.BookTop) error {
	data, err := json.Marshal(topPayload{
		Symbol:    top.Symbol,
		BidPrice:  top.BestBid.Price,
		BidSize:   top.BestBid.Size,
		AskPrice:  top.BestAsk.Price,
		AskSize:   top.BestAsk.Size,
		Spread:    top.Spread,
		Seq:       top.Seq,
		Stale:     top.Stale,
		UpdatedAt: top.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode top %s: %w", top.Symbol, err)
	}

	if err := p.client.Publish(p.Channel(top.Symbol), data).Err(); err != nil {
		p.errors.Add(1)
		return fmt.Errorf("publish %s: %w", top.Symbol, err)
	}
	if err := p.client.Set(p.Key(top.Symbol), data, p.ttl).Err(); err != nil {
		p.errors.Add(1)
		return fmt.Errorf("set %s: %w", top.Symbol, err)
	}

	p.published.Add(1)
	return nil
}

// OnTop adapts PublishTop to the book.Consume callback, logging failures.
func (p *Publisher) OnTop(top model.BookTop) {
	if err := p.PublishTop(top); err != nil {
		p.logger.Warn("publish top failed", "symbol", top.Symbol, "error", err)
	}
}

// Stats returns publisher counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Errors:    p.errors.Load(),
	}
}
