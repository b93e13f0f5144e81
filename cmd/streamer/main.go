// streamer holds live market data streams open, keeps per-symbol order books
// and optionally persists trades and tickers to PostgreSQL and publishes the
// top of book to Redis.
//
// Usage: streamer -config configs/streamer.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketstream/internal/auth"
	"github.com/rickgao/marketstream/internal/book"
	"github.com/rickgao/marketstream/internal/config"
	"github.com/rickgao/marketstream/internal/database"
	"github.com/rickgao/marketstream/internal/feed"
	"github.com/rickgao/marketstream/internal/logging"
	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/publish"
	"github.com/rickgao/marketstream/internal/router"
	"github.com/rickgao/marketstream/internal/stream"
	"github.com/rickgao/marketstream/internal/version"
	"github.com/rickgao/marketstream/internal/writer"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/streamer.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting streamer",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("streamer failed", "error", err)
		os.Exit(1)
	}

	logger.Info("streamer stopped")
}

func run(ctx context.Context, cfg *config.StreamerConfig, logger *slog.Logger) error {
	// Database (optional)
	var pool *pgxpool.Pool
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)

		var err error
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info("database connected")
	}

	// Redis publisher (optional)
	var publisher *publish.Publisher
	if cfg.Redis.Enabled {
		client, err := publish.NewClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()

		publisher, err = publish.New(client, cfg.Redis.ChannelPrefix, cfg.Redis.TTL, logger)
		if err != nil {
			return err
		}
		logger.Info("redis connected", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.ChannelPrefix)
	}

	// Stream → feed → router
	streamCfg, err := streamConfig(cfg.Stream)
	if err != nil {
		return err
	}

	books := book.NewStore()
	messages := make(chan stream.Message, cfg.Stream.MessageBufferSize)

	fd, err := feed.New(feed.Config{
		Stream:        streamCfg,
		Subscriptions: subscriptions(cfg.Subscriptions),
		OnDisconnect: func(stream.CloseEvent) {
			books.MarkStale()
		},
	}, messages, logger)
	if err != nil {
		return fmt.Errorf("create feed: %w", err)
	}

	rtr := router.NewRouter(router.RouterConfig{
		TradeBufferSize:     cfg.Router.TradeBufferSize,
		OrderbookBufferSize: cfg.Router.OrderbookBufferSize,
		TickerBufferSize:    cfg.Router.TickerBufferSize,
	}, messages, logger)
	if err := rtr.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}
	buffers := rtr.Buffers()

	// Writers (optional)
	var writers []namedWriter
	if pool != nil {
		writerCfg := writer.WriterConfig{
			BatchSize:     cfg.Writers.BatchSize,
			FlushInterval: cfg.Writers.FlushInterval,
		}
		writers = append(writers,
			namedWriter{"trades", writer.NewTradeWriter(writerCfg, buffers.Trade, pool, logger)},
			namedWriter{"tickers", writer.NewTickerWriter(writerCfg, buffers.Ticker, pool, logger)},
		)
		for _, w := range writers {
			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("start %s writer: %w", w.name, err)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var onTop func(model.BookTop)
	if publisher != nil {
		onTop = publisher.OnTop
	}
	g.Go(func() error {
		books.Consume(buffers.Orderbook, logger, onTop)
		return nil
	})

	// Without storage nothing else reads trades or tickers
	if pool == nil {
		g.Go(func() error {
			discard(buffers.Trade)
			return nil
		})
		g.Go(func() error {
			discard(buffers.Ticker)
			return nil
		})
	}

	healthServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: newHealthHandler(healthDeps{
			feed:      fd,
			router:    rtr,
			books:     books,
			db:        pinger(pool),
			writers:   writers,
			publisher: publisher,
		}),
	}
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	fd.Start()
	logger.Info("streamer running",
		"subscriptions", len(fd.Subscriptions()),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Shutdown when the process is signalled or a component fails
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		fd.Stop()
		if err := rtr.Stop(shutdownCtx); err != nil {
			logger.Warn("router stop failed", "error", err)
		}
		for _, w := range writers {
			if err := w.Stop(shutdownCtx); err != nil {
				logger.Warn("writer stop failed", "writer", w.name, "error", err)
			}
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health server shutdown failed", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// streamConfig maps the stream section onto a stream.Config, attaching signed
// handshake headers when a private key is configured.
func streamConfig(sc config.StreamConfig) (stream.Config, error) {
	cfg := stream.Config{
		URL:                  sc.URL,
		MaxReconnectAttempts: sc.MaxReconnectAttempts,
		BaseReconnectDelay:   sc.BaseReconnectDelay,
		MaxReconnectDelay:    sc.MaxReconnectDelay,
		HandshakeTimeout:     sc.HandshakeTimeout,
		WriteTimeout:         sc.WriteTimeout,
		PingInterval:         sc.PingInterval,
		PingTimeout:          sc.PingTimeout,
		Debug:                sc.Debug,
	}

	if sc.PrivateKeyPath != "" {
		signer, err := auth.NewSigner(sc.APIKey, sc.PrivateKeyPath, sc.URL)
		if err != nil {
			return stream.Config{}, fmt.Errorf("load stream credentials: %w", err)
		}
		cfg.HeaderFunc = signer.Headers
	}

	return cfg, nil
}

// subscriptions flattens the per-channel symbol lists.
func subscriptions(subs []config.SubscriptionConfig) []feed.Subscription {
	var out []feed.Subscription
	for _, s := range subs {
		for _, sym := range s.Symbols {
			out = append(out, feed.Subscription{Channel: s.Channel, Symbol: sym})
		}
	}
	return out
}

// discard empties buf until it is closed.
func discard[T any](buf *router.GrowableBuffer[T]) {
	for {
		if _, ok := buf.Receive(); !ok {
			return
		}
	}
}

// pinger avoids storing a typed nil pool in the health interface.
func pinger(pool *pgxpool.Pool) dbPinger {
	if pool == nil {
		return nil
	}
	return pool
}

type batchWriter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Stats() writer.WriterMetrics
}

type namedWriter struct {
	name string
	batchWriter
}
