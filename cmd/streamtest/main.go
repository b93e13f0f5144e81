// streamtest connects to a streaming endpoint and prints every decoded frame
// to the console. It reconnects with the client defaults.
//
// Usage: go run ./cmd/streamtest -url wss://stream.example.com/ws -sub trades:BTC-USD -sub orderbook:ETH-USD
//
// Signed handshakes are used when both environment variables are set:
//
//	STREAM_API_KEY          - API key ID
//	STREAM_PRIVATE_KEY_PATH - Path to the RSA private key PEM file
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rickgao/marketstream/internal/auth"
	"github.com/rickgao/marketstream/internal/feed"
	"github.com/rickgao/marketstream/internal/stream"
)

// subList collects repeated -sub channel:symbol flags.
type subList []feed.Subscription

func (s *subList) String() string {
	parts := make([]string, len(*s))
	for i, sub := range *s {
		parts[i] = sub.String()
	}
	return strings.Join(parts, ",")
}

func (s *subList) Set(v string) error {
	channel, symbol, ok := strings.Cut(v, ":")
	if !ok || channel == "" || symbol == "" {
		return fmt.Errorf("subscription %q must be channel:symbol", v)
	}
	*s = append(*s, feed.Subscription{Channel: channel, Symbol: symbol})
	return nil
}

// counters tracks what the session has seen.
type counters struct {
	frames   atomic.Int64
	bytes    atomic.Int64
	opens    atomic.Int64
	closes   atomic.Int64
	errors   atomic.Int64
	requests atomic.Int64
}

func main() {
	url := flag.String("url", "", "websocket URL (ws:// or wss://)")
	debug := flag.Bool("debug", false, "enable client debug logging")
	verbose := flag.Bool("verbose", false, "pretty-print full frame JSON")
	var subs subList
	flag.Var(&subs, "sub", "subscription as channel:symbol (repeatable)")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	if *url == "" {
		logger.Error("-url is required")
		flag.Usage()
		os.Exit(2)
	}

	var (
		stats  counters
		client *stream.Client
		nextID atomic.Int64
	)

	cfg := stream.Config{
		URL:   *url,
		Debug: *debug,
		OnOpen: func() {
			stats.opens.Add(1)
			logger.Info("connected", "subscriptions", len(subs))
			for _, sub := range subs {
				req := feed.Request{
					ID:      nextID.Add(1),
					Op:      feed.OpSubscribe,
					Channel: sub.Channel,
					Symbol:  sub.Symbol,
				}
				if err := client.Send(req); err != nil {
					logger.Warn("subscribe failed", "subscription", sub.String(), "error", err)
					continue
				}
				stats.requests.Add(1)
			}
		},
		OnMessage: func(msg stream.Message) {
			stats.frames.Add(1)
			stats.bytes.Add(int64(len(msg.Data)))
			printFrame(msg, *verbose)
		},
		OnClose: func(ev stream.CloseEvent) {
			stats.closes.Add(1)
			logger.Info("disconnected", "code", ev.Code, "reason", ev.Reason)
		},
		OnError: func(err error) {
			stats.errors.Add(1)
			logger.Warn("stream error", "error", err)
		},
	}

	keyID, keyPath := os.Getenv("STREAM_API_KEY"), os.Getenv("STREAM_PRIVATE_KEY_PATH")
	if keyID != "" && keyPath != "" {
		signer, err := auth.NewSigner(keyID, keyPath, *url)
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			os.Exit(1)
		}
		cfg.HeaderFunc = signer.Headers
		logger.Info("using API credentials", "key_id", keyID)
	}

	var err error
	client, err = stream.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create client", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	started := time.Now()
	client.Connect()
	logger.Info("streaming started - press Ctrl+C to stop", "url", *url)

	// Stats printer
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			client.Disconnect()
			printSummary(&stats, started)
			return
		case <-ticker.C:
			logger.Info("stats",
				"connected", client.IsConnected(),
				"frames", humanize.Comma(stats.frames.Load()),
				"received", humanize.Bytes(uint64(stats.bytes.Load())),
			)
		}
	}
}

// printFrame writes one frame as "[type] symbol=... {json}".
func printFrame(msg stream.Message, verbose bool) {
	var head struct {
		Type   string `json:"type"`
		Symbol string `json:"symbol"`
	}
	json.Unmarshal(msg.Data, &head)

	ts := msg.ReceivedAt.Format("15:04:05.000")
	if verbose {
		var pretty any
		if err := json.Unmarshal(msg.Data, &pretty); err == nil {
			data, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Printf("%s [%s] %s\n", ts, strings.ToUpper(head.Type), data)
			return
		}
	}
	fmt.Printf("%s [%s] symbol=%s %s\n", ts, strings.ToUpper(head.Type), head.Symbol, msg.Data)
}

func printSummary(stats *counters, started time.Time) {
	fmt.Println()
	fmt.Println("session summary")
	fmt.Printf("  started     %s\n", humanize.Time(started))
	fmt.Printf("  frames      %s\n", humanize.Comma(stats.frames.Load()))
	fmt.Printf("  received    %s\n", humanize.Bytes(uint64(stats.bytes.Load())))
	fmt.Printf("  connects    %d\n", stats.opens.Load())
	fmt.Printf("  disconnects %d\n", stats.closes.Load())
	fmt.Printf("  errors      %d\n", stats.errors.Load())
	fmt.Printf("  requests    %d\n", stats.requests.Load())
}
