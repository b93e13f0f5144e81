package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rickgao/marketstream/internal/book"
	"github.com/rickgao/marketstream/internal/feed"
	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/publish"
	"github.com/rickgao/marketstream/internal/router"
)

const defaultBookDepth = 10

type dbPinger interface {
	Ping(ctx context.Context) error
}

type feedStatus interface {
	Stats() feed.Stats
}

// healthDeps are the components reported by the health server. db and
// publisher are nil when the matching section is disabled.
type healthDeps struct {
	feed      feedStatus
	router    router.Router
	books     *book.Store
	db        dbPinger
	writers   []namedWriter
	publisher *publish.Publisher
}

type healthResponse struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
}

type bookResponse struct {
	Symbol string             `json:"symbol"`
	Stale  bool               `json:"stale"`
	Seq    int64              `json:"seq"`
	Spread float64            `json:"spread"`
	Bids   []model.PriceLevel `json:"bids"`
	Asks   []model.PriceLevel `json:"asks"`
}

// newHealthHandler creates the HTTP handler for health checks and book
// inspection.
func newHealthHandler(deps healthDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := healthResponse{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Stream connection
		fs := deps.feed.Stats()
		health.Components["stream"] = map[string]any{
			"connected": fs.Connected,
			"opens":     fs.Opens,
			"closes":    fs.Closes,
			"errors":    fs.Errors,
			"messages":  fs.Messages,
			"dropped":   fs.Dropped,
		}
		if !fs.Connected {
			health.Status = "degraded"
		}

		rs := deps.router.Stats()
		health.Components["router"] = map[string]any{
			"received":     rs.MessagesReceived,
			"routed":       rs.MessagesRouted,
			"parse_errors": rs.ParseErrors,
			"unknown":      rs.UnknownMessages,
			"seq_gaps":     rs.SeqGaps,
		}

		health.Components["books"] = map[string]any{
			"symbols": deps.books.Symbols(),
		}

		// Database
		if deps.db != nil {
			if err := deps.db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		for _, wr := range deps.writers {
			health.Components["writer_"+wr.name] = wr.Stats()
		}

		if deps.publisher != nil {
			health.Components["publisher"] = deps.publisher.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/book", func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"symbols": deps.books.Symbols(),
			})
			return
		}

		depth := defaultBookDepth
		if v := r.URL.Query().Get("depth"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "depth must be a positive integer", http.StatusBadRequest)
				return
			}
			depth = n
		}

		top, err := deps.books.Top(symbol)
		if errors.Is(err, book.ErrUnknownSymbol) {
			http.Error(w, "unknown symbol", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		bids, asks, err := deps.books.Snapshot(symbol, depth)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(bookResponse{
			Symbol: symbol,
			Stale:  top.Stale,
			Seq:    top.Seq,
			Spread: top.Spread,
			Bids:   bids,
			Asks:   asks,
		})
	})

	return mux
}
