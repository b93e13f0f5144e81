package router

import "time"

// RouterConfig holds configuration for the Message Router.
type RouterConfig struct {
	// Initial output buffer sizes
	OrderbookBufferSize int // Default: 10000
	TradeBufferSize     int // Default: 10000
	TickerBufferSize    int // Default: 1000
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		OrderbookBufferSize: 10000,
		TradeBufferSize:     10000,
		TickerBufferSize:    1000,
	}
}

// Orderbook message kinds.
const (
	KindSnapshot = "snapshot"
	KindUpdate   = "update"
)

// OrderbookMsg represents either a snapshot or an incremental update.
type OrderbookMsg struct {
	Kind string // KindSnapshot or KindUpdate

	Symbol     string
	Seq        int64
	ExchangeTs int64 // Microseconds
	ReceivedAt time.Time
	SeqGap     bool
	GapSize    int

	// Full book for snapshots; changed levels for updates. A zero size in an
	// update removes the level.
	Bids []PriceLevel
	Asks []PriceLevel
}

// PriceLevel represents a price point in an order book message.
type PriceLevel struct {
	Price string // Decimal string, e.g. "64000.50"
	Size  string
}

// TradeMsg represents a trade message.
type TradeMsg struct {
	Symbol     string
	TradeID    string
	Price      string
	Size       string
	Side       string // "buy" or "sell"
	Seq        int64
	ExchangeTs int64 // Microseconds
	ReceivedAt time.Time
	SeqGap     bool
	GapSize    int
}

// TickerMsg represents a ticker update message.
type TickerMsg struct {
	Symbol     string
	Price      string
	BestBid    string
	BestAsk    string
	Volume24h  string
	ExchangeTs int64 // Microseconds
	ReceivedAt time.Time
	// Ticker messages carry no sequence number
}

// Wire types for JSON parsing.
//
// Every data frame shares the envelope
//
//	{"type":"trade","symbol":"BTC-USD","seq":42,"data":{...}}
//
// with "ts" inside data in milliseconds.

type tradeWire struct {
	Symbol string `json:"symbol"`
	Seq    int64  `json:"seq"`
	Data   struct {
		TradeID string `json:"trade_id"`
		Price   string `json:"price"`
		Size    string `json:"size"`
		Side    string `json:"side"`
		Ts      int64  `json:"ts"`
	} `json:"data"`
}

// orderbookWire is shared by orderbook_snapshot and orderbook_update.
type orderbookWire struct {
	Symbol string `json:"symbol"`
	Seq    int64  `json:"seq"`
	Data   struct {
		Bids [][]string `json:"bids"` // [["64000.50","1.25"], ...]
		Asks [][]string `json:"asks"`
		Ts   int64      `json:"ts"`
	} `json:"data"`
}

type tickerWire struct {
	Symbol string `json:"symbol"`
	Data   struct {
		Price     string `json:"price"`
		BestBid   string `json:"best_bid"`
		BestAsk   string `json:"best_ask"`
		Volume24h string `json:"volume_24h"`
		Ts        int64  `json:"ts"`
	} `json:"data"`
}

// messageEnvelope is used for fast type extraction.
type messageEnvelope struct {
	Type string `json:"type"`
}
