package writer

import (
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/router"
)

const insertTickerSQL = `
	INSERT INTO tickers (symbol, exchange_ts, received_at, price, best_bid, best_ask, volume_24h)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (symbol, exchange_ts) DO NOTHING`

type tickerRow struct {
	model.Ticker
	price, bestBid, bestAsk, volume pgtype.Numeric
}

// TickerWriter consumes TickerMsg from the router buffer and writes to the
// tickers table.
type TickerWriter struct {
	*batchWriter[router.TickerMsg, tickerRow]
}

// NewTickerWriter creates a new TickerWriter.
func NewTickerWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[router.TickerMsg],
	db DB,
	logger *slog.Logger,
) *TickerWriter {
	return &TickerWriter{
		batchWriter: newBatchWriter("tickers", cfg, input, db, logger, transformTicker, queueTicker),
	}
}

// transformTicker converts a TickerMsg to a tickerRow. Missing fields are
// stored as NULL.
func transformTicker(msg router.TickerMsg) (tickerRow, error) {
	exchangeTs := msg.ExchangeTs
	if exchangeTs == 0 {
		// Key on receive time when the exchange omits ts
		exchangeTs = micros(msg.ReceivedAt)
	}
	if exchangeTs == 0 {
		return tickerRow{}, errors.New("ticker without timestamp")
	}
	if msg.Symbol == "" {
		return tickerRow{}, errors.New("ticker without symbol")
	}

	row := tickerRow{
		Ticker: model.Ticker{
			ExchangeTS: exchangeTs,
			ReceivedAt: micros(msg.ReceivedAt),
			Symbol:     msg.Symbol,
			Price:      msg.Price,
			BestBid:    msg.BestBid,
			BestAsk:    msg.BestAsk,
			Volume24h:  msg.Volume24h,
		},
	}

	var err error
	if row.price, err = numeric(msg.Price); err != nil {
		return tickerRow{}, err
	}
	if row.bestBid, err = numeric(msg.BestBid); err != nil {
		return tickerRow{}, err
	}
	if row.bestAsk, err = numeric(msg.BestAsk); err != nil {
		return tickerRow{}, err
	}
	if row.volume, err = numeric(msg.Volume24h); err != nil {
		return tickerRow{}, err
	}
	return row, nil
}

func queueTicker(b *pgx.Batch, r tickerRow) {
	b.Queue(insertTickerSQL, r.Symbol, r.ExchangeTS, r.ReceivedAt, r.price, r.bestBid, r.bestAsk, r.volume)
}
