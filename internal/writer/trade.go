package writer

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/router"
)

// TradeNamespace derives UUIDs for exchanges whose trade IDs are not UUIDs.
var TradeNamespace = uuid.MustParse("6f1c9a52-3a7e-4c1b-9d55-2b8f0e4d7a10")

const insertTradeSQL = `
	INSERT INTO trades (trade_id, exchange_ts, received_at, symbol, price, size, side)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (trade_id) DO NOTHING`

// tradeRow is one trades row ready for insertion.
type tradeRow struct {
	model.Trade
	price pgtype.Numeric
	size  pgtype.Numeric
	side  pgtype.Text
}

// TradeWriter consumes TradeMsg from the router buffer and writes to the
// trades table.
type TradeWriter struct {
	*batchWriter[router.TradeMsg, tradeRow]
}

// NewTradeWriter creates a new TradeWriter.
func NewTradeWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[router.TradeMsg],
	db DB,
	logger *slog.Logger,
) *TradeWriter {
	return &TradeWriter{
		batchWriter: newBatchWriter("trades", cfg, input, db, logger, transformTrade, queueTrade),
	}
}

// TradeID returns the row key for an exchange trade ID: the ID itself when it
// is a UUID, otherwise a name-based UUID of symbol and ID. The mapping is
// stable, so replays of the same trade collide on the primary key.
func TradeID(symbol, id string) uuid.UUID {
	if u, err := uuid.Parse(id); err == nil {
		return u
	}
	return uuid.NewSHA1(TradeNamespace, []byte(symbol+":"+id))
}

// transformTrade converts a TradeMsg to a tradeRow.
func transformTrade(msg router.TradeMsg) (tradeRow, error) {
	if msg.TradeID == "" {
		return tradeRow{}, errors.New("trade without id")
	}
	if msg.Price == "" || msg.Size == "" {
		return tradeRow{}, errors.New("trade without price or size")
	}

	price, err := numeric(msg.Price)
	if err != nil {
		return tradeRow{}, err
	}
	size, err := numeric(msg.Size)
	if err != nil {
		return tradeRow{}, err
	}

	row := tradeRow{
		Trade: model.Trade{
			TradeID:    TradeID(msg.Symbol, msg.TradeID),
			ExchangeTS: msg.ExchangeTs,
			ReceivedAt: micros(msg.ReceivedAt),
			Symbol:     msg.Symbol,
			Price:      msg.Price,
			Size:       msg.Size,
		},
		price: price,
		size:  size,
	}

	// Unknown sides are stored as NULL
	if side, err := model.ParseSide(msg.Side); err == nil {
		row.Side = side
		row.side = pgtype.Text{String: string(side), Valid: true}
	}

	return row, nil
}

func queueTrade(b *pgx.Batch, r tradeRow) {
	b.Queue(insertTradeSQL, r.TradeID, r.ExchangeTS, r.ReceivedAt, r.Symbol, r.price, r.size, r.side)
}
