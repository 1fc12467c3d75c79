package models

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// OrderbookSnapshot is the normalized top-of-book state derived from a
// BookEvent, ready to be persisted as cache fields.
type OrderbookSnapshot struct {
	AssetID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Mid       decimal.Decimal
	Spread    decimal.Decimal
	Timestamp time.Time
}

// NewOrderbookSnapshot sorts both sides best-first, truncates them to depth
// levels and derives best/mid/spread. An empty side contributes a best price
// of zero; mid and spread are still computed from that default.
func NewOrderbookSnapshot(ev BookEvent, depth int, now time.Time) OrderbookSnapshot {
	bids := sortLevels(ev.Bids, true)
	asks := sortLevels(ev.Asks, false)

	if len(bids) > depth {
		bids = bids[:depth]
	}
	if len(asks) > depth {
		asks = asks[:depth]
	}

	bestBid := decimal.Zero
	if len(bids) > 0 {
		bestBid = parsePrice(bids[0].Price)
	}
	bestAsk := decimal.Zero
	if len(asks) > 0 {
		bestAsk = parsePrice(asks[0].Price)
	}

	return OrderbookSnapshot{
		AssetID:   ev.AssetID,
		Bids:      bids,
		Asks:      asks,
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		Mid:       bestBid.Add(bestAsk).Div(decimal.NewFromInt(2)),
		Spread:    bestAsk.Sub(bestBid),
		Timestamp: now,
	}
}

// Fields renders the snapshot as the orderbook record's field map. Level
// arrays are pre-serialized because the cache stores string values only.
func (s OrderbookSnapshot) Fields() (map[string]string, error) {
	bids, err := json.Marshal(s.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := json.Marshal(s.Asks)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"bids":       string(bids),
		"asks":       string(asks),
		"mid":        s.Mid.StringFixed(4),
		"spread":     s.Spread.StringFixed(4),
		"lastUpdate": epochMillis(s.Timestamp),
	}, nil
}

// QuoteFields renders the price record fields derived from this snapshot.
// The "last" field belongs to the price_change writer and is left untouched.
func (s OrderbookSnapshot) QuoteFields() map[string]string {
	return map[string]string{
		"bid":        s.BestBid.StringFixed(4),
		"ask":        s.BestAsk.StringFixed(4),
		"mid":        s.Mid.StringFixed(4),
		"lastUpdate": epochMillis(s.Timestamp),
	}
}

// Trade is one entry in a token's bounded trade history.
type Trade struct {
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Timestamp int64   `json:"timestamp"`
}

// NewTrade converts a TradeEvent using the local receipt time, not feed time.
// Unparseable numbers fall back to zero.
func NewTrade(ev TradeEvent, now time.Time) Trade {
	price, _ := strconv.ParseFloat(ev.Price, 64)
	size, _ := strconv.ParseFloat(ev.Size, 64)
	return Trade{
		Side:      ev.Side,
		Price:     price,
		Size:      size,
		Timestamp: now.UnixMilli(),
	}
}

// sortLevels orders levels best-first: descending for bids, ascending for
// asks. The feed does not guarantee level ordering across event variants.
func sortLevels(levels []PriceLevel, descending bool) []PriceLevel {
	sorted := make([]PriceLevel, len(levels))
	copy(sorted, levels)
	sort.SliceStable(sorted, func(i, j int) bool {
		a := parsePrice(sorted[i].Price)
		b := parsePrice(sorted[j].Price)
		if descending {
			return a.GreaterThan(b)
		}
		return a.LessThan(b)
	})
	return sorted
}

func parsePrice(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func epochMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// EpochMillis formats a timestamp the way every cache record stores
// lastUpdate.
func EpochMillis(t time.Time) string {
	return epochMillis(t)
}
