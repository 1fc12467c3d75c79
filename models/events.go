package models

import (
	"time"
)

// RawFrame carries one frame off the feed socket into the translator.
type RawFrame struct {
	ConnID     string
	Data       []byte
	ReceivedAt time.Time
}

// EventEnvelope holds the dispatch tag shared by every inbound event.
type EventEnvelope struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
}

// PriceLevel is a single resting price level as delivered by the feed.
// Prices and sizes stay strings on the wire and in the cache.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookEvent is a full orderbook snapshot pushed by the feed.
type BookEvent struct {
	EventType string       `json:"event_type"`
	AssetID   string       `json:"asset_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// TradeEvent reports the most recent execution for an asset.
type TradeEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
}

// PriceChangeEvent is the lightweight quote update the feed pushes between
// full book snapshots.
type PriceChangeEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
}

// Event type tags carried by inbound frames.
const (
	EventTypeBook        = "book"
	EventTypeTrade       = "last_trade_price"
	EventTypePriceChange = "price_change"
)

// SubscribeFrame is the declarative "watch this token" frame. The feed has no
// unsubscribe counterpart; removal is local bookkeeping only.
type SubscribeFrame struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

// NewSubscribeFrame builds the subscribe frame for a single token.
func NewSubscribeFrame(token string) SubscribeFrame {
	return SubscribeFrame{
		Type:      "market",
		AssetsIDs: []string{token},
	}
}
