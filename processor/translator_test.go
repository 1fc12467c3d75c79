package processor

import (
	"context"
	"strings"
	"testing"
	"time"

	appconfig "clobrelay/config"
	"clobrelay/models"
	"clobrelay/subscription"
)

type upsertCall struct {
	key    string
	fields map[string]string
}

type pushCall struct {
	key    string
	value  string
	maxLen int64
}

type expiryCall struct {
	key string
	ttl time.Duration
}

type fakeCache struct {
	upserts  []upsertCall
	pushes   []pushCall
	expiries []expiryCall
	err      error
}

func (f *fakeCache) UpsertFields(ctx context.Context, key string, fields map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, upsertCall{key: key, fields: fields})
	return nil
}

func (f *fakeCache) PushCapped(ctx context.Context, key string, value string, maxLen int64) error {
	if f.err != nil {
		return f.err
	}
	f.pushes = append(f.pushes, pushCall{key: key, value: value, maxLen: maxLen})
	return nil
}

func (f *fakeCache) SetExpiry(ctx context.Context, key string, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.expiries = append(f.expiries, expiryCall{key: key, ttl: ttl})
	return nil
}

func minimalConfig() *appconfig.Config {
	return &appconfig.Config{
		Processor: appconfig.ProcessorConfig{
			MaxWorkers:        1,
			OrderbookDepth:    10,
			TradeHistoryLimit: 100,
			RecordTTL:         60 * time.Second,
		},
	}
}

func newTestTranslator(cache *fakeCache, active *subscription.Set) *Translator {
	raw := make(chan models.RawFrame)
	return NewTranslator(minimalConfig(), raw, cache, active)
}

func frame(payload string) models.RawFrame {
	return models.RawFrame{ConnID: "test", Data: []byte(payload), ReceivedAt: time.Now()}
}

func (f *fakeCache) upsertFor(key string) (map[string]string, bool) {
	for _, call := range f.upserts {
		if call.key == key {
			return call.fields, true
		}
	}
	return nil, false
}

func (f *fakeCache) expiryFor(key string) (time.Duration, bool) {
	for _, call := range f.expiries {
		if call.key == key {
			return call.ttl, true
		}
	}
	return 0, false
}

func TestBookEventPersistsSnapshotAndQuote(t *testing.T) {
	cache := &fakeCache{}
	active := subscription.NewSet()
	active.Add("A")
	tr := newTestTranslator(cache, active)

	tr.process(frame(`{"event_type":"book","asset_id":"A","bids":[{"price":"0.40","size":"10"}],"asks":[{"price":"0.42","size":"5"}]}`))

	book, ok := cache.upsertFor("orderbook:A")
	if !ok {
		t.Fatalf("no orderbook write: %v", cache.upserts)
	}
	if book["mid"] != "0.4100" {
		t.Errorf("unexpected mid: %s", book["mid"])
	}
	if book["spread"] != "0.0200" {
		t.Errorf("unexpected spread: %s", book["spread"])
	}
	if book["lastUpdate"] == "" {
		t.Errorf("missing lastUpdate")
	}

	quote, ok := cache.upsertFor("price:A")
	if !ok {
		t.Fatalf("no quote write: %v", cache.upserts)
	}
	if quote["mid"] != "0.4100" {
		t.Errorf("unexpected quote mid: %s", quote["mid"])
	}

	for _, key := range []string{"orderbook:A", "price:A"} {
		ttl, ok := cache.expiryFor(key)
		if !ok {
			t.Errorf("no expiry set on %s", key)
		} else if ttl != 60*time.Second {
			t.Errorf("unexpected ttl on %s: %v", key, ttl)
		}
	}
}

func TestBookEventForInactiveTokenProducesNoWrite(t *testing.T) {
	cache := &fakeCache{}
	tr := newTestTranslator(cache, subscription.NewSet())

	tr.process(frame(`{"event_type":"book","asset_id":"B","bids":[{"price":"0.40","size":"10"}],"asks":[]}`))

	if len(cache.upserts) != 0 || len(cache.expiries) != 0 {
		t.Fatalf("inactive token produced writes: %v %v", cache.upserts, cache.expiries)
	}
}

func TestRemovedTokenStopsBookWrites(t *testing.T) {
	cache := &fakeCache{}
	active := subscription.NewSet()
	active.Add("B")
	tr := newTestTranslator(cache, active)

	tr.process(frame(`{"event_type":"book","asset_id":"B","bids":[{"price":"0.30","size":"1"}],"asks":[{"price":"0.32","size":"1"}]}`))
	if _, ok := cache.upsertFor("orderbook:B"); !ok {
		t.Fatalf("active token should write")
	}

	// Reconciliation removed the token; the feed may still deliver frames.
	active.Remove("B")
	before := len(cache.upserts)

	tr.process(frame(`{"event_type":"book","asset_id":"B","bids":[{"price":"0.31","size":"1"}],"asks":[{"price":"0.33","size":"1"}]}`))
	if len(cache.upserts) != before {
		t.Fatalf("removed token still writing: %v", cache.upserts)
	}
}

func TestPriceChangeIgnoresActiveSet(t *testing.T) {
	cache := &fakeCache{}
	tr := newTestTranslator(cache, subscription.NewSet())

	tr.process(frame(`{"event_type":"price_change","asset_id":"C","price":"0.55"}`))

	quote, ok := cache.upsertFor("price:C")
	if !ok {
		t.Fatalf("price change for inactive token should still write")
	}
	if quote["last"] != "0.55" {
		t.Errorf("unexpected last: %s", quote["last"])
	}
	if ttl, ok := cache.expiryFor("price:C"); !ok || ttl != 60*time.Second {
		t.Errorf("expiry not refreshed: %v %v", ttl, ok)
	}
}

func TestPriceChangeDefaultsMissingPrice(t *testing.T) {
	cache := &fakeCache{}
	tr := newTestTranslator(cache, subscription.NewSet())

	tr.process(frame(`{"event_type":"price_change","asset_id":"C"}`))

	quote, ok := cache.upsertFor("price:C")
	if !ok {
		t.Fatalf("no quote write")
	}
	if quote["last"] != "0" {
		t.Errorf("missing price should default to 0, got %s", quote["last"])
	}
}

func TestTradeEventPushesCapped(t *testing.T) {
	cache := &fakeCache{}
	active := subscription.NewSet()
	active.Add("A")
	tr := newTestTranslator(cache, active)

	tr.process(frame(`{"event_type":"last_trade_price","asset_id":"A","side":"BUY","price":"0.42","size":"5"}`))

	if len(cache.pushes) != 1 {
		t.Fatalf("expected one push, got %v", cache.pushes)
	}
	push := cache.pushes[0]
	if push.key != "trades:A" {
		t.Errorf("unexpected key: %s", push.key)
	}
	if push.maxLen != 100 {
		t.Errorf("unexpected cap: %d", push.maxLen)
	}
	if !containsAll(push.value, `"side":"BUY"`, `"price":0.42`, `"size":5`) {
		t.Errorf("unexpected payload: %s", push.value)
	}
	// The trade list is bounded by count, never by time.
	if _, ok := cache.expiryFor("trades:A"); ok {
		t.Errorf("trade list must not carry a TTL")
	}
}

func TestTradeEventForInactiveTokenIsFiltered(t *testing.T) {
	cache := &fakeCache{}
	tr := newTestTranslator(cache, subscription.NewSet())

	tr.process(frame(`{"event_type":"last_trade_price","asset_id":"A","side":"SELL","price":"0.42","size":"5"}`))

	if len(cache.pushes) != 0 {
		t.Fatalf("inactive token trade should not be pushed: %v", cache.pushes)
	}
}

func TestMalformedAndUnknownFramesAreDropped(t *testing.T) {
	cache := &fakeCache{}
	tr := newTestTranslator(cache, subscription.NewSet())

	tr.process(frame(`not json at all`))
	tr.process(frame(`{"event_type":"tick_size_change","asset_id":"A"}`))
	tr.process(frame(`{"event_type":"book","asset_id":""}`))

	if got := tr.Dropped(); got != 3 {
		t.Errorf("expected 3 dropped frames, got %d", got)
	}
	if len(cache.upserts) != 0 || len(cache.pushes) != 0 {
		t.Errorf("dropped frames must not write: %v %v", cache.upserts, cache.pushes)
	}
}

func TestStoreFailureDoesNotPropagate(t *testing.T) {
	cache := &fakeCache{err: context.DeadlineExceeded}
	active := subscription.NewSet()
	active.Add("A")
	tr := newTestTranslator(cache, active)

	// Must not panic or surface anything; failure is indistinguishable from
	// success at the call site.
	tr.process(frame(`{"event_type":"book","asset_id":"A","bids":[{"price":"0.40","size":"10"}],"asks":[{"price":"0.42","size":"5"}]}`))

	if got := tr.Dropped(); got != 0 {
		t.Errorf("store failures are not frame drops, got %d", got)
	}
}

func TestTranslatorStartStop(t *testing.T) {
	raw := make(chan models.RawFrame)
	tr := NewTranslator(minimalConfig(), raw, &fakeCache{}, subscription.NewSet())

	ctx, cancel := context.WithCancel(context.Background())
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tr.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}
	cancel()
	tr.Stop()
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
