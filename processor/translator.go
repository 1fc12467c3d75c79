package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appconfig "clobrelay/config"
	"clobrelay/logger"
	"clobrelay/models"
	"clobrelay/store"
	"clobrelay/subscription"
)

// Cache is the slice of the store client the translator writes through.
type Cache interface {
	UpsertFields(ctx context.Context, key string, fields map[string]string) error
	PushCapped(ctx context.Context, key string, value string, maxLen int64) error
	SetExpiry(ctx context.Context, key string, ttl time.Duration) error
}

// Translator classifies inbound feed frames by their event-type tag and
// converts each into cache writes. Unparseable and unrecognized frames are
// discarded without interrupting the stream; the drop counters keep them
// observable.
type Translator struct {
	config  *appconfig.Config
	rawChan <-chan models.RawFrame
	cache   Cache
	active  *subscription.Set
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	// Metrics
	framesProcessed int64
	framesDropped   int64
	framesFiltered  int64
	writesFailed    int64
}

func NewTranslator(cfg *appconfig.Config, rawChan <-chan models.RawFrame, cache Cache, active *subscription.Set) *Translator {
	return &Translator{
		config:  cfg,
		rawChan: rawChan,
		cache:   cache,
		active:  active,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
	}
}

func (t *Translator) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("translator already running")
	}
	t.running = true
	t.ctx = ctx
	t.mu.Unlock()

	log := t.log.WithComponent("translator").WithFields(logger.Fields{"operation": "start"})

	numWorkers := t.config.Processor.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	log.WithFields(logger.Fields{"workers": numWorkers}).Info("starting translator workers")

	for i := 0; i < numWorkers; i++ {
		t.wg.Add(1)
		go t.worker(i)
	}

	go t.metricsReporter(ctx)

	log.Info("translator started successfully")
	return nil
}

func (t *Translator) Stop() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()

	t.log.WithComponent("translator").Info("stopping translator")
	t.wg.Wait()
	t.log.WithComponent("translator").Info("translator stopped")
}

// Dropped returns the number of frames discarded as unparseable or carrying
// an unknown event-type tag.
func (t *Translator) Dropped() int64 {
	return atomic.LoadInt64(&t.framesDropped)
}

func (t *Translator) worker(workerID int) {
	defer t.wg.Done()

	log := t.log.WithComponent("translator").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "translator",
	})

	log.Info("starting translator worker")

	for {
		select {
		case <-t.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case frame, ok := <-t.rawChan:
			if !ok {
				log.Info("raw channel closed, worker stopping")
				return
			}
			t.process(frame)
		}
	}
}

func (t *Translator) process(frame models.RawFrame) {
	log := t.log.WithComponent("translator").WithFields(logger.Fields{
		"conn_id":   frame.ConnID,
		"operation": "process_frame",
	})

	var env models.EventEnvelope
	if err := json.Unmarshal(frame.Data, &env); err != nil {
		t.drop(log, "unparseable frame")
		return
	}

	atomic.AddInt64(&t.framesProcessed, 1)

	switch env.EventType {
	case models.EventTypeBook:
		t.handleBook(frame, log)
	case models.EventTypeTrade:
		t.handleTrade(frame, log)
	case models.EventTypePriceChange:
		t.handlePriceChange(frame, log)
	default:
		t.drop(log.WithFields(logger.Fields{"event_type": env.EventType}), "unknown event type")
	}
}

func (t *Translator) handleBook(frame models.RawFrame, log *logger.Entry) {
	var ev models.BookEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil {
		t.drop(log, "malformed book event")
		return
	}
	if ev.AssetID == "" {
		t.drop(log, "book event without asset id")
		return
	}

	// Late frames for tokens already removed from the active set are
	// expected; the feed keeps pushing until the connection dies.
	if !t.active.Contains(ev.AssetID) {
		atomic.AddInt64(&t.framesFiltered, 1)
		log.WithFields(logger.Fields{"token": ev.AssetID}).Debug("book event for inactive token, skipping")
		return
	}

	snap := models.NewOrderbookSnapshot(ev, t.config.Processor.OrderbookDepth, frame.ReceivedAt)

	fields, err := snap.Fields()
	if err != nil {
		t.drop(log, "failed to serialize snapshot")
		return
	}

	ttl := t.config.Processor.RecordTTL
	bookKey := store.OrderbookKey(ev.AssetID)
	priceKey := store.PriceKey(ev.AssetID)

	t.write(log, "orderbook", func(ctx context.Context) error {
		return t.cache.UpsertFields(ctx, bookKey, fields)
	})
	t.write(log, "orderbook_expiry", func(ctx context.Context) error {
		return t.cache.SetExpiry(ctx, bookKey, ttl)
	})
	t.write(log, "quote", func(ctx context.Context) error {
		return t.cache.UpsertFields(ctx, priceKey, snap.QuoteFields())
	})
	t.write(log, "quote_expiry", func(ctx context.Context) error {
		return t.cache.SetExpiry(ctx, priceKey, ttl)
	})
}

func (t *Translator) handleTrade(frame models.RawFrame, log *logger.Entry) {
	var ev models.TradeEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil {
		t.drop(log, "malformed trade event")
		return
	}
	if ev.AssetID == "" {
		t.drop(log, "trade event without asset id")
		return
	}

	if !t.active.Contains(ev.AssetID) {
		atomic.AddInt64(&t.framesFiltered, 1)
		log.WithFields(logger.Fields{"token": ev.AssetID}).Debug("trade event for inactive token, skipping")
		return
	}

	trade := models.NewTrade(ev, frame.ReceivedAt)
	payload, err := json.Marshal(trade)
	if err != nil {
		t.drop(log, "failed to serialize trade")
		return
	}

	t.write(log, "trade", func(ctx context.Context) error {
		return t.cache.PushCapped(ctx, store.TradesKey(ev.AssetID), string(payload), t.config.Processor.TradeHistoryLimit)
	})
}

// handlePriceChange updates the price record regardless of active-set
// membership, unlike the other two handlers. External quote readers rely on
// the record surviving control-set churn.
func (t *Translator) handlePriceChange(frame models.RawFrame, log *logger.Entry) {
	var ev models.PriceChangeEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil {
		t.drop(log, "malformed price change event")
		return
	}
	if ev.AssetID == "" {
		t.drop(log, "price change event without asset id")
		return
	}

	price := ev.Price
	if price == "" {
		price = "0"
	}

	fields := map[string]string{
		"last":       price,
		"lastUpdate": models.EpochMillis(frame.ReceivedAt),
	}

	priceKey := store.PriceKey(ev.AssetID)
	t.write(log, "price_change", func(ctx context.Context) error {
		return t.cache.UpsertFields(ctx, priceKey, fields)
	})
	t.write(log, "price_change_expiry", func(ctx context.Context) error {
		return t.cache.SetExpiry(ctx, priceKey, t.config.Processor.RecordTTL)
	})
}

// write performs one store operation, logging failures without retry or
// propagation; a lost write under a transient outage is accepted.
func (t *Translator) write(log *logger.Entry, op string, fn func(ctx context.Context) error) {
	ctx := t.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := fn(ctx); err != nil {
		atomic.AddInt64(&t.writesFailed, 1)
		log.WithFields(logger.Fields{"store_op": op}).WithError(err).Warn("store write failed")
	}
}

func (t *Translator) drop(log *logger.Entry, reason string) {
	atomic.AddInt64(&t.framesDropped, 1)
	logger.IncrementFrameDropped()
	log.WithFields(logger.Fields{"reason": reason}).Debug("frame dropped")
}

func (t *Translator) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.reportMetrics()
		}
	}
}

func (t *Translator) reportMetrics() {
	processed := atomic.LoadInt64(&t.framesProcessed)

	log := t.log.WithComponent("translator")
	log.WithFields(logger.Fields{
		"frames_processed": processed,
		"frames_dropped":   atomic.LoadInt64(&t.framesDropped),
		"frames_filtered":  atomic.LoadInt64(&t.framesFiltered),
		"writes_failed":    atomic.LoadInt64(&t.writesFailed),
	}).Info("translator metrics")

	logger.LogDataFlowEntry(log, "feed_ws", "store", int(processed), "frames")
}
