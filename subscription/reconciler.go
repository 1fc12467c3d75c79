package subscription

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appconfig "clobrelay/config"
	"clobrelay/logger"
)

// ControlStore reads the externally maintained desired-token set.
type ControlStore interface {
	ReadSetMembers(ctx context.Context, key string) ([]string, error)
}

// Subscriber is invoked for every token newly added to the active set. There
// is no unsubscribe counterpart; removals are local bookkeeping only.
type Subscriber interface {
	Subscribe(token string)
}

// Reconciler periodically diffs the desired set in the control store against
// the locally tracked active set and applies only the delta. It runs on a
// fixed period regardless of connection state.
type Reconciler struct {
	config     *appconfig.Config
	store      ControlStore
	subscriber Subscriber
	active     *Set
	ctx        context.Context
	wg         *sync.WaitGroup
	mu         sync.RWMutex
	running    bool
	log        *logger.Log

	// Metrics
	passes  int64
	added   int64
	removed int64
}

func NewReconciler(cfg *appconfig.Config, store ControlStore, subscriber Subscriber, active *Set) *Reconciler {
	return &Reconciler{
		config:     cfg,
		store:      store,
		subscriber: subscriber,
		active:     active,
		wg:         &sync.WaitGroup{},
		log:        logger.GetLogger(),
	}
}

// Start runs an immediate reconciliation pass and then repeats on the
// configured interval until the context is cancelled.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reconciler already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("reconciler").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"interval": r.config.Reconciler.Interval,
		"key":      r.config.Store.SubscriptionsKey,
	}).Info("starting reconciler")

	r.wg.Add(1)
	go r.loop()

	log.Info("reconciler started successfully")
	return nil
}

func (r *Reconciler) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("reconciler").Info("stopping reconciler")
	r.wg.Wait()
	r.log.WithComponent("reconciler").Info("reconciler stopped")
}

func (r *Reconciler) loop() {
	defer r.wg.Done()

	log := r.log.WithComponent("reconciler").WithFields(logger.Fields{"worker": "reconcile_loop"})

	// First pass straight away so the feed is subscribed before the first tick.
	r.reconcile(r.ctx)

	ticker := time.NewTicker(r.config.Reconciler.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			log.Info("reconcile loop stopped due to context cancellation")
			return
		case <-ticker.C:
			r.reconcile(r.ctx)
		}
	}
}

// reconcile applies one desired-vs-active diff. Running it twice with an
// unchanged desired set performs no actions.
func (r *Reconciler) reconcile(ctx context.Context) {
	log := r.log.WithComponent("reconciler").WithFields(logger.Fields{"operation": "reconcile"})

	start := time.Now()

	desired, err := r.store.ReadSetMembers(ctx, r.config.Store.SubscriptionsKey)
	if err != nil {
		log.WithError(err).Warn("failed to read control set, skipping pass")
		return
	}

	atomic.AddInt64(&r.passes, 1)

	want := make(map[string]struct{}, len(desired))
	added, removed := 0, 0

	for _, token := range desired {
		if token == "" {
			continue
		}
		want[token] = struct{}{}
		if r.active.Add(token) {
			r.subscriber.Subscribe(token)
			added++
		}
	}

	for _, token := range r.active.Tokens() {
		if _, ok := want[token]; !ok {
			// No unsubscribe frame exists; the translator's membership
			// filter drops anything the feed keeps pushing for this token.
			r.active.Remove(token)
			removed++
		}
	}

	atomic.AddInt64(&r.added, int64(added))
	atomic.AddInt64(&r.removed, int64(removed))

	if added > 0 || removed > 0 {
		log.WithFields(logger.Fields{
			"desired": len(want),
			"active":  r.active.Len(),
			"added":   added,
			"removed": removed,
		}).Info("subscription set reconciled")
		r.log.LogMetric("reconciler", "subscription_changes", added+removed, "counter", logger.Fields{
			"added":   fmt.Sprintf("%d", added),
			"removed": fmt.Sprintf("%d", removed),
		})
		logger.LogPerformanceEntry(log, "reconciler", "reconcile", time.Since(start), logger.Fields{
			"desired": len(want),
		})
	}
}
