package feed

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	appconfig "clobrelay/config"
	"clobrelay/logger"
	"clobrelay/models"
	"clobrelay/subscription"
)

const writeWait = 10 * time.Second

// Manager owns the single feed socket: dialing, heartbeat, the bounded
// reconnect policy and subscribe frames. Inbound frames are pushed onto the
// raw channel for the translator; frames that arrive while the channel is
// full are dropped, never queued.
type Manager struct {
	config  *appconfig.Config
	subs    *subscription.Set
	rawChan chan<- models.RawFrame
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	limiter *rate.Limiter
	errCh   chan error

	connMu   sync.Mutex
	conn     *websocket.Conn
	attempts int
}

func NewManager(cfg *appconfig.Config, subs *subscription.Set, rawChan chan<- models.RawFrame) *Manager {
	return &Manager{
		config:  cfg,
		subs:    subs,
		rawChan: rawChan,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
		limiter: rate.NewLimiter(rate.Limit(cfg.Feed.SubscribesPerSecond), cfg.Feed.SubscribeBurst),
		errCh:   make(chan error, 1),
	}
}

// Start opens the feed connection loop. It returns immediately; a permanent
// connection failure is reported on Err.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("connection manager already running")
	}
	m.running = true
	m.ctx = ctx
	m.mu.Unlock()

	log := m.log.WithComponent("feed_connection").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"url":           m.config.Feed.URL,
		"ping_interval": m.config.Feed.PingInterval,
		"max_attempts":  m.config.Feed.MaxReconnectAttempts,
	}).Info("starting connection manager")

	m.wg.Add(1)
	go m.run()

	log.Info("connection manager started successfully")
	return nil
}

// Stop waits for the connection loop to finish. The caller is expected to
// cancel the context passed to Start first.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.log.WithComponent("feed_connection").Info("stopping connection manager")
	m.wg.Wait()
	m.log.WithComponent("feed_connection").Info("connection manager stopped")
}

// Err reports a permanent connection failure. Receiving on it means the
// reconnect budget is exhausted and the process should exit.
func (m *Manager) Err() <-chan error {
	return m.errCh
}

// runContext returns the context installed by Start. Reconciliation may call
// Subscribe before the manager has started, so the field is read under the
// lock and Background stands in until Start runs.
func (m *Manager) runContext() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

// Subscribe builds and sends the declarative "watch this token" frame. It is
// called from reconciliation for new tokens and from post-reconnect
// resubscription; while the socket is down it is a no-op.
func (m *Manager) Subscribe(token string) {
	if err := m.limiter.Wait(m.runContext()); err != nil {
		return
	}
	if m.Send(models.NewSubscribeFrame(token)) {
		logger.IncrementSubscribe()
		m.log.WithComponent("feed_connection").WithFields(logger.Fields{"token": token}).Debug("subscribe frame sent")
	}
}

// Send transmits a frame when the socket is currently open and reports
// whether it was written. A closed socket makes it a silent no-op; frames are
// never queued for later.
func (m *Manager) Send(v interface{}) bool {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.conn == nil {
		m.log.WithComponent("feed_connection").Debug("socket not open, dropping outbound frame")
		return false
	}
	if err := m.conn.WriteJSON(v); err != nil {
		m.log.WithComponent("feed_connection").WithError(err).Warn("failed to write outbound frame")
		return false
	}
	return true
}

func (m *Manager) run() {
	defer m.wg.Done()

	for {
		if m.ctx.Err() != nil {
			return
		}

		connID := uuid.NewString()[:8]
		log := m.log.WithComponent("feed_connection").WithFields(logger.Fields{"conn_id": connID})

		conn, err := m.dial()
		if err != nil {
			log.WithError(err).Warn("failed to open feed socket")
			if m.backoff() {
				m.abandon(err)
				return
			}
			continue
		}

		m.setConn(conn)
		logger.IncrementReconnect()
		log.Info("feed socket connected")
		log.LogMetric("feed_connection", "socket_connections", 1, "counter", nil)

		m.resubscribe(log)

		err = m.session(conn, connID, log)
		m.clearConn()

		if m.ctx.Err() != nil {
			return
		}

		log.WithError(err).Warn("feed socket closed")
		if m.backoff() {
			m.abandon(err)
			return
		}
	}
}

func (m *Manager) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: m.config.Feed.HandshakeTimeout}

	header := http.Header{}
	header.Set("X-Api-Key", m.config.Feed.APIKey)
	header.Set("X-Api-Secret", m.config.Feed.APISecret)

	conn, _, err := dialer.DialContext(m.ctx, m.config.Feed.URL, header)
	return conn, err
}

// setConn installs the new socket and resets the attempt counter; the feed
// counts failures consecutively, not cumulatively.
func (m *Manager) setConn(conn *websocket.Conn) {
	m.connMu.Lock()
	m.conn = conn
	m.attempts = 0
	m.connMu.Unlock()
}

func (m *Manager) clearConn() {
	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()
}

// backoff counts one failure and waits out the fixed reconnect delay. It
// reports true when the attempt budget is exhausted; the delay is constant,
// not exponential.
func (m *Manager) backoff() (fatal bool) {
	m.connMu.Lock()
	m.attempts++
	attempts := m.attempts
	m.connMu.Unlock()

	if attempts >= m.config.Feed.MaxReconnectAttempts {
		return true
	}

	select {
	case <-m.ctx.Done():
		return false
	case <-time.After(m.config.Feed.ReconnectDelay):
		return false
	}
}

func (m *Manager) abandon(err error) {
	m.connMu.Lock()
	attempts := m.attempts
	m.connMu.Unlock()

	failure := fmt.Errorf("feed connection abandoned after %d attempts: %w", attempts, err)
	m.log.WithComponent("feed_connection").WithError(failure).Error("reconnect budget exhausted")

	select {
	case m.errCh <- failure:
	default:
	}
}

// resubscribe replays the full active set; the feed has no incremental
// subscribe memory across reconnects.
func (m *Manager) resubscribe(log *logger.Entry) {
	tokens := m.subs.Tokens()
	if len(tokens) == 0 {
		return
	}

	log.WithFields(logger.Fields{"tokens": len(tokens)}).Info("resubscribing active tokens")
	for _, token := range tokens {
		m.Subscribe(token)
	}
}

// session runs the heartbeat and the read loop until the socket errors or the
// context is cancelled.
func (m *Manager) session(conn *websocket.Conn, connID string, log *logger.Entry) error {
	done := make(chan struct{})
	defer close(done)

	// Unblock the read loop on shutdown.
	go func() {
		select {
		case <-m.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	m.wg.Add(1)
	go m.heartbeat(conn, done, log)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		logger.IncrementFrameRead(len(data))

		frame := models.RawFrame{
			ConnID:     connID,
			Data:       data,
			ReceivedAt: time.Now(),
		}

		select {
		case m.rawChan <- frame:
			logger.RecordChannelMessage("raw_frames", len(data))
		case <-m.ctx.Done():
			return m.ctx.Err()
		default:
			logger.IncrementFrameDropped()
			log.Warn("raw channel is full, dropping frame")
		}
	}
}

// heartbeat sends a protocol ping on a fixed interval while the session is
// up. Pongs are not tracked, so a stalled-but-open socket rides until the
// transport notices.
func (m *Manager) heartbeat(conn *websocket.Conn, done <-chan struct{}, log *logger.Entry) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Feed.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.connMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			m.connMu.Unlock()
			if err != nil {
				log.WithError(err).Warn("heartbeat ping failed")
				return
			}
		}
	}
}
