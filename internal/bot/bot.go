package bot

import (
	"sync"
	"time"

	"momentum-trader-go/internal/broker"
	"momentum-trader-go/internal/config"
	"momentum-trader-go/internal/store"

	"go.uber.org/zap"
)

// Broadcaster pushes JSON events to connected UI clients. The websocket
// hub implements it; tests substitute a recorder.
type Broadcaster interface {
	Broadcast(eventType string, data interface{})
}

// Bot is the explicitly-constructed context shared by every component:
// broker session, store, event hub and configuration. It is passed by
// handle everywhere; there are no ambient singletons.
type Bot struct {
	logger *zap.Logger
	cfg    *config.Config
	store  *store.Store
	broker broker.Broker
	hub    Broadcaster

	fillTimeout time.Duration
	now         func() time.Time // injectable clock for tests

	mu            sync.Mutex
	lastExecution *ExecutionSummary
	spyQualified  bool

	scanMu      sync.Mutex
	scanCancel  func()
	scanRunning bool
}

// New wires a Bot from its collaborators.
func New(logger *zap.Logger, cfg *config.Config, st *store.Store, br broker.Broker, hub Broadcaster) *Bot {
	fillTimeout := time.Duration(cfg.Gateway.FillTimeoutSec) * time.Second
	if fillTimeout <= 0 {
		fillTimeout = 60 * time.Second
	}
	return &Bot{
		logger:      logger,
		cfg:         cfg,
		store:       st,
		broker:      br,
		hub:         hub,
		fillTimeout: fillTimeout,
		now:         time.Now,
	}
}

// LastExecution returns the most recent execution summary, or nil when no
// execution has run since startup.
func (b *Bot) LastExecution() *ExecutionSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastExecution == nil {
		return nil
	}
	cp := *b.lastExecution
	return &cp
}

func (b *Bot) setLastExecution(summary *ExecutionSummary) {
	b.mu.Lock()
	b.lastExecution = summary
	b.mu.Unlock()
}

// BrokerConnected reports the broker session state for the status API.
func (b *Bot) BrokerConnected() bool {
	return b.broker.IsConnected()
}

// ensureConnected attempts one reconnect when the broker session is down.
func (b *Bot) ensureConnected() error {
	if b.broker.IsConnected() {
		return nil
	}
	b.logger.Warn("Broker not connected, attempting reconnect")
	return b.broker.Connect()
}
