package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/soroflow/streamwatch/internal/common"
	"github.com/soroflow/streamwatch/internal/logger"
	"github.com/soroflow/streamwatch/internal/metrics"
	"github.com/soroflow/streamwatch/internal/rpc"
	"github.com/soroflow/streamwatch/internal/scval"
	"github.com/soroflow/streamwatch/pkg/config"
)

// maxBackoffDelay caps the exponential backoff between failed poll cycles.
const maxBackoffDelay = 30 * time.Second

// SorobanClient is the node query surface the watcher depends on.
type SorobanClient interface {
	GetLatestLedger(ctx context.Context) (uint64, error)
	GetEvents(ctx context.Context, startLedger uint64, contractIDs []string, limit int) (*rpc.EventsResult, error)
}

// EventHandler consumes decoded events. Handler errors are isolated per
// event; they never abort the batch or the poll loop.
type EventHandler interface {
	HandleEvent(eventType string, payload scval.Value, txHash, ledgerClosedAt string, ledger uint64) error
}

// State is a snapshot of the watcher's poll state.
type State struct {
	LastProcessedLedger uint64
	Running             bool
	ErrorCount          uint32
	LastError           error
}

// Watcher owns the ledger cursor and polls the node for contract events.
// Exactly one poll is in flight at a time; the cursor only moves forward.
type Watcher struct {
	cfg     *config.WatcherConfig
	client  SorobanClient
	handler EventHandler
	logger  *logger.Logger

	mu                  sync.Mutex
	running             bool
	lastProcessedLedger uint64
	errorCount          uint32
	lastError           error
	cancel              context.CancelFunc
	done                chan struct{}
}

// NewWatcher creates a watcher polling for events of the configured contract.
func NewWatcher(cfg *config.WatcherConfig, client SorobanClient, handler EventHandler, log *logger.Logger) *Watcher {
	return &Watcher{
		cfg:     cfg,
		client:  client,
		handler: handler,
		logger:  log.WithComponent(common.ComponentWatcher),
	}
}

// Start seeds the cursor from the node's latest ledger and runs the poll
// loop until Stop is called, the context is canceled, or maxRetries
// consecutive failures stop the watcher. It blocks for the lifetime of the
// loop and is a no-op when the watcher is already running.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.logger.Warn("watcher already running")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.errorCount = 0
	w.lastError = nil
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	// Seeding failure is not fatal: starting from 0 only means the first
	// fetch covers more history than usual.
	seed, err := w.client.GetLatestLedger(runCtx)
	if err != nil {
		w.logger.Warnw("failed to query latest ledger, starting from 0", "error", err)
		seed = 0
	}
	w.setCursor(seed)

	w.logger.Infow("watcher started",
		"contractId", w.cfg.ContractID,
		"startLedger", seed,
		"pollInterval", w.cfg.PollInterval.Duration.String())
	metrics.ComponentHealthSet(common.ComponentWatcher, true)

	w.pollLoop(runCtx)

	w.mu.Lock()
	w.running = false
	close(w.done)
	w.mu.Unlock()

	metrics.ComponentHealthSet(common.ComponentWatcher, false)
	w.logger.Info("watcher stopped")

	return nil
}

// Stop cancels the poll loop and waits for in-flight work to finish.
// It is a no-op when the watcher is not running.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done
}

// State returns a snapshot of the watcher's current poll state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	return State{
		LastProcessedLedger: w.lastProcessedLedger,
		Running:             w.running,
		ErrorCount:          w.errorCount,
		LastError:           w.lastError,
	}
}

func (w *Watcher) pollLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := w.pollOnce(ctx)
		if err == nil {
			w.mu.Lock()
			w.errorCount = 0
			w.mu.Unlock()

			if !w.sleep(ctx, w.cfg.PollInterval.Duration) {
				return
			}
			continue
		}

		w.mu.Lock()
		w.errorCount++
		w.lastError = err
		errorCount := w.errorCount
		w.mu.Unlock()

		delay := backoffDelay(errorCount, w.cfg.RetryDelay.Duration)
		w.logger.Warnw("poll cycle failed",
			"error", err,
			"errorCount", errorCount,
			"backoff", delay.String())
		metrics.WatcherBackoffInc()
		metrics.ErrorInc(common.ComponentWatcher, "transient")

		if !w.sleep(ctx, delay) {
			return
		}

		if int(errorCount) >= w.cfg.MaxRetries {
			w.logger.Errorw("max retries reached, stopping watcher",
				"maxRetries", w.cfg.MaxRetries, "lastError", err)
			metrics.ErrorInc(common.ComponentWatcher, "fatal")
			return
		}
	}
}

// pollOnce runs one fetch-decode-dispatch cycle. Only fetch errors are
// returned; per-event failures are logged and skipped.
func (w *Watcher) pollOnce(ctx context.Context) error {
	startLedger := w.cursor() + 1

	result, err := w.client.GetEvents(ctx, startLedger, []string{w.cfg.ContractID}, w.cfg.EventBatchLimit)
	if err != nil {
		return err
	}

	if len(result.Events) == 0 {
		// Quiet period: move the cursor to the node's latest ledger so the
		// next fetch does not rescan empty history.
		latest, err := w.client.GetLatestLedger(ctx)
		if err != nil {
			return err
		}
		w.setCursor(latest)
		return nil
	}

	for _, raw := range result.Events {
		if err := w.processEvent(raw); err != nil {
			w.logger.Warnw("skipping event", "id", raw.ID, "ledger", raw.Ledger, "error", err)
			continue
		}
		w.setCursor(raw.Ledger)
	}

	return nil
}

func (w *Watcher) processEvent(raw rpc.RawEvent) error {
	parsed, err := parseEvent(raw)
	if err != nil {
		metrics.DecodeFailureInc("value")
		return err
	}

	topics := make([]interface{}, 0, len(parsed.Topics))
	for _, topic := range parsed.Topics {
		topics = append(topics, topic.Interface())
	}

	// Audit record: one line per decoded event, whatever the lifecycle
	// handling does with it.
	w.logger.Infow("contract event",
		"id", parsed.ID,
		"type", parsed.EventType,
		"ledger", parsed.Ledger,
		"closedAt", parsed.LedgerClosedAt,
		"contractId", parsed.ContractID,
		"txHash", parsed.TxHash,
		"topics", topics,
		"value", parsed.Value.Interface(),
		"inSuccessfulContractCall", parsed.InSuccessfulContractCall)
	metrics.EventProcessedInc(parsed.EventType)

	return w.handler.HandleEvent(parsed.EventType, parsed.Value,
		parsed.TxHash, parsed.LedgerClosedAt, parsed.Ledger)
}

func (w *Watcher) cursor() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.lastProcessedLedger
}

// setCursor advances the cursor. It never moves backwards.
func (w *Watcher) setCursor(ledger uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ledger > w.lastProcessedLedger {
		w.lastProcessedLedger = ledger
		metrics.LastProcessedLedgerSet(ledger)
	}
}

// sleep waits for the given duration. Returns false when the context was
// canceled before the wait finished.
func (w *Watcher) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// backoffDelay returns retryDelay doubled per consecutive failure, capped at
// maxBackoffDelay.
func backoffDelay(errorCount uint32, retryDelay time.Duration) time.Duration {
	if errorCount == 0 {
		errorCount = 1
	}

	shift := errorCount - 1
	if shift > 16 {
		return maxBackoffDelay
	}

	delay := retryDelay << shift
	if delay > maxBackoffDelay || delay <= 0 {
		return maxBackoffDelay
	}

	return delay
}
