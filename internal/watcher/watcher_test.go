package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soroflow/streamwatch/internal/common"
	"github.com/soroflow/streamwatch/internal/logger"
	"github.com/soroflow/streamwatch/internal/rpc"
	"github.com/soroflow/streamwatch/internal/scval"
	"github.com/soroflow/streamwatch/internal/streams"
	"github.com/soroflow/streamwatch/pkg/config"
)

const testContractID = "CDLZFC3SYJYDZT7K67VZ75HPJVIEUVNIXF47ZG2FB2RMQQVU2HHGCYSC"

type fakeClient struct {
	getLatest func(ctx context.Context) (uint64, error)
	getEvents func(ctx context.Context, startLedger uint64, contractIDs []string, limit int) (*rpc.EventsResult, error)
}

func (f *fakeClient) GetLatestLedger(ctx context.Context) (uint64, error) {
	return f.getLatest(ctx)
}

func (f *fakeClient) GetEvents(ctx context.Context, startLedger uint64, contractIDs []string, limit int) (*rpc.EventsResult, error) {
	return f.getEvents(ctx, startLedger, contractIDs, limit)
}

type recordedEvent struct {
	eventType string
	ledger    uint64
}

type recordingHandler struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (h *recordingHandler) HandleEvent(eventType string, payload scval.Value, txHash, ledgerClosedAt string, ledger uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, recordedEvent{eventType: eventType, ledger: ledger})

	return h.err
}

func (h *recordingHandler) recorded() []recordedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]recordedEvent(nil), h.events...)
}

func testWatcherConfig() *config.WatcherConfig {
	cfg := &config.WatcherConfig{
		RPCURL:     "http://localhost:8000",
		ContractID: testContractID,
	}
	cfg.ApplyDefaults()
	cfg.PollInterval = common.NewDuration(10 * time.Millisecond)
	cfg.RetryDelay = common.NewDuration(10 * time.Millisecond)

	return cfg
}

func newTestWatcher(cfg *config.WatcherConfig, client SorobanClient, handler EventHandler) *Watcher {
	return NewWatcher(cfg, client, handler, logger.NewNopLogger())
}

func mustMarshal(t *testing.T, sv xdr.ScVal) string {
	t.Helper()

	encoded, err := xdr.MarshalBase64(sv)
	require.NoError(t, err)

	return encoded
}

func symVal(s string) xdr.ScVal {
	sym := xdr.ScSymbol(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
}

func strVal(s string) xdr.ScVal {
	str := xdr.ScString(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvString, Str: &str}
}

func u64Val(v uint64) xdr.ScVal {
	u := xdr.Uint64(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &u}
}

func i128Val(v int64) xdr.ScVal {
	parts := xdr.Int128Parts{Hi: 0, Lo: xdr.Uint64(v)}
	return xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}
}

func mapVal(entries ...xdr.ScMapEntry) xdr.ScVal {
	m := xdr.ScMap(entries)
	pm := &m
	return xdr.ScVal{Type: xdr.ScValTypeScvMap, Map: &pm}
}

func entry(key string, val xdr.ScVal) xdr.ScMapEntry {
	return xdr.ScMapEntry{Key: symVal(key), Val: val}
}

func createdEvent(t *testing.T, ledger uint64) rpc.RawEvent {
	t.Helper()

	value := mapVal(
		entry("stream_id", u64Val(42)),
		entry("sender", strVal("GAAAA")),
		entry("receiver", strVal("GBBBB")),
		entry("total_amount", i128Val(100000)),
	)

	return rpc.RawEvent{
		ID:                       "event-created",
		Type:                     "contract",
		Ledger:                   ledger,
		LedgerClosedAt:           "2026-08-20T10:15:04Z",
		ContractID:               testContractID,
		Topics:                   []string{mustMarshal(t, symVal("stream_created"))},
		Value:                    mustMarshal(t, value),
		TxHash:                   "txhash1",
		InSuccessfulContractCall: true,
	}
}

func TestBackoffDelay(t *testing.T) {
	retryDelay := 2 * time.Second

	tests := []struct {
		errorCount uint32
		expected   time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
		{64, 30 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, backoffDelay(tt.errorCount, retryDelay),
			"errorCount=%d", tt.errorCount)
	}
}

func TestWatcher_SeedsFromLatestLedger(t *testing.T) {
	client := &fakeClient{
		getLatest: func(context.Context) (uint64, error) { return 500, nil },
		getEvents: func(ctx context.Context, startLedger uint64, contractIDs []string, limit int) (*rpc.EventsResult, error) {
			assert.Equal(t, []string{testContractID}, contractIDs)
			assert.Equal(t, 100, limit)
			return &rpc.EventsResult{LatestLedger: 500}, nil
		},
	}

	w := newTestWatcher(testWatcherConfig(), client, &recordingHandler{})
	go func() { _ = w.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		state := w.State()
		return state.Running && state.LastProcessedLedger == 500
	}, time.Second, 5*time.Millisecond)

	w.Stop()
	assert.False(t, w.State().Running)
}

func TestWatcher_SeedFallbackToZero(t *testing.T) {
	var mu sync.Mutex
	var firstFetchStart uint64

	client := &fakeClient{
		getLatest: func(context.Context) (uint64, error) { return 0, errors.New("node unreachable") },
		getEvents: func(ctx context.Context, startLedger uint64, contractIDs []string, limit int) (*rpc.EventsResult, error) {
			mu.Lock()
			if firstFetchStart == 0 {
				firstFetchStart = startLedger
			}
			mu.Unlock()
			return &rpc.EventsResult{Events: []rpc.RawEvent{createdEvent(t, 10)}}, nil
		},
	}

	handler := &recordingHandler{}
	w := newTestWatcher(testWatcherConfig(), client, handler)
	go func() { _ = w.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return w.State().LastProcessedLedger == 10
	}, time.Second, 5*time.Millisecond)

	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint64(1), firstFetchStart, "seed failure should fall back to cursor 0")
}

func TestWatcher_EmptyBatchAdvancesCursorOnly(t *testing.T) {
	store := streams.NewMemoryStore()
	reconciler := streams.NewReconciler(store, logger.NewNopLogger())

	var mu sync.Mutex
	latest := uint64(100)

	client := &fakeClient{
		getLatest: func(context.Context) (uint64, error) {
			mu.Lock()
			defer mu.Unlock()
			latest += 10
			return latest, nil
		},
		getEvents: func(ctx context.Context, startLedger uint64, contractIDs []string, limit int) (*rpc.EventsResult, error) {
			return &rpc.EventsResult{}, nil
		},
	}

	w := newTestWatcher(testWatcherConfig(), client, reconciler)
	go func() { _ = w.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return w.State().LastProcessedLedger >= 130
	}, time.Second, 5*time.Millisecond)

	w.Stop()
	assert.Equal(t, 0, store.Len(), "empty batches must not create records")
}

func TestWatcher_EndToEndStreamCreated(t *testing.T) {
	store := streams.NewMemoryStore()
	reconciler := streams.NewReconciler(store, logger.NewNopLogger())

	var mu sync.Mutex
	delivered := false

	client := &fakeClient{
		getLatest: func(context.Context) (uint64, error) { return 1000, nil },
		getEvents: func(ctx context.Context, startLedger uint64, contractIDs []string, limit int) (*rpc.EventsResult, error) {
			mu.Lock()
			defer mu.Unlock()
			if delivered {
				return &rpc.EventsResult{LatestLedger: 1084}, nil
			}
			delivered = true
			return &rpc.EventsResult{Events: []rpc.RawEvent{createdEvent(t, 1084)}}, nil
		},
	}

	w := newTestWatcher(testWatcherConfig(), client, reconciler)
	go func() { _ = w.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return store.Len() == 1
	}, time.Second, 5*time.Millisecond)

	w.Stop()

	record, err := store.GetByStreamID("42")
	require.NoError(t, err)
	assert.Equal(t, "100000", record.TotalAmount.String())
	assert.Equal(t, "0", record.Withdrawn.String())
	assert.Equal(t, "GAAAA", record.Sender)
	assert.Equal(t, "GBBBB", record.Receiver)
	assert.Equal(t, uint64(1084), w.State().LastProcessedLedger)
}

func TestWatcher_StopsAfterMaxRetries(t *testing.T) {
	cfg := testWatcherConfig()
	cfg.MaxRetries = 3
	cfg.RetryDelay = common.NewDuration(time.Millisecond)

	client := &fakeClient{
		getLatest: func(context.Context) (uint64, error) { return 100, nil },
		getEvents: func(ctx context.Context, startLedger uint64, contractIDs []string, limit int) (*rpc.EventsResult, error) {
			return nil, errors.New("node unreachable")
		},
	}

	w := newTestWatcher(cfg, client, &recordingHandler{})

	done := make(chan struct{})
	go func() {
		_ = w.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after max retries")
	}

	state := w.State()
	assert.False(t, state.Running)
	assert.Equal(t, uint32(3), state.ErrorCount)
	assert.Error(t, state.LastError)
}

func TestWatcher_SkipsMalformedValue(t *testing.T) {
	good := createdEvent(t, 21)
	bad := createdEvent(t, 20)
	bad.ID = "event-bad"
	bad.Value = "not-base64!!!"

	var mu sync.Mutex
	delivered := false

	client := &fakeClient{
		getLatest: func(context.Context) (uint64, error) { return 10, nil },
		getEvents: func(ctx context.Context, startLedger uint64, contractIDs []string, limit int) (*rpc.EventsResult, error) {
			mu.Lock()
			defer mu.Unlock()
			if delivered {
				return &rpc.EventsResult{LatestLedger: 21}, nil
			}
			delivered = true
			return &rpc.EventsResult{Events: []rpc.RawEvent{bad, good}}, nil
		},
	}

	handler := &recordingHandler{}
	w := newTestWatcher(testWatcherConfig(), client, handler)
	go func() { _ = w.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return w.State().LastProcessedLedger == 21
	}, time.Second, 5*time.Millisecond)

	w.Stop()

	events := handler.recorded()
	require.Len(t, events, 1, "malformed event must be skipped")
	assert.Equal(t, "stream_created", events[0].eventType)
	assert.Equal(t, uint64(21), events[0].ledger)
}

func TestWatcher_HandlerErrorDoesNotAbortBatch(t *testing.T) {
	first := createdEvent(t, 30)
	second := createdEvent(t, 31)
	second.ID = "event-second"

	var mu sync.Mutex
	delivered := false

	client := &fakeClient{
		getLatest: func(context.Context) (uint64, error) { return 10, nil },
		getEvents: func(ctx context.Context, startLedger uint64, contractIDs []string, limit int) (*rpc.EventsResult, error) {
			mu.Lock()
			defer mu.Unlock()
			if delivered {
				return &rpc.EventsResult{LatestLedger: 31}, nil
			}
			delivered = true
			return &rpc.EventsResult{Events: []rpc.RawEvent{first, second}}, nil
		},
	}

	handler := &recordingHandler{err: errors.New("store unavailable")}
	w := newTestWatcher(testWatcherConfig(), client, handler)
	go func() { _ = w.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return len(handler.recorded()) == 2
	}, time.Second, 5*time.Millisecond)

	w.Stop()

	// Both events were attempted even though the handler failed each one.
	assert.Len(t, handler.recorded(), 2)
	// A failed dispatch does not advance the cursor for that event.
	assert.Equal(t, uint64(10), w.State().LastProcessedLedger)
}

func TestWatcher_StartTwiceIsNoop(t *testing.T) {
	client := &fakeClient{
		getLatest: func(context.Context) (uint64, error) { return 100, nil },
		getEvents: func(ctx context.Context, startLedger uint64, contractIDs []string, limit int) (*rpc.EventsResult, error) {
			return &rpc.EventsResult{}, nil
		},
	}

	w := newTestWatcher(testWatcherConfig(), client, &recordingHandler{})
	go func() { _ = w.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return w.State().Running
	}, time.Second, 5*time.Millisecond)

	// Second start returns immediately without touching the running loop.
	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.State().Running)

	w.Stop()
}

func TestWatcher_StopWhenNotRunningIsNoop(t *testing.T) {
	w := newTestWatcher(testWatcherConfig(), &fakeClient{}, &recordingHandler{})
	w.Stop()
	assert.False(t, w.State().Running)
}

func TestSetCursor_NeverDecreases(t *testing.T) {
	w := newTestWatcher(testWatcherConfig(), &fakeClient{}, &recordingHandler{})

	w.setCursor(100)
	w.setCursor(50)
	assert.Equal(t, uint64(100), w.State().LastProcessedLedger)

	w.setCursor(101)
	assert.Equal(t, uint64(101), w.State().LastProcessedLedger)
}
