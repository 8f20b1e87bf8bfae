package streams

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soroflow/streamwatch/internal/logger"
	"github.com/soroflow/streamwatch/internal/scval"
)

func newTestReconciler(t *testing.T) (*Reconciler, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	return NewReconciler(store, logger.NewNopLogger()), store
}

func createdPayload(streamID string, totalAmount int64) scval.Value {
	return scval.Mapping(map[string]scval.Value{
		"stream_id":    scval.Text(streamID),
		"sender":       scval.Text("GAAAA"),
		"receiver":     scval.Text("GBBBB"),
		"total_amount": scval.BigInt(big.NewInt(totalAmount)),
		"duration":     scval.Int64(3600),
	})
}

func TestReconciler_UpsertCreatedStream(t *testing.T) {
	r, store := newTestReconciler(t)

	err := r.UpsertCreatedStream(createdPayload("42", 100000), "txhash1", "2026-08-20T10:15:04Z", 1084)
	require.NoError(t, err)

	record, err := store.GetByStreamID("42")
	require.NoError(t, err)
	assert.Equal(t, "42", record.StreamID)
	assert.Equal(t, "txhash1", record.TxHash)
	assert.Equal(t, "GAAAA", record.Sender)
	assert.Equal(t, "GBBBB", record.Receiver)
	assert.Equal(t, "100000", record.TotalAmount.String())
	assert.Equal(t, "0", record.Withdrawn.String())
	assert.Equal(t, int64(3600), record.Duration)
	assert.Equal(t, StatusCreated, record.Status)
	assert.Equal(t, "2026-08-20T10:15:04Z", record.CreatedAt)
	assert.Equal(t, uint64(1084), record.LastLedger)
	assert.False(t, record.Closed())
}

func TestReconciler_UpsertCreatedStream_NumericStreamID(t *testing.T) {
	r, store := newTestReconciler(t)

	payload := scval.Mapping(map[string]scval.Value{
		"stream_id":    scval.BigInt(big.NewInt(42)),
		"total_amount": scval.BigInt(big.NewInt(100000)),
	})

	require.NoError(t, r.UpsertCreatedStream(payload, "tx", "2026-01-01T00:00:00Z", 1))

	record, err := store.GetByStreamID("42")
	require.NoError(t, err)
	assert.Equal(t, UnknownParty, record.Sender)
	assert.Equal(t, UnknownParty, record.Receiver)
}

func TestReconciler_UpsertCreatedStream_AmountFallback(t *testing.T) {
	r, store := newTestReconciler(t)

	// No total_amount, generic amount field only.
	payload := scval.Mapping(map[string]scval.Value{
		"stream_id": scval.Text("7"),
		"amount":    scval.Int64(500),
	})

	require.NoError(t, r.UpsertCreatedStream(payload, "tx", "", 1))

	record, err := store.GetByStreamID("7")
	require.NoError(t, err)
	assert.Equal(t, "500", record.TotalAmount.String())
}

func TestReconciler_UpsertCreatedStream_MissingAmountIsNoop(t *testing.T) {
	r, store := newTestReconciler(t)

	payload := scval.Mapping(map[string]scval.Value{
		"stream_id": scval.Text("42"),
		"sender":    scval.Text("GAAAA"),
	})

	require.NoError(t, r.UpsertCreatedStream(payload, "tx", "", 1))
	assert.Equal(t, 0, store.Len())
}

func TestReconciler_UpsertCreatedStream_MissingStreamIDIsNoop(t *testing.T) {
	r, store := newTestReconciler(t)

	payload := scval.Mapping(map[string]scval.Value{
		"total_amount": scval.Int64(1000),
	})

	require.NoError(t, r.UpsertCreatedStream(payload, "tx", "", 1))
	assert.Equal(t, 0, store.Len())
}

func TestReconciler_UpsertCreatedStream_Redelivery(t *testing.T) {
	r, store := newTestReconciler(t)

	require.NoError(t, r.UpsertCreatedStream(createdPayload("42", 100000), "tx", "2026-01-01T00:00:00Z", 10))
	require.NoError(t, r.RegisterWithdrawal(withdrawalPayload("42", 300), 11))

	// Same create event delivered again must not reset the withdrawal counter.
	require.NoError(t, r.UpsertCreatedStream(createdPayload("42", 100000), "tx", "2026-01-01T00:00:00Z", 10))

	record, err := store.GetByStreamID("42")
	require.NoError(t, err)
	assert.Equal(t, "300", record.Withdrawn.String())
	assert.Equal(t, StatusActive, record.Status)
	assert.Equal(t, 1, store.Len())
}

func withdrawalPayload(streamID string, amount int64) scval.Value {
	return scval.Mapping(map[string]scval.Value{
		"stream_id": scval.Text(streamID),
		"amount":    scval.BigInt(big.NewInt(amount)),
	})
}

func TestReconciler_RegisterWithdrawal_Accumulates(t *testing.T) {
	r, store := newTestReconciler(t)

	require.NoError(t, r.UpsertCreatedStream(createdPayload("42", 1000), "tx", "", 1))
	require.NoError(t, r.RegisterWithdrawal(withdrawalPayload("42", 300), 2))
	require.NoError(t, r.RegisterWithdrawal(withdrawalPayload("42", 200), 3))

	record, err := store.GetByStreamID("42")
	require.NoError(t, err)
	assert.Equal(t, "500", record.Withdrawn.String())
	assert.Equal(t, StatusActive, record.Status)
	assert.Equal(t, uint64(3), record.LastLedger)
}

func TestReconciler_RegisterWithdrawal_CompletesStream(t *testing.T) {
	r, store := newTestReconciler(t)

	require.NoError(t, r.UpsertCreatedStream(createdPayload("42", 1000), "tx", "", 1))
	require.NoError(t, r.RegisterWithdrawal(withdrawalPayload("42", 1000), 2))

	record, err := store.GetByStreamID("42")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, record.Status)
}

func TestReconciler_RegisterWithdrawal_UnknownStreamIsNoop(t *testing.T) {
	r, store := newTestReconciler(t)

	require.NoError(t, r.RegisterWithdrawal(withdrawalPayload("404", 100), 1))
	assert.Equal(t, 0, store.Len())
}

func TestReconciler_RegisterWithdrawal_NegativeAmountIsNoop(t *testing.T) {
	r, store := newTestReconciler(t)

	require.NoError(t, r.UpsertCreatedStream(createdPayload("42", 1000), "tx", "", 1))
	require.NoError(t, r.RegisterWithdrawal(withdrawalPayload("42", -50), 2))

	record, err := store.GetByStreamID("42")
	require.NoError(t, err)
	assert.Equal(t, "0", record.Withdrawn.String())
}

func TestReconciler_CancelStream(t *testing.T) {
	r, store := newTestReconciler(t)

	require.NoError(t, r.UpsertCreatedStream(createdPayload("42", 1000), "tx", "", 1))
	require.NoError(t, r.RegisterWithdrawal(withdrawalPayload("42", 300), 2))

	payload := scval.Mapping(map[string]scval.Value{
		"stream_id":   scval.Text("42"),
		"to_receiver": scval.BigInt(big.NewInt(450)),
		"to_sender":   scval.BigInt(big.NewInt(550)),
	})

	summary, err := r.CancelStream(payload, "2026-08-21T00:00:00Z", 5)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "42", summary.StreamID)
	assert.Equal(t, "1000", summary.OriginalTotal.String())
	assert.Equal(t, "450", summary.FinalStreamed.String())
	assert.Equal(t, "550", summary.RemainingUnstreamed.String())

	record, err := store.GetByStreamID("42")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, record.Status)
	assert.Equal(t, "2026-08-21T00:00:00Z", record.ClosedAt)
	assert.True(t, record.Closed())

	// The withdrawal counter is tracked independently of the cancel split.
	assert.Equal(t, "300", record.Withdrawn.String())
}

func TestReconciler_CancelStream_UnknownStreamIsNoop(t *testing.T) {
	r, _ := newTestReconciler(t)

	payload := scval.Mapping(map[string]scval.Value{
		"stream_id": scval.Text("404"),
	})

	summary, err := r.CancelStream(payload, "2026-08-21T00:00:00Z", 5)
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestReconciler_TransferStream(t *testing.T) {
	r, store := newTestReconciler(t)

	require.NoError(t, r.UpsertCreatedStream(createdPayload("42", 1000), "tx", "", 1))

	payload := scval.Mapping(map[string]scval.Value{
		"stream_id":    scval.Text("42"),
		"new_receiver": scval.Text("GCCCC"),
	})

	require.NoError(t, r.TransferStream(payload, 9))

	record, err := store.GetByStreamID("42")
	require.NoError(t, err)
	assert.Equal(t, "GCCCC", record.Receiver)
	assert.Equal(t, uint64(9), record.LastLedger)
}

func TestReconciler_TransferStream_MissingReceiverIsNoop(t *testing.T) {
	r, store := newTestReconciler(t)

	require.NoError(t, r.UpsertCreatedStream(createdPayload("42", 1000), "tx", "", 1))

	payload := scval.Mapping(map[string]scval.Value{
		"stream_id": scval.Text("42"),
	})

	require.NoError(t, r.TransferStream(payload, 9))

	record, err := store.GetByStreamID("42")
	require.NoError(t, err)
	assert.Equal(t, "GBBBB", record.Receiver)
}

func TestReconciler_HandleEvent_Dispatch(t *testing.T) {
	r, store := newTestReconciler(t)

	require.NoError(t, r.HandleEvent(EventStreamCreated, createdPayload("42", 1000), "tx", "2026-01-01T00:00:00Z", 1))
	require.NoError(t, r.HandleEvent(EventStreamWithdrawn, withdrawalPayload("42", 100), "tx", "", 2))

	cancelPayload := scval.Mapping(map[string]scval.Value{
		"stream_id":   scval.Text("42"),
		"to_receiver": scval.Int64(100),
		"to_sender":   scval.Int64(900),
	})
	require.NoError(t, r.HandleEvent(EventStreamCancelled, cancelPayload, "tx", "2026-01-02T00:00:00Z", 3))

	record, err := store.GetByStreamID("42")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, record.Status)
	assert.Equal(t, "100", record.Withdrawn.String())
}

func TestReconciler_HandleEvent_UnknownTypeIgnored(t *testing.T) {
	r, store := newTestReconciler(t)

	payload := scval.Mapping(map[string]scval.Value{"stream_id": scval.Text("42")})
	require.NoError(t, r.HandleEvent("unknown", payload, "tx", "", 1))
	assert.Equal(t, 0, store.Len())
}
