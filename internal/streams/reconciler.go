package streams

import (
	"math/big"

	"github.com/soroflow/streamwatch/internal/common"
	"github.com/soroflow/streamwatch/internal/logger"
	"github.com/soroflow/streamwatch/internal/metrics"
	"github.com/soroflow/streamwatch/internal/scval"
)

// Event kinds published by the streaming contract.
const (
	EventStreamCreated     = "stream_created"
	EventStreamWithdrawn   = "stream_withdrawn"
	EventStreamCancelled   = "stream_cancelled"
	EventStreamTransferred = "stream_transferred"
)

// Reconciler applies decoded contract events to the stream store. Every
// operation validates field presence first: a missing or unparseable field
// downgrades the write to a warn-logged no-op, it never fails the event.
type Reconciler struct {
	store  Store
	logger *logger.Logger
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(store Store, log *logger.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: log.WithComponent(common.ComponentReconciler),
	}
}

// HandleEvent dispatches one decoded event to its lifecycle operation.
// Event kinds the contract does not document are ignored.
func (r *Reconciler) HandleEvent(eventType string, payload scval.Value, txHash, ledgerClosedAt string, ledger uint64) error {
	switch eventType {
	case EventStreamCreated:
		return r.UpsertCreatedStream(payload, txHash, ledgerClosedAt, ledger)
	case EventStreamWithdrawn:
		return r.RegisterWithdrawal(payload, ledger)
	case EventStreamCancelled:
		summary, err := r.CancelStream(payload, ledgerClosedAt, ledger)
		if err != nil {
			return err
		}
		if summary != nil {
			r.logger.Infow("stream canceled",
				"streamId", summary.StreamID,
				"originalTotal", summary.OriginalTotal.String(),
				"finalStreamed", summary.FinalStreamed.String(),
				"remainingUnstreamed", summary.RemainingUnstreamed.String(),
				"closedAt", summary.ClosedAt)
		}
		return nil
	case EventStreamTransferred:
		return r.TransferStream(payload, ledger)
	default:
		r.logger.Debugw("ignoring event type", "type", eventType)
		return nil
	}
}

// UpsertCreatedStream creates the record for a stream_created event, or
// refreshes its immutable fields when the event is redelivered. The total
// amount is read from the total_amount payload field, falling back to amount.
func (r *Reconciler) UpsertCreatedStream(payload scval.Value, txHash, createdAt string, ledger uint64) error {
	streamID, ok := streamIDField(payload)
	if !ok {
		r.warnNoop("upsert_created", "stream_id")
		return nil
	}

	totalAmount := amountField(payload, "total_amount")
	if totalAmount == nil {
		totalAmount = amountField(payload, "amount")
	}
	if totalAmount == nil {
		r.warnNoop("upsert_created", "total_amount")
		return nil
	}

	record, err := r.store.GetByStreamID(streamID)
	if err != nil && err != ErrNotFound {
		return err
	}

	if record != nil {
		// Redelivery of the create event. Converge the immutable fields but
		// leave the withdrawal counter and lifecycle status alone.
		record.TxHash = txHash
		record.Sender = textField(payload, "sender", UnknownParty)
		record.Receiver = textField(payload, "receiver", UnknownParty)
		record.TotalAmount = totalAmount
		record.Duration = durationField(payload)
		record.LastLedger = maxLedger(record.LastLedger, ledger)

		return r.store.Update(record)
	}

	record = &StreamRecord{
		StreamID:    streamID,
		TxHash:      txHash,
		Sender:      textField(payload, "sender", UnknownParty),
		Receiver:    textField(payload, "receiver", UnknownParty),
		TotalAmount: totalAmount,
		Withdrawn:   big.NewInt(0),
		Duration:    durationField(payload),
		Status:      StatusCreated,
		CreatedAt:   createdAt,
		LastLedger:  ledger,
	}

	if err := r.store.Create(record); err != nil {
		return err
	}

	metrics.StreamCreatedInc()
	r.logger.Infow("stream created",
		"streamId", streamID,
		"sender", record.Sender,
		"receiver", record.Receiver,
		"totalAmount", totalAmount.String(),
		"ledger", ledger)

	return nil
}

// RegisterWithdrawal adds the withdrawn amount to the stream's running
// counter. Deliveries are counted as-is: redelivering the same withdrawal
// event adds the amount again.
func (r *Reconciler) RegisterWithdrawal(payload scval.Value, ledger uint64) error {
	streamID, ok := streamIDField(payload)
	if !ok {
		r.warnNoop("register_withdrawal", "stream_id")
		return nil
	}

	amount := amountField(payload, "amount")
	if amount == nil {
		r.warnNoop("register_withdrawal", "amount")
		return nil
	}

	record, err := r.store.GetByStreamID(streamID)
	if err == ErrNotFound {
		r.warnMiss("register_withdrawal", streamID)
		return nil
	}
	if err != nil {
		return err
	}

	record.Withdrawn = new(big.Int).Add(record.Withdrawn, amount)
	record.LastLedger = maxLedger(record.LastLedger, ledger)

	switch record.Status {
	case StatusCreated, StatusActive:
		if record.TotalAmount != nil && record.Withdrawn.Cmp(record.TotalAmount) >= 0 {
			record.Status = StatusCompleted
		} else {
			record.Status = StatusActive
		}
	}

	if err := r.store.Update(record); err != nil {
		return err
	}

	r.logger.Infow("withdrawal registered",
		"streamId", streamID,
		"amount", amount.String(),
		"withdrawn", record.Withdrawn.String(),
		"ledger", ledger)

	return nil
}

// CancelStream soft-closes the stream and returns the final accounting split
// reported by the contract. The to_receiver and to_sender figures are the
// ledger's own split of the committed total; they are recorded in the summary
// only and are not reconciled against the withdrawal counter.
func (r *Reconciler) CancelStream(payload scval.Value, closedAt string, ledger uint64) (*CancelSummary, error) {
	streamID, ok := streamIDField(payload)
	if !ok {
		r.warnNoop("cancel_stream", "stream_id")
		return nil, nil
	}

	record, err := r.store.GetByStreamID(streamID)
	if err == ErrNotFound {
		r.warnMiss("cancel_stream", streamID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	summary := &CancelSummary{
		StreamID:            streamID,
		OriginalTotal:       amountOrZero(record.TotalAmount),
		FinalStreamed:       amountOrZero(amountField(payload, "to_receiver")),
		RemainingUnstreamed: amountOrZero(amountField(payload, "to_sender")),
		ClosedAt:            closedAt,
	}

	record.Status = StatusCanceled
	record.ClosedAt = closedAt
	record.LastLedger = maxLedger(record.LastLedger, ledger)

	if err := r.store.Update(record); err != nil {
		return nil, err
	}

	return summary, nil
}

// TransferStream reassigns the stream's receiver from a stream_transferred
// event.
func (r *Reconciler) TransferStream(payload scval.Value, ledger uint64) error {
	streamID, ok := streamIDField(payload)
	if !ok {
		r.warnNoop("transfer_stream", "stream_id")
		return nil
	}

	newReceiver := textField(payload, "new_receiver", "")
	if newReceiver == "" {
		r.warnNoop("transfer_stream", "new_receiver")
		return nil
	}

	record, err := r.store.GetByStreamID(streamID)
	if err == ErrNotFound {
		r.warnMiss("transfer_stream", streamID)
		return nil
	}
	if err != nil {
		return err
	}

	previous := record.Receiver
	record.Receiver = newReceiver
	record.LastLedger = maxLedger(record.LastLedger, ledger)

	if err := r.store.Update(record); err != nil {
		return err
	}

	r.logger.Infow("stream receiver transferred",
		"streamId", streamID,
		"from", previous,
		"to", newReceiver,
		"ledger", ledger)

	return nil
}

func (r *Reconciler) warnNoop(operation, field string) {
	metrics.ReconcileNoopInc(operation, "missing_"+field)
	r.logger.Warnw("skipping lifecycle write, missing or invalid field",
		"operation", operation, "field", field)
}

func (r *Reconciler) warnMiss(operation, streamID string) {
	metrics.ReconcileNoopInc(operation, "stream_not_found")
	r.logger.Warnw("skipping lifecycle write, stream not found",
		"operation", operation, "streamId", streamID)
}

// streamIDField extracts the business key from the payload. Numeric ids are
// rendered in decimal.
func streamIDField(payload scval.Value) (string, bool) {
	value, ok := payload.Get("stream_id")
	if !ok {
		return "", false
	}

	switch value.Kind() {
	case scval.KindInt64, scval.KindBigInt, scval.KindText, scval.KindBytes:
		id := value.String()
		return id, id != ""
	default:
		return "", false
	}
}

// amountField coerces a payload field to a non-negative big integer.
// Returns nil when the field is absent or not a usable amount.
func amountField(payload scval.Value, key string) *big.Int {
	value, ok := payload.Get(key)
	if !ok {
		return nil
	}

	var amount *big.Int

	switch value.Kind() {
	case scval.KindInt64:
		amount = big.NewInt(value.Int64Val())
	case scval.KindBigInt:
		amount = new(big.Int).Set(value.BigIntVal())
	case scval.KindText:
		parsed, ok := new(big.Int).SetString(value.TextVal(), 10)
		if !ok {
			return nil
		}
		amount = parsed
	default:
		return nil
	}

	if amount.Sign() < 0 {
		return nil
	}

	return amount
}

func textField(payload scval.Value, key, fallback string) string {
	value, ok := payload.Get(key)
	if !ok {
		return fallback
	}

	text := value.String()
	if text == "" {
		return fallback
	}

	return text
}

func durationField(payload scval.Value) int64 {
	value, ok := payload.Get("duration")
	if !ok {
		return 0
	}

	switch value.Kind() {
	case scval.KindInt64:
		return value.Int64Val()
	case scval.KindBigInt:
		if value.BigIntVal().IsInt64() {
			return value.BigIntVal().Int64()
		}
	}

	return 0
}

func amountOrZero(amount *big.Int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}

	return amount
}

func maxLedger(a, b uint64) uint64 {
	if a > b {
		return a
	}

	return b
}
