package streams

import "math/big"

// Status is the lifecycle state of a payment stream.
type Status string

const (
	StatusCreated   Status = "created"
	StatusActive    Status = "active"
	StatusCanceled  Status = "canceled"
	StatusCompleted Status = "completed"
)

// UnknownParty is stored for sender/receiver when the event payload does not
// carry the field.
const UnknownParty = "unknown"

// StreamRecord is the persisted state of one payment stream, keyed by the
// contract-assigned stream id. Amounts are arbitrary precision and persisted
// as decimal strings.
type StreamRecord struct {
	ID          int64    `meddler:"id,pk"`
	StreamID    string   `meddler:"stream_id"`
	TxHash      string   `meddler:"tx_hash"`
	Sender      string   `meddler:"sender"`
	Receiver    string   `meddler:"receiver"`
	TotalAmount *big.Int `meddler:"total_amount,bigint"`
	Withdrawn   *big.Int `meddler:"withdrawn,bigint"`
	Duration    int64    `meddler:"duration"`
	Status      Status   `meddler:"status"`
	CreatedAt   string   `meddler:"created_at"`
	ClosedAt    string   `meddler:"closed_at,zeroisnull"`
	LastLedger  uint64   `meddler:"last_ledger"`
}

// Closed reports whether the stream has been soft-closed.
func (r *StreamRecord) Closed() bool {
	return r.ClosedAt != ""
}

// CancelSummary reports the final accounting split of a canceled stream as
// the contract published it. FinalStreamed and RemainingUnstreamed are the
// ledger's own figures and are not cross-checked against Withdrawn.
type CancelSummary struct {
	StreamID            string
	OriginalTotal       *big.Int
	FinalStreamed       *big.Int
	RemainingUnstreamed *big.Int
	ClosedAt            string
}
