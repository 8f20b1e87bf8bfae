package watcher

import (
	"fmt"

	"github.com/soroflow/streamwatch/internal/rpc"
	"github.com/soroflow/streamwatch/internal/scval"
)

// ParsedEvent is a contract event with its topics and value decoded. The
// original wire fields are carried through unchanged.
type ParsedEvent struct {
	ID                       string
	EventType                string
	Ledger                   uint64
	LedgerClosedAt           string
	ContractID               string
	Topics                   []scval.Value
	Value                    scval.Value
	TxHash                   string
	InSuccessfulContractCall bool
}

// parseEvent decodes a raw event. A value that fails to decode fails the
// whole event; a topic that fails to decode is substituted with its own wire
// encoding so the remaining topics stay usable.
func parseEvent(raw rpc.RawEvent) (*ParsedEvent, error) {
	value, err := scval.DecodeBase64(raw.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode value of event %s: %w", raw.ID, err)
	}

	topics := make([]scval.Value, 0, len(raw.Topics))
	for _, topic := range raw.Topics {
		decoded, err := scval.DecodeBase64(topic)
		if err != nil {
			decoded = scval.Opaque(topic)
		}
		topics = append(topics, decoded)
	}

	return &ParsedEvent{
		ID:                       raw.ID,
		EventType:                scval.ExtractEventType(raw.Topics),
		Ledger:                   raw.Ledger,
		LedgerClosedAt:           raw.LedgerClosedAt,
		ContractID:               raw.ContractID,
		Topics:                   topics,
		Value:                    value,
		TxHash:                   raw.TxHash,
		InSuccessfulContractCall: raw.InSuccessfulContractCall,
	}, nil
}
