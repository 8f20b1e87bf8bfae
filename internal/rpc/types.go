package rpc

// RawEvent is a contract event as returned by the Soroban RPC getEvents
// method. Topics and Value carry base64 XDR-encoded ScVals.
type RawEvent struct {
	ID                       string   `json:"id"`
	Type                     string   `json:"type"`
	Ledger                   uint64   `json:"ledger"`
	LedgerClosedAt           string   `json:"ledgerClosedAt"`
	ContractID               string   `json:"contractId"`
	PagingToken              string   `json:"pagingToken,omitempty"`
	Topics                   []string `json:"topic"`
	Value                    string   `json:"value"`
	TxHash                   string   `json:"txHash"`
	InSuccessfulContractCall bool     `json:"inSuccessfulContractCall"`
}

// EventFilter narrows a getEvents request to specific contracts.
type EventFilter struct {
	Type        string   `json:"type"`
	ContractIDs []string `json:"contractIds"`
}

// PaginationOptions caps the number of events per getEvents response.
type PaginationOptions struct {
	Limit int `json:"limit"`
}

type getEventsParams struct {
	StartLedger uint64            `json:"startLedger"`
	Filters     []EventFilter     `json:"filters"`
	Pagination  PaginationOptions `json:"pagination"`
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int       `json:"id"`
	Error   *RPCError `json:"error,omitempty"`
}

type getLatestLedgerResponse struct {
	rpcResponse
	Result struct {
		Sequence uint64 `json:"sequence"`
	} `json:"result"`
}

type getEventsResponse struct {
	rpcResponse
	Result struct {
		Events       []RawEvent `json:"events"`
		LatestLedger uint64     `json:"latestLedger"`
	} `json:"result"`
}

// EventsResult is what GetEvents hands back to the poller: the event batch
// plus the node's view of the latest closed ledger at response time.
type EventsResult struct {
	Events       []RawEvent
	LatestLedger uint64
}
