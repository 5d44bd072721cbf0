package rpc

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC error codes the ledger node returns
const (
	CodeBlockCleanedUp           = -32001
	CodeSendTransactionPreflight = -32002
	CodeSignatureVerification    = -32003
	CodeBlockNotAvailable        = -32004
	CodeNodeUnhealthy            = -32005
	CodeTransactionPrecompile    = -32006
	CodeSlotSkipped              = -32007
	CodeMinContextSlotNotReached = -32016
	CodeInvalidParams            = -32602
	CodeInternal                 = -32603
	CodeMethodNotFound           = -32601
)

// Error is a JSON-RPC error object
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error code %d: %s", e.Code, e.Message)
}

// Transient reports whether the node failed for a reason unrelated to the request
func (e *Error) Transient() bool {
	switch e.Code {
	case CodeNodeUnhealthy, CodeBlockNotAvailable, CodeMinContextSlotNotReached, CodeInternal:
		return true
	}
	return false
}

type preflightData struct {
	Err  json.RawMessage `json:"err"`
	Logs []string        `json:"logs"`
}

// TransactionErr returns the transaction error value from a preflight
// failure, or nil when the error carries none.
func (e *Error) TransactionErr() json.RawMessage {
	if len(e.Data) == 0 {
		return nil
	}
	var d preflightData
	if err := json.Unmarshal(e.Data, &d); err != nil || len(d.Err) == 0 || string(d.Err) == "null" {
		return nil
	}
	return d.Err
}

// Logs returns the program logs attached to a preflight failure
func (e *Error) Logs() []string {
	if len(e.Data) == 0 {
		return nil
	}
	var d preflightData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return nil
	}
	return d.Logs
}
