package tracker

import (
	"encoding/json"

	"github.com/yourusername/votesphere/pkg/clienterr"
)

// Reason explains why a submission was rejected
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonPreconditionFailed Reason = "precondition-failed"
	ReasonDuplicateEffect    Reason = "duplicate-effect"
	ReasonInsufficientFunds  Reason = "insufficient-funds"
	ReasonNetworkError       Reason = "network-error"
	ReasonUnknown            Reason = "unknown"
)

// Runtime and framework error codes that carry a known meaning
const (
	// system program: the target account already exists
	codeAccountAlreadyInUse uint32 = 0
	// system program: the payer cannot cover the transfer
	codeResultWithNegativeLamports uint32 = 1
	// a seeds constraint did not match the derived address
	codeConstraintSeeds uint32 = 2006
	// an account the instruction reads was never created
	codeAccountNotInitialized uint32 = 3012
)

// Classify maps the ledger's transaction error value to a Reason. custom
// takes precedence for InstructionError Custom codes so a program can name
// its own errors.
func Classify(txErr json.RawMessage, custom map[uint32]Reason) Reason {
	if len(txErr) == 0 || string(txErr) == "null" {
		return ReasonNone
	}

	var name string
	if err := json.Unmarshal(txErr, &name); err == nil {
		return classifyName(name)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(txErr, &obj); err != nil {
		return ReasonUnknown
	}
	if raw, ok := obj["InstructionError"]; ok {
		return classifyInstructionError(raw, custom)
	}
	for name := range obj {
		// e.g. {"InsufficientFundsForRent":{"account_index":0}}
		if r := classifyName(name); r != ReasonUnknown {
			return r
		}
	}
	return ReasonUnknown
}

func classifyName(name string) Reason {
	switch name {
	case "InsufficientFundsForFee", "InsufficientFundsForRent", "AccountNotFound", "InsufficientFunds":
		return ReasonInsufficientFunds
	case "BlockhashNotFound":
		return ReasonNetworkError
	case "AccountAlreadyInitialized":
		return ReasonDuplicateEffect
	default:
		return ReasonUnknown
	}
}

func classifyInstructionError(raw json.RawMessage, custom map[uint32]Reason) Reason {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return ReasonUnknown
	}

	var detailName string
	if err := json.Unmarshal(pair[1], &detailName); err == nil {
		return classifyName(detailName)
	}

	var detail struct {
		Custom *uint32 `json:"Custom"`
	}
	if err := json.Unmarshal(pair[1], &detail); err != nil || detail.Custom == nil {
		return ReasonUnknown
	}
	code := *detail.Custom
	if r, ok := custom[code]; ok {
		return r
	}
	switch code {
	case codeAccountAlreadyInUse:
		return ReasonDuplicateEffect
	case codeResultWithNegativeLamports:
		return ReasonInsufficientFunds
	case codeConstraintSeeds, codeAccountNotInitialized:
		return ReasonPreconditionFailed
	default:
		return ReasonUnknown
	}
}

// ReasonError converts a rejection reason into the client error taxonomy
func ReasonError(op string, reason Reason, signature string, cause error) error {
	e := &clienterr.Error{Op: op, Signature: signature, Err: cause}
	switch reason {
	case ReasonPreconditionFailed:
		e.Kind = clienterr.KindPreconditionRace
	case ReasonDuplicateEffect:
		e.Kind = clienterr.KindDuplicateEffect
	case ReasonInsufficientFunds:
		e.Kind = clienterr.KindRejected
		e.Reason = clienterr.ReasonInsufficientFunds
	case ReasonNetworkError:
		e.Kind = clienterr.KindNetwork
	default:
		e.Kind = clienterr.KindRejected
		e.Reason = clienterr.ReasonUnknown
	}
	return e
}
