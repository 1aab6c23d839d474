package relayer

import (
	"errors"
	"strings"
)

// ErrorKind closed set of submission failure kinds
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindNonceExpired
	KindReplacementUnderpriced
	KindInsufficientFunds
)

func (k ErrorKind) String() string {
	switch k {
	case KindNonceExpired:
		return "nonce_expired"
	case KindReplacementUnderpriced:
		return "replacement_underpriced"
	case KindInsufficientFunds:
		return "insufficient_funds"
	default:
		return "other"
	}
}

// ReasonInsufficientBalance failure reason recorded when the relayer cannot pay for gas
const ReasonInsufficientBalance = "relayer wallet has insufficient balance to pay for the transaction"

// ErrNonceAttemptsExhausted returned by Publisher when every candidate nonce conflicted
var ErrNonceAttemptsExhausted = errors.New("nonce attempts exhausted")

// ChainError a classified submission failure. Error() is the node's message unmodified.
type ChainError struct {
	Kind ErrorKind
	Err  error
}

func (e *ChainError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// NewChainError wraps err with the kind derived from its message. nil stays nil.
func NewChainError(err error) error {
	if err == nil {
		return nil
	}
	var ce *ChainError
	if errors.As(err, &ce) {
		return err
	}
	return &ChainError{Kind: ClassifyError(err), Err: err}
}

// node messages, lowercased. Covers geth, erigon, nethermind and besu wording.
var (
	nonceExpiredMessages = []string{
		"nonce too low",
		"nonce has already been used",
		"oldnonce",
		"nonce is too low",
	}
	underpricedMessages = []string{
		"replacement transaction underpriced",
		"replacement fee too low",
		"replacementnotallowed",
	}
	insufficientFundsMessages = []string{
		"insufficient funds",
		"insufficient balance",
	}
)

// ClassifyError maps a raw node error onto an ErrorKind
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindOther
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, nonceExpiredMessages):
		return KindNonceExpired
	case containsAny(msg, underpricedMessages):
		return KindReplacementUnderpriced
	case containsAny(msg, insufficientFundsMessages):
		return KindInsufficientFunds
	default:
		return KindOther
	}
}

// KindOf returns the kind carried by err, KindOther when err is not a *ChainError
func KindOf(err error) ErrorKind {
	var ce *ChainError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindOther
}

// IsNonceConflict reports whether a retry with the next nonce may succeed
func IsNonceConflict(err error) bool {
	kind := KindOf(err)
	return kind == KindNonceExpired || kind == KindReplacementUnderpriced
}

// FailureReason the human readable reason persisted on a failed request
func FailureReason(err error) string {
	if KindOf(err) == KindInsufficientFunds {
		return ReasonInsufficientBalance
	}
	return err.Error()
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
