package ldpc

import "errors"

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind/RuleID rather than matching error strings.
// Use errors.As to extract *Error for structured handling.
type Kind string

const (
	// KindConfiguration covers job parameters rejected before any I/O. Never retried.
	KindConfiguration Kind = "Configuration"
	// KindConnection covers device open and connect failures.
	KindConnection Kind = "Connection"
	// KindTransfer covers failures on the bulk channel.
	KindTransfer Kind = "Transfer"
	// KindPeerProtocol covers a peer that does not follow the handshake.
	KindPeerProtocol Kind = "PeerProtocol"
	KindInternal     Kind = "Internal"
)

// Stable rule identifiers.
const (
	RuleInvalidGraphSelector = "LDPC-CFG-001"
	RuleCapacityExceeded     = "LDPC-CFG-002"
	RuleMisalignedPayload    = "LDPC-CFG-003"
	RuleInvalidExpansion     = "LDPC-CFG-004"
	RuleInvalidBlockLength   = "LDPC-CFG-005"
	RuleInvalidIterations    = "LDPC-CFG-006"
	RuleInvalidConfig        = "LDPC-CFG-007"

	RuleDeviceOpenFailed = "LDPC-CONN-001"
	RuleConnectFailed    = "LDPC-CONN-002"
	RuleConnectionLost   = "LDPC-CONN-003"

	RuleNoRemoteConsumer     = "LDPC-XFER-001"
	RuleTimeout              = "LDPC-XFER-002"
	RuleSendFailed           = "LDPC-XFER-003"
	RuleRecvFailed           = "LDPC-XFER-004"
	RuleNoOutstandingRequest = "LDPC-XFER-005"
	RuleExchangeBusy         = "LDPC-XFER-006"

	RuleStartNotEchoed  = "LDPC-PEER-001"
	RuleStopNotEchoed   = "LDPC-PEER-002"
	RuleMalformedRecord = "LDPC-PEER-003"
)

// Error is the module's structured error type.
//
// RuleID names the violated rule (e.g. LDPC-CFG-001). Message is for humans.
type Error struct {
	Kind    Kind
	RuleID  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewError returns a structured error without a cause.
func NewError(kind Kind, ruleID, msg string) error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg}
}

// WrapError returns a structured error wrapping cause. A nil cause yields NewError.
func WrapError(kind Kind, ruleID, msg string, cause error) error {
	if cause == nil {
		return NewError(kind, ruleID, msg)
	}
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Cause: cause}
}

func configError(ruleID, msg string) error {
	return NewError(KindConfiguration, ruleID, msg)
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}
