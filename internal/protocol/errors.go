package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a protocol failure. Kinds are stable strings so they
// can travel in JSON-RPC error data and be counted for reputation.
type ErrorKind string

const (
	KindParse                  ErrorKind = "Parse"
	KindInvalidRequest         ErrorKind = "InvalidRequest"
	KindMethodNotFound         ErrorKind = "MethodNotFound"
	KindInvalidParams          ErrorKind = "InvalidParams"
	KindInvalidSignature       ErrorKind = "InvalidSignature"
	KindEpochMismatch          ErrorKind = "EpochMismatch"
	KindInvalidPoW             ErrorKind = "InvalidPoW"
	KindInsufficientReputation ErrorKind = "InsufficientReputation"
	KindSelfVoteProhibited     ErrorKind = "SelfVoteProhibited"
	KindDuplicateProposal      ErrorKind = "DuplicateProposal"
	KindCommitRevealMismatch   ErrorKind = "CommitRevealMismatch"
	KindVotingTimeout          ErrorKind = "VotingTimeout"
	KindTaskNotFound           ErrorKind = "TaskNotFound"
	KindResultRejected         ErrorKind = "ResultRejected"
	KindDeadlineExceeded       ErrorKind = "DeadlineExceeded"
	KindPeerUnreachable        ErrorKind = "PeerUnreachable"
	KindDhtLookupFailed        ErrorKind = "DhtLookupFailed"
)

// Error is a protocol error with a kind and a human-readable message.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError creates a protocol error of the given kind.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, unwrapping as needed. Returns an
// empty kind when err is not a protocol error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err is a protocol error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// RPCCode maps an error kind to its JSON-RPC error code. Validation kinds map
// to the standard JSON-RPC codes; protocol kinds use the server-error range.
func RPCCode(kind ErrorKind) int {
	switch kind {
	case KindParse:
		return -32700
	case KindInvalidRequest:
		return -32600
	case KindMethodNotFound:
		return -32601
	case KindInvalidParams:
		return -32602
	default:
		return -32000
	}
}
