// Package txerr defines the failure taxonomy used across transaction submission.
package txerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every classified error wraps exactly one of these.
var (
	ErrTransientRPC        = errors.New("transient rpc error")
	ErrContractLogic       = errors.New("contract logic error")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrFatalPrecondition   = errors.New("fatal precondition")
)

// Transient wraps err as a retryable RPC failure.
func Transient(err error) error {
	return wrap(ErrTransientRPC, err)
}

// ContractLogic wraps err as a revert.
func ContractLogic(err error) error {
	return wrap(ErrContractLogic, err)
}

// InsufficientFunds wraps err as a gas-funding failure.
func InsufficientFunds(err error) error {
	return wrap(ErrInsufficientFunds, err)
}

// FatalPrecondition wraps err as a run-aborting failure.
func FatalPrecondition(err error) error {
	return wrap(ErrFatalPrecondition, err)
}

func wrap(kind, err error) error {
	if err == nil {
		return kind
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// revertMarkers are substrings nodes use when a call or transaction reverts.
var revertMarkers = []string{
	"execution reverted",
	"revert",
	"invalid opcode",
	"out of gas",
}

// fundsMarkers are substrings nodes use when the sender cannot pay for gas.
var fundsMarkers = []string{
	"insufficient funds",
	"insufficient balance for transfer",
}

// Classify maps an arbitrary error onto the taxonomy. Errors that already
// carry a sentinel are returned unchanged; context errors pass through so
// callers can stop promptly. Anything unrecognised is treated as transient.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsClassified(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := strings.ToLower(err.Error())
	for _, m := range fundsMarkers {
		if strings.Contains(msg, m) {
			return InsufficientFunds(err)
		}
	}
	for _, m := range revertMarkers {
		if strings.Contains(msg, m) {
			return ContractLogic(err)
		}
	}
	return Transient(err)
}

// IsClassified reports whether err already wraps one of the sentinels.
func IsClassified(err error) bool {
	return errors.Is(err, ErrTransientRPC) ||
		errors.Is(err, ErrContractLogic) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrConfirmationTimeout) ||
		errors.Is(err, ErrFatalPrecondition)
}

// IsRetryable reports whether a new attempt could succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransientRPC) || errors.Is(err, ErrConfirmationTimeout)
}

// Category returns a short label suitable for metrics and persisted reasons.
func Category(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrContractLogic):
		return "contract_logic"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrConfirmationTimeout):
		return "confirmation_timeout"
	case errors.Is(err, ErrFatalPrecondition):
		return "fatal_precondition"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "transient_rpc"
	}
}
