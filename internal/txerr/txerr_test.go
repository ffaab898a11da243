package txerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"revert", errors.New("execution reverted: cooldown active"), ErrContractLogic},
		{"out of gas", errors.New("gas required exceeds allowance or always failing transaction: out of gas"), ErrContractLogic},
		{"funds", errors.New("insufficient funds for gas * price + value"), ErrInsufficientFunds},
		{"network", errors.New("dial tcp 127.0.0.1:8545: connection refused"), ErrTransientRPC},
		{"eof", errors.New("unexpected EOF"), ErrTransientRPC},
		{"nonce too low", errors.New("nonce too low"), ErrTransientRPC},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("Classify(%q) = %v, want wrapping %v", tt.err, got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("Classify(%q) lost the original cause", tt.err)
			}
		})
	}
}

func TestClassifyKeepsExistingKind(t *testing.T) {
	err := ContractLogic(errors.New("boom"))
	wrapped := fmt.Errorf("estimate swap: %w", err)

	got := Classify(wrapped)
	if got != wrapped {
		t.Errorf("Classify re-wrapped an already classified error: %v", got)
	}
	if errors.Is(got, ErrTransientRPC) {
		t.Error("classified revert must not also be transient")
	}
}

func TestClassifyContext(t *testing.T) {
	if got := Classify(context.Canceled); got != context.Canceled {
		t.Errorf("Classify(context.Canceled) = %v", got)
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Transient(errors.New("x"))) {
		t.Error("transient should be retryable")
	}
	if !IsRetryable(ErrConfirmationTimeout) {
		t.Error("confirmation timeout should be retryable")
	}
	if IsRetryable(ContractLogic(errors.New("x"))) {
		t.Error("revert should not be retryable")
	}
	if IsRetryable(InsufficientFunds(nil)) {
		t.Error("insufficient funds should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{ContractLogic(nil), "contract_logic"},
		{InsufficientFunds(nil), "insufficient_funds"},
		{ErrConfirmationTimeout, "confirmation_timeout"},
		{FatalPrecondition(errors.New("router has no code")), "fatal_precondition"},
		{context.Canceled, "canceled"},
		{errors.New("anything"), "transient_rpc"},
	}
	for _, tt := range tests {
		if got := Category(tt.err); got != tt.want {
			t.Errorf("Category(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
