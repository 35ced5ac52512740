package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "nil", err: nil, want: ""},
		{name: "insufficient stock", err: fmt.Errorf("%w: product 1", ErrInsufficientStock), want: CodeInsufficientStock},
		{name: "coupon", err: ErrInvalidCoupon, want: CodeInvalidCoupon},
		{name: "payment method", err: ErrInvalidPaymentMethod, want: CodeInvalidPaymentMethod},
		{name: "order status", err: ErrInvalidStatus, want: CodeInvalidStatus},
		{name: "item status", err: fmt.Errorf("wrap: %w", ErrInvalidItemStatusTransition), want: CodeInvalidItemStatusTransition},
		{name: "not cancellable", err: ErrOrderNotCancellable, want: CodeOrderNotCancellable},
		{name: "duplicate", err: errors.Join(ErrDuplicate, errors.New("unique violation")), want: CodeDuplicate},
		{name: "lock timeout", err: ErrLockTimeout, want: CodeLockTimeout},
		{name: "points", err: ErrInsufficientPoints, want: CodeInsufficientPoints},
		{name: "order not found", err: ErrOrderNotFound, want: CodeNotFound},
		{name: "validation", err: Validationf("quantity must be >= %d", 1), want: CodeValidation},
		{name: "unknown", err: errors.New("boom"), want: CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("lock product 3: %w", ErrLockTimeout)) {
		t.Fatal("expected lock timeout to be retryable")
	}
	for _, err := range []error{ErrInsufficientStock, ErrInvalidCoupon, ErrDuplicate, ErrOrderNotCancellable, nil} {
		if IsRetryable(err) {
			t.Fatalf("expected %v to be permanent", err)
		}
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "already exists", err: ErrIdempotencyKeyAlreadyExists, want: true},
		{name: "hash mismatch", err: ErrIdempotencyHashMismatch, want: true},
		{name: "joined", err: errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")), want: true},
		{name: "other", err: ErrIdempotencyKeyNotFound, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsIdempotencyConflict(tt.err); got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdempotencyRecord(t *testing.T) {
	for _, status := range []IdempotencyStatus{IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed} {
		if !status.Valid() {
			t.Fatalf("status %q must be valid", status)
		}
	}
	if IdempotencyStatus("broken").Valid() {
		t.Fatal("unexpected valid status")
	}

	now := time.Now().UTC()
	if !(IdempotencyRecord{TTLAt: now}).Expired(now) {
		t.Fatal("record with ttl == now must be expired")
	}
	if (IdempotencyRecord{TTLAt: now.Add(time.Minute)}).Expired(now) {
		t.Fatal("record with future ttl must be alive")
	}
}
