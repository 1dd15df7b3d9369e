package lifecycle

import (
	"fmt"

	"github.com/pkg/errors"
)

// RejectionKind — машиночитаемый код отказа, по нему UI выбирает реакцию
// (например, PAYMENT_REQUIRED ведёт на экран оплаты, а не в общий тост ошибки).
type RejectionKind string

const (
	KindInvalidTransition RejectionKind = "INVALID_TRANSITION"
	KindPaymentRequired   RejectionKind = "PAYMENT_REQUIRED"
	KindAmountMismatch    RejectionKind = "AMOUNT_MISMATCH"
	KindValidationFailed  RejectionKind = "VALIDATION_FAILED"
)

// Rejection is a guard refusal: local, synchronous, never retried automatically.
type Rejection struct {
	Kind  RejectionKind
	Field string
	Msg   string
}

func (r *Rejection) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s: %s", r.Kind, r.Field, r.Msg)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Msg)
}

func invalidTransitionf(format string, args ...any) error {
	return &Rejection{Kind: KindInvalidTransition, Msg: fmt.Sprintf(format, args...)}
}

func paymentRequired(msg string) error {
	return &Rejection{Kind: KindPaymentRequired, Msg: msg}
}

func amountMismatchf(format string, args ...any) error {
	return &Rejection{Kind: KindAmountMismatch, Msg: fmt.Sprintf(format, args...)}
}

func validationFailed(field, msg string) error {
	return &Rejection{Kind: KindValidationFailed, Field: field, Msg: msg}
}

// KindOf extracts the rejection kind from err, or "" if err is not a guard
// rejection (transport and storage errors pass through unchanged).
func KindOf(err error) RejectionKind {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Kind
	}
	return ""
}
