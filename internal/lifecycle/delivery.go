package lifecycle

import (
	"time"

	"github.com/RouteWise/FieldOps/internal/models"
)

// Delivery point transitions:
//
//	PENDING -> IN_PROGRESS -> {SUCCESS, FAILED, REQUIRES_SUPPORT}
//	REQUIRES_SUPPORT -> IN_PROGRESS (support returns the point to the driver)
//
// Никакой переход не минует IN_PROGRESS.

var failReasons = map[string]struct{}{
	models.FailReasonRecipientUnavailable: {},
	models.FailReasonWrongAddress:         {},
	models.FailReasonRefused:              {},
	models.FailReasonDamagedGoods:         {},
	models.FailReasonPaymentIssue:         {},
	models.FailReasonOther:                {},
}

// CanStart reports whether the point may leave PENDING.
func CanStart(p *models.DeliveryPoint) bool {
	return p.Status == models.DeliveryStatusPending
}

func StartDelivery(p *models.DeliveryPoint, at time.Time, loc models.GeoPoint) error {
	if !CanStart(p) {
		return invalidTransitionf("start delivery: point %d is %s, want %s", p.ID, p.Status, models.DeliveryStatusPending)
	}
	p.Status = models.DeliveryStatusInProgress
	p.StartedAt = &at
	p.StartLocation = &loc
	p.UpdatedAt = at
	return nil
}

// AttachProof replaces any previously captured proof. Proof attached to a
// completed delivery is immutable, hence the IN_PROGRESS-only guard.
func AttachProof(p *models.DeliveryPoint, proof *models.ProofOfDelivery, at time.Time) error {
	if p.Status != models.DeliveryStatusInProgress {
		return invalidTransitionf("attach proof: point %d is %s, want %s", p.ID, p.Status, models.DeliveryStatusInProgress)
	}
	if !proof.Complete() {
		return validationFailed("photo_refs", "at least one photo is required")
	}
	p.Proof = proof
	p.UpdatedAt = at
	return nil
}

// RequiresPayment is true while a COD obligation is still outstanding.
func RequiresPayment(p *models.DeliveryPoint) bool {
	if !p.RequiresCOD {
		return false
	}
	return p.CODPayment == nil || p.CODPayment.Status != models.PaymentStatusCompleted
}

// CanComplete returns nil when the point may transition to SUCCESS with the
// given proof. A pending COD payment is reported as PAYMENT_REQUIRED, distinct
// from proof validation, so the caller can redirect to payment capture.
func CanComplete(p *models.DeliveryPoint, proof *models.ProofOfDelivery) error {
	if p.Status != models.DeliveryStatusInProgress {
		return invalidTransitionf("complete delivery: point %d is %s, want %s", p.ID, p.Status, models.DeliveryStatusInProgress)
	}
	if !proof.Complete() {
		return validationFailed("proof", "proof with at least one photo is required")
	}
	if RequiresPayment(p) {
		return paymentRequired("cod payment is outstanding")
	}
	return nil
}

func CompleteDelivery(p *models.DeliveryPoint, proof *models.ProofOfDelivery, at time.Time, loc models.GeoPoint) error {
	if err := CanComplete(p, proof); err != nil {
		return err
	}
	p.Status = models.DeliveryStatusSuccess
	p.Proof = proof
	p.EndedAt = &at
	p.EndLocation = &loc
	p.UpdatedAt = at
	return nil
}

// FailDelivery requires a reason from the closed set and non-empty notes.
// Пустые notes — жёсткое precondition, а не рекомендация.
func FailDelivery(p *models.DeliveryPoint, reason, notes string, at time.Time, loc models.GeoPoint) error {
	if p.Status != models.DeliveryStatusInProgress {
		return invalidTransitionf("fail delivery: point %d is %s, want %s", p.ID, p.Status, models.DeliveryStatusInProgress)
	}
	if _, ok := failReasons[reason]; !ok {
		return validationFailed("reason", "unknown failure reason "+reason)
	}
	if notes == "" {
		return validationFailed("notes", "notes are required when failing a delivery")
	}
	p.Status = models.DeliveryStatusFailed
	p.FailReason = &reason
	p.FailNotes = &notes
	p.EndedAt = &at
	p.EndLocation = &loc
	p.UpdatedAt = at
	return nil
}

// Escalate hands the point over to support without terminating it.
func Escalate(p *models.DeliveryPoint, notes string, at time.Time) error {
	if p.Status != models.DeliveryStatusInProgress {
		return invalidTransitionf("escalate delivery: point %d is %s, want %s", p.ID, p.Status, models.DeliveryStatusInProgress)
	}
	if notes != "" {
		p.FailNotes = &notes
	}
	p.Status = models.DeliveryStatusRequiresSupport
	p.UpdatedAt = at
	return nil
}

// Resume returns an escalated point to the driver.
func Resume(p *models.DeliveryPoint, at time.Time) error {
	if p.Status != models.DeliveryStatusRequiresSupport {
		return invalidTransitionf("resume delivery: point %d is %s, want %s", p.ID, p.Status, models.DeliveryStatusRequiresSupport)
	}
	p.Status = models.DeliveryStatusInProgress
	p.UpdatedAt = at
	return nil
}

type PaymentInput struct {
	Method        string
	AmountMinor   int64
	Currency      string
	TransactionID *string
	ProofRef      *string
}

// ProcessPayment validates the COD invariant and records a COMPLETED payment:
// VIETQR/CARD need a transaction id, CASH needs a proof-of-payment reference,
// and the amount must equal the outstanding amount exactly.
func ProcessPayment(p *models.DeliveryPoint, in PaymentInput, at time.Time) error {
	if p.Status != models.DeliveryStatusInProgress {
		return invalidTransitionf("process payment: point %d is %s, want %s", p.ID, p.Status, models.DeliveryStatusInProgress)
	}
	if !p.RequiresCOD {
		return invalidTransitionf("process payment: point %d has no cod obligation", p.ID)
	}
	if p.CODPayment != nil && p.CODPayment.Status == models.PaymentStatusCompleted {
		return invalidTransitionf("process payment: point %d is already paid", p.ID)
	}
	if in.AmountMinor != p.CODAmountMinor {
		return amountMismatchf("amount %d does not match outstanding %d", in.AmountMinor, p.CODAmountMinor)
	}
	switch in.Method {
	case models.PaymentMethodVietQR, models.PaymentMethodCard:
		if in.TransactionID == nil || *in.TransactionID == "" {
			return validationFailed("transaction_id", "transaction id is required for "+in.Method)
		}
	case models.PaymentMethodCash:
		if in.ProofRef == nil || *in.ProofRef == "" {
			return validationFailed("proof_ref", "proof of payment is required for cash")
		}
	default:
		return validationFailed("method", "unknown payment method "+in.Method)
	}

	currency := in.Currency
	if currency == "" {
		currency = p.CODCurrency
	}
	p.CODPayment = &models.CODPayment{
		AmountMinor:   in.AmountMinor,
		Currency:      currency,
		Method:        in.Method,
		Status:        models.PaymentStatusCompleted,
		TransactionID: in.TransactionID,
		ProofRef:      in.ProofRef,
		PaidAt:        &at,
	}
	p.UpdatedAt = at
	return nil
}
