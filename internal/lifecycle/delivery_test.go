package lifecycle

import (
	"testing"
	"time"

	"github.com/RouteWise/FieldOps/internal/models"
	"github.com/stretchr/testify/require"
)

func pendingPoint() *models.DeliveryPoint {
	return &models.DeliveryPoint{
		ID:     7,
		TripID: 1,
		Seq:    1,
		Status: models.DeliveryStatusPending,
	}
}

func inProgressPoint() *models.DeliveryPoint {
	p := pendingPoint()
	_ = StartDelivery(p, time.Now().UTC(), models.GeoPoint{Lat: 10.76, Lon: 106.66})
	return p
}

func proofWithPhoto() *models.ProofOfDelivery {
	return &models.ProofOfDelivery{
		PhotoRefs:  []string{"photo-1"},
		CapturedAt: time.Now().UTC(),
	}
}

func TestStartDelivery(t *testing.T) {
	now := time.Now().UTC()
	p := pendingPoint()

	require.True(t, CanStart(p))
	require.NoError(t, StartDelivery(p, now, models.GeoPoint{Lat: 1, Lon: 2}))
	require.Equal(t, models.DeliveryStatusInProgress, p.Status)
	require.NotNil(t, p.StartedAt)
	require.NotNil(t, p.StartLocation)

	// Second start must not skip back through PENDING.
	err := StartDelivery(p, now, models.GeoPoint{})
	require.Error(t, err)
	require.Equal(t, KindInvalidTransition, KindOf(err))
}

func TestCompleteDelivery_FromPendingRejected(t *testing.T) {
	p := pendingPoint()
	err := CompleteDelivery(p, proofWithPhoto(), time.Now().UTC(), models.GeoPoint{})
	require.Equal(t, KindInvalidTransition, KindOf(err))
	require.Equal(t, models.DeliveryStatusPending, p.Status)
}

func TestCompleteDelivery_RequiresProofPhoto(t *testing.T) {
	p := inProgressPoint()

	err := CompleteDelivery(p, nil, time.Now().UTC(), models.GeoPoint{})
	require.Equal(t, KindValidationFailed, KindOf(err))

	err = CompleteDelivery(p, &models.ProofOfDelivery{}, time.Now().UTC(), models.GeoPoint{})
	require.Equal(t, KindValidationFailed, KindOf(err))
	require.Equal(t, models.DeliveryStatusInProgress, p.Status)
}

// Scenario: requiresCOD without a payment blocks completion with a distinct
// PAYMENT_REQUIRED code even when a valid proof is supplied.
func TestCompleteDelivery_PaymentRequired(t *testing.T) {
	p := inProgressPoint()
	p.RequiresCOD = true
	p.CODAmountMinor = 2500
	p.CODCurrency = "VND"

	err := CanComplete(p, proofWithPhoto())
	require.Equal(t, KindPaymentRequired, KindOf(err))

	err = CompleteDelivery(p, proofWithPhoto(), time.Now().UTC(), models.GeoPoint{})
	require.Equal(t, KindPaymentRequired, KindOf(err))
	require.Equal(t, models.DeliveryStatusInProgress, p.Status)
}

func TestProcessPayment_CashNeedsProofRef(t *testing.T) {
	now := time.Now().UTC()
	p := inProgressPoint()
	p.RequiresCOD = true
	p.CODAmountMinor = 2500
	p.CODCurrency = "VND"

	err := ProcessPayment(p, PaymentInput{Method: models.PaymentMethodCash, AmountMinor: 2500}, now)
	require.Equal(t, KindValidationFailed, KindOf(err))
	require.Nil(t, p.CODPayment)

	ref := "receipt-42"
	require.NoError(t, ProcessPayment(p, PaymentInput{
		Method:      models.PaymentMethodCash,
		AmountMinor: 2500,
		ProofRef:    &ref,
	}, now))
	require.Equal(t, models.PaymentStatusCompleted, p.CODPayment.Status)
	require.Equal(t, "VND", p.CODPayment.Currency)
	require.NotNil(t, p.CODPayment.PaidAt)

	// Once paid, completion with proof is allowed.
	require.NoError(t, CanComplete(p, proofWithPhoto()))
	require.NoError(t, CompleteDelivery(p, proofWithPhoto(), now, models.GeoPoint{}))
	require.Equal(t, models.DeliveryStatusSuccess, p.Status)
}

func TestProcessPayment_VietQRNeedsTransactionID(t *testing.T) {
	p := inProgressPoint()
	p.RequiresCOD = true
	p.CODAmountMinor = 100

	err := ProcessPayment(p, PaymentInput{Method: models.PaymentMethodVietQR, AmountMinor: 100}, time.Now().UTC())
	require.Equal(t, KindValidationFailed, KindOf(err))

	tx := "vietqr-tx-1"
	require.NoError(t, ProcessPayment(p, PaymentInput{
		Method:        models.PaymentMethodVietQR,
		AmountMinor:   100,
		TransactionID: &tx,
	}, time.Now().UTC()))
}

func TestProcessPayment_AmountMismatch(t *testing.T) {
	p := inProgressPoint()
	p.RequiresCOD = true
	p.CODAmountMinor = 2500

	tx := "tx"
	err := ProcessPayment(p, PaymentInput{Method: models.PaymentMethodCard, AmountMinor: 2400, TransactionID: &tx}, time.Now().UTC())
	require.Equal(t, KindAmountMismatch, KindOf(err))
	require.Nil(t, p.CODPayment)
}

func TestProcessPayment_NoObligation(t *testing.T) {
	p := inProgressPoint()
	tx := "tx"
	err := ProcessPayment(p, PaymentInput{Method: models.PaymentMethodCard, AmountMinor: 0, TransactionID: &tx}, time.Now().UTC())
	require.Equal(t, KindInvalidTransition, KindOf(err))
}

// Scenario: empty notes reject the failure even from IN_PROGRESS.
func TestFailDelivery_NotesMandatory(t *testing.T) {
	p := inProgressPoint()

	err := FailDelivery(p, models.FailReasonOther, "", time.Now().UTC(), models.GeoPoint{})
	require.Equal(t, KindValidationFailed, KindOf(err))
	require.Equal(t, models.DeliveryStatusInProgress, p.Status)

	require.NoError(t, FailDelivery(p, models.FailReasonRefused, "recipient refused the parcel", time.Now().UTC(), models.GeoPoint{}))
	require.Equal(t, models.DeliveryStatusFailed, p.Status)
	require.Equal(t, models.FailReasonRefused, *p.FailReason)
}

func TestFailDelivery_UnknownReason(t *testing.T) {
	p := inProgressPoint()
	err := FailDelivery(p, "RAN_OUT_OF_FUEL", "notes", time.Now().UTC(), models.GeoPoint{})
	require.Equal(t, KindValidationFailed, KindOf(err))
}

func TestEscalateAndResume(t *testing.T) {
	p := inProgressPoint()

	require.NoError(t, Escalate(p, "gate code missing", time.Now().UTC()))
	require.Equal(t, models.DeliveryStatusRequiresSupport, p.Status)

	// Escalated points cannot be completed until support returns them.
	err := CompleteDelivery(p, proofWithPhoto(), time.Now().UTC(), models.GeoPoint{})
	require.Equal(t, KindInvalidTransition, KindOf(err))

	require.NoError(t, Resume(p, time.Now().UTC()))
	require.Equal(t, models.DeliveryStatusInProgress, p.Status)
}

func TestAttachProof(t *testing.T) {
	p := pendingPoint()
	err := AttachProof(p, proofWithPhoto(), time.Now().UTC())
	require.Equal(t, KindInvalidTransition, KindOf(err))

	p = inProgressPoint()
	require.NoError(t, AttachProof(p, proofWithPhoto(), time.Now().UTC()))
	require.NotNil(t, p.Proof)

	// Replacing an unattached proof is allowed.
	second := proofWithPhoto()
	second.PhotoRefs = []string{"photo-2", "photo-3"}
	require.NoError(t, AttachProof(p, second, time.Now().UTC()))
	require.Len(t, p.Proof.PhotoRefs, 2)

	err = AttachProof(p, &models.ProofOfDelivery{}, time.Now().UTC())
	require.Equal(t, KindValidationFailed, KindOf(err))
}
