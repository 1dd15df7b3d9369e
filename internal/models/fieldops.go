package models

import (
	"encoding/json"
	"time"
)

// Статусы точки доставки (закрытый набор).
const (
	DeliveryStatusPending         = "PENDING"
	DeliveryStatusInProgress      = "IN_PROGRESS"
	DeliveryStatusSuccess         = "SUCCESS"
	DeliveryStatusFailed          = "FAILED"
	DeliveryStatusRequiresSupport = "REQUIRES_SUPPORT"
)

const (
	TripStatusAssigned   = "ASSIGNED"
	TripStatusAccepted   = "ACCEPTED"
	TripStatusRejected   = "REJECTED"
	TripStatusInProgress = "IN_PROGRESS"
	TripStatusCompleted  = "COMPLETED"
)

const (
	SyncStatusPending = "PENDING"
	SyncStatusSynced  = "SYNCED"
	SyncStatusFailed  = "FAILED"
)

const (
	PaymentMethodVietQR = "VIETQR"
	PaymentMethodCash   = "CASH"
	PaymentMethodCard   = "CARD"
)

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
)

// Причины неуспешной доставки (закрытый набор).
const (
	FailReasonRecipientUnavailable = "RECIPIENT_UNAVAILABLE"
	FailReasonWrongAddress         = "WRONG_ADDRESS"
	FailReasonRefused              = "REFUSED"
	FailReasonDamagedGoods         = "DAMAGED_GOODS"
	FailReasonPaymentIssue         = "PAYMENT_ISSUE"
	FailReasonOther                = "OTHER"
)

type GeoPoint struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	AccuracyM float64 `json:"accuracy_m,omitempty"`
}

type ProofOfDelivery struct {
	PhotoRefs     []string  `json:"photo_refs"`
	SignatureRef  *string   `json:"signature_ref,omitempty"`
	RecipientName *string   `json:"recipient_name,omitempty"`
	Notes         *string   `json:"notes,omitempty"`
	Location      GeoPoint  `json:"location"`
	CapturedAt    time.Time `json:"captured_at"`
}

// Complete reports whether the proof bundle is sufficient for a SUCCESS
// transition: at least one photo is mandatory, everything else is optional.
func (p *ProofOfDelivery) Complete() bool {
	return p != nil && len(p.PhotoRefs) > 0
}

type CODPayment struct {
	AmountMinor   int64      `json:"amount_minor"`
	Currency      string     `json:"currency"`
	Method        string     `json:"method"`
	Status        string     `json:"status"`
	TransactionID *string    `json:"transaction_id,omitempty"`
	ProofRef      *string    `json:"proof_ref,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

type DeliveryPoint struct {
	ID     uint64
	TripID uint64
	Seq    int32

	Status string

	Address       string
	RecipientName string

	RequiresCOD    bool
	CODAmountMinor int64
	CODCurrency    string
	CODPayment     *CODPayment

	Proof *ProofOfDelivery

	StartedAt     *time.Time
	StartLocation *GeoPoint
	EndedAt       *time.Time
	EndLocation   *GeoPoint

	FailReason *string
	FailNotes  *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal: SUCCESS и FAILED — мягко-терминальные, точка не удаляется.
func (d *DeliveryPoint) Terminal() bool {
	return d.Status == DeliveryStatusSuccess || d.Status == DeliveryStatusFailed
}

type Trip struct {
	ID       uint64
	DriverID string

	Status string

	// Derived from child point statuses, never set independently.
	CompletedDeliveries int32
	FailedDeliveries    int32
	TotalDeliveries     int32

	RejectReason *string

	AcceptedAt    *time.Time
	StartedAt     *time.Time
	StartLocation *GeoPoint
	CompletedAt   *time.Time
	EndLocation   *GeoPoint

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *Trip) Terminal() bool {
	return t.Status == TripStatusCompleted || t.Status == TripStatusRejected
}

type SyncQueueItem struct {
	ID       uint64
	Endpoint string
	Method   string
	Payload  json.RawMessage

	// Ordering per entity relies on insertion order; kind+id identify the target.
	TargetKind string
	TargetID   uint64

	RetryCount  int32
	MaxRetries  int32
	LastRetryAt *time.Time
	NextRetryAt time.Time
	LastError   *string

	Status string

	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	TargetKindTrip          = "TRIP"
	TargetKindDeliveryPoint = "DELIVERY_POINT"
)
