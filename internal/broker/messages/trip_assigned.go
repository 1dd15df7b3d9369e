package messages

import "time"

// TripAssigned — серверное назначение рейса, приезжает водителю через kafka.
// Точки уже созданы на сервере; агент только импортирует их локально.
type TripAssigned struct {
	TripID     uint64               `json:"trip_id"`
	DriverID   string               `json:"driver_id"`
	AssignedAt time.Time            `json:"assigned_at"`
	Points     []AssignedPoint      `json:"points"`
}

type AssignedPoint struct {
	PointID        uint64 `json:"point_id"`
	Seq            int32  `json:"seq"`
	Address        string `json:"address"`
	RecipientName  string `json:"recipient_name,omitempty"`
	RequiresCOD    bool   `json:"requires_cod"`
	CODAmountMinor int64  `json:"cod_amount_minor,omitempty"`
	CODCurrency    string `json:"cod_currency,omitempty"`
}
