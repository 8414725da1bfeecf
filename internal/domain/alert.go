package domain

import "time"

// AlertEventType distinguishes alert lifecycle events from the alerts
// collaborator.
type AlertEventType string

const (
	AlertOpened AlertEventType = "alert_opened"
	AlertClosed AlertEventType = "alert_closed"
)

// AlertEvent is the engine's view of an alert lifecycle transition. The alert
// service reacts by allocating into (opened) or selling out of (closed) the
// corresponding position.
type AlertEvent struct {
	Type       AlertEventType `json:"type"`
	AlertID    string         `json:"alert_id"`
	PoolID     string         `json:"pool_id"`
	Symbol     string         `json:"symbol"`
	EntryPrice float64        `json:"entry_price,omitempty"`
	ExitPrice  float64        `json:"exit_price,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
