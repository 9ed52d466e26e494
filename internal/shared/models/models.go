package models

import "time"

// GatewayEvent is one persisted lifecycle event of a gateway request
type GatewayEvent struct {
	ID        int64
	RequestID string
	Type      string
	Endpoint  string
	Provider  string
	Model     string
	Attempt   int
	LatencyMs int64
	// ErrorMessage is nil for events that did not fail
	ErrorMessage *string
	CreatedAt    time.Time
}
