package models

import "time"

// PushEnvelope is the message produced by the API gateway and consumed by
// the pusher. One envelope fans out to one notification per device token.
type PushEnvelope struct {
	RequestID        string         `json:"request_id"`
	CreatedAt        time.Time      `json:"created_at"`
	DeviceTokens     []string       `json:"device_tokens"`
	Alert            any            `json:"alert,omitempty"`
	Badge            int            `json:"badge,omitempty"`
	Sound            string         `json:"sound,omitempty"`
	Category         string         `json:"category,omitempty"`
	ContentAvailable bool           `json:"content_available,omitempty"`
	Expiry           int64          `json:"expiry,omitempty"` // unix epoch seconds, 0 = no expiry
	Custom           map[string]any `json:"custom,omitempty"`
	Variables        map[string]any `json:"variables,omitempty"`
	RetryCount       int            `json:"retry_count"`
}
