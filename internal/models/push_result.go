package models

// PushResult captures the delivery outcome per device token.
type PushResult struct {
	Token      string `json:"token"`
	Identifier uint32 `json:"identifier"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

const (
	// ResultDelivered indicates the frame was written to the gateway.
	ResultDelivered = "delivered"
	// ResultFailed indicates an unrecoverable failure for this token.
	ResultFailed = "failed"
)
