// Package eventstore is the durable record of DeliveryEvents and their
// DeliveryAttempts: the state machine described for the Delivery Worker,
// persisted with optimistic concurrency on every transition.
package eventstore

import "time"

// Status is the closed set of DeliveryEvent lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
	StatusDLQ        Status = "dlq"
	StatusCancelled  Status = "cancelled"
)

// DefaultMaxAttempts is used when an event is created without an explicit
// max_attempts override.
const DefaultMaxAttempts = 5

// DeliveryEvent is one unit of forwardable payload.
type DeliveryEvent struct {
	ID                  string
	TenantID            string
	RouteID             string
	DestinationID       string
	SourceType          string
	SourceEventID       *string
	Payload             []byte
	TransformedPayload  []byte
	Status              Status
	AttemptsCount       int
	MaxAttempts         int
	NextRetryAt         *time.Time
	DeliveredAt         *time.Time
	FailedAt            *time.Time
	ErrorMessage         string
	Metadata            map[string]interface{}
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DeliveryAttempt is an immutable, append-only child of a DeliveryEvent.
type DeliveryAttempt struct {
	ID            string
	EventID       string
	AttemptNumber int
	RequestURL    string
	RequestMethod string
	StatusCode    *int
	ResponseBody  string
	ErrorMessage  string
	DurationMS    int64
	AttemptedAt   time.Time
}

// Stats is the aggregate returned by StatsByWindow.
type Stats struct {
	TenantID        string
	WindowHours     int
	TotalEvents     int
	DeliveredCount  int
	FailedCount     int
	DLQCount        int
	PendingCount    int
	ErrorRatePct    float64
}
