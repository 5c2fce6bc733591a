package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONMap is a generic JSON object column type: Value stores it as JSON
// and Scan reads it back from a []byte or string column.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
}

// StringSet is a JSON-array-of-strings column type: Value stores it as
// JSON and Scan reads it back from a []byte or string column (nil clears it).
type StringSet []string

func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *StringSet) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into StringSet", value)
	}
}

// TenantSummary is the aggregate dashboard read: across the whole
// ingestion pipeline for one tenant, how much traffic and how much of it
// is currently unhealthy.
type TenantSummary struct {
	TenantID          string    `json:"tenant_id" db:"tenant_id"`
	EventsLast24h     int       `json:"events_last_24h" db:"events_last_24h"`
	DeliveredLast24h  int       `json:"delivered_last_24h" db:"delivered_last_24h"`
	DLQLast24h        int       `json:"dlq_last_24h" db:"dlq_last_24h"`
	ActiveRoutes      int       `json:"active_routes" db:"active_routes"`
	ActiveDestinations int      `json:"active_destinations" db:"active_destinations"`
	OpenAlerts        int       `json:"open_alerts" db:"open_alerts"`
	GeneratedAt       time.Time `json:"generated_at" db:"generated_at"`
}
