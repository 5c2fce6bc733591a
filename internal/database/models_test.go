package database

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONMap_ValueAndScanRoundTrip(t *testing.T) {
	original := JSONMap{"form_id": "f1", "count": float64(3)}

	raw, err := original.Value()
	require.NoError(t, err)

	var scanned JSONMap
	require.NoError(t, scanned.Scan(raw))
	assert.Equal(t, original, scanned)
}

func TestJSONMap_ValueOnNilReturnsNil(t *testing.T) {
	var m JSONMap
	v, err := m.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestJSONMap_ScanFromStringColumn(t *testing.T) {
	var m JSONMap
	require.NoError(t, m.Scan(`{"a":1}`))
	assert.Equal(t, JSONMap{"a": float64(1)}, m)
}

func TestJSONMap_ScanRejectsUnsupportedType(t *testing.T) {
	var m JSONMap
	err := m.Scan(42)
	assert.Error(t, err)
}

func TestStringSet_ValueAndScanRoundTrip(t *testing.T) {
	original := StringSet{"in_app", "webhook"}

	raw, err := original.Value()
	require.NoError(t, err)

	var scanned StringSet
	require.NoError(t, scanned.Scan(raw))
	assert.Equal(t, original, scanned)
}

func TestStringSet_ScanNilClears(t *testing.T) {
	s := StringSet{"email"}
	require.NoError(t, s.Scan(nil))
	assert.Nil(t, s)
}

func TestStringSet_ScanRejectsUnsupportedType(t *testing.T) {
	var s StringSet
	err := s.Scan(3.14)
	assert.Error(t, err)
}

func TestTenantSummary_FieldsRoundTripThroughJSON(t *testing.T) {
	summary := TenantSummary{
		TenantID:           "tenant-1",
		EventsLast24h:      120,
		DeliveredLast24h:   110,
		DLQLast24h:         2,
		ActiveRoutes:       5,
		ActiveDestinations: 3,
		OpenAlerts:         1,
		GeneratedAt:        time.Now().UTC(),
	}

	raw, err := json.Marshal(summary)
	require.NoError(t, err)
	var decoded TenantSummary
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "tenant-1", decoded.TenantID)
	assert.Equal(t, 120, decoded.EventsLast24h)
	assert.LessOrEqual(t, decoded.DeliveredLast24h, decoded.EventsLast24h)
}
