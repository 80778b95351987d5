package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotEvents(t *testing.T) {
	generatedAt := time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC)
	snap := ViewSnapshot{
		Filter: FilterState{
			Range:      DefaultTimeRange(time.UTC),
			Categories: NewCategorySet([]string{"轿车", "厂房"}),
		},
		Locations: []DerivedLocation{
			{FireCode: 5001, FireLat: 30.2741, FireLng: 120.1551, StationCode: "HZ01"},
			{FireCode: 5002, FireLat: 30.2810, FireLng: 120.1702, StationCode: "HZ02"},
		},
		Stations:    []DerivedStation{{StationCode: "HZ01", TaskCount: 3}},
		GeneratedAt: generatedAt,
	}

	events, err := SnapshotEvents(snap)
	require.NoError(t, err)
	require.Len(t, events, 4)

	keys := make([]string, len(events))
	for i, e := range events {
		keys[i] = string(e.Key)
		assert.Equal(t, generatedAt.Format(time.RFC3339), e.Headers["generated_at"])
	}
	assert.Equal(t, []string{"filter:active", "location:5001", "location:5002", "station:HZ01"}, keys)
	assert.Equal(t, ViewFilter, events[0].Headers["view"])
	assert.Equal(t, ViewLocation, events[1].Headers["view"])
	assert.Equal(t, ViewStation, events[3].Headers["view"])

	var filter struct {
		Categories []string `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(events[0].Value, &filter))
	assert.Equal(t, []string{"厂房", "轿车"}, filter.Categories)

	var st DerivedStation
	require.NoError(t, json.Unmarshal(events[3].Value, &st))
	assert.Equal(t, 3, st.TaskCount)
}

func TestSnapshotEvents_EmptyViews(t *testing.T) {
	events, err := SnapshotEvents(ViewSnapshot{Filter: FilterState{Categories: CategorySet{}}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"start":"0001-01-01T00:00:00Z","end":"0001-01-01T00:00:00Z","categories":[]}`, string(events[0].Value))
}
