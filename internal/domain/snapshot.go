package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// View header values identifying what a snapshot event carries.
const (
	ViewFilter   = "filter"
	ViewLocation = "location"
	ViewStation  = "station"
)

// SnapshotEvents flattens a snapshot into keyed events: one for the filter, one per
// location keyed by fire code, and one per station keyed by station code. Keys are
// stable so a compacted topic retains the latest view of each entity.
func SnapshotEvents(s ViewSnapshot) ([]OutputEvent, error) {
	generatedAt := s.GeneratedAt.Format(time.RFC3339)
	events := make([]OutputEvent, 0, 1+len(s.Locations)+len(s.Stations))

	add := func(view, key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("serialize %s %s: %w", view, key, err)
		}
		events = append(events, OutputEvent{
			Key:   []byte(view + ":" + key),
			Value: data,
			Headers: map[string]string{
				"view":         view,
				"generated_at": generatedAt,
			},
		})
		return nil
	}

	if err := add(ViewFilter, "active", s.Filter); err != nil {
		return nil, err
	}
	for _, loc := range s.Locations {
		if err := add(ViewLocation, strconv.FormatInt(loc.FireCode, 10), loc); err != nil {
			return nil, err
		}
	}
	for _, st := range s.Stations {
		if err := add(ViewStation, st.StationCode, st); err != nil {
			return nil, err
		}
	}
	return events, nil
}
