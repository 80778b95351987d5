package domain

import (
	"encoding/json"
	"slices"
	"time"
)

// TimeRange is a closed interval [Start, End].
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeRange validates and builds a range. Start == End is a valid single-instant range.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if start.After(end) {
		return TimeRange{}, &InvalidRangeError{Start: start, End: end}
	}
	return TimeRange{Start: start, End: end}, nil
}

// Contains reports whether t lies inside the range, bounds included.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// DefaultTimeRange covers the full span of the published data set.
func DefaultTimeRange(loc *time.Location) TimeRange {
	if loc == nil {
		loc = time.UTC
	}
	return TimeRange{
		Start: time.Date(2007, time.January, 1, 0, 0, 0, 0, loc),
		End:   time.Date(2021, time.January, 1, 0, 0, 0, 0, loc),
	}
}

// CategorySet is a set of fire_type labels.
type CategorySet map[string]struct{}

// NewCategorySet builds a set from labels. Duplicates collapse.
func NewCategorySet(labels []string) CategorySet {
	s := make(CategorySet, len(labels))
	for _, l := range labels {
		s[l] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s CategorySet) Has(label string) bool {
	_, ok := s[label]
	return ok
}

// Sorted returns the labels in lexical order.
func (s CategorySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

// Clone returns an independent copy.
func (s CategorySet) Clone() CategorySet {
	out := make(CategorySet, len(s))
	for l := range s {
		out[l] = struct{}{}
	}
	return out
}

// FilterState is the active time range and category set driving every derived view.
type FilterState struct {
	Range      TimeRange
	Categories CategorySet
}

// Match reports whether an incident passes both the time and category predicates.
func (f FilterState) Match(rec IncidentRecord) bool {
	return f.Range.Contains(rec.FireTime) && f.Categories.Has(rec.FireType)
}

// MarshalJSON renders categories as a sorted list.
func (f FilterState) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start      time.Time `json:"start"`
		End        time.Time `json:"end"`
		Categories []string  `json:"categories"`
	}{f.Range.Start, f.Range.End, f.Categories.Sorted()})
}
