package domain

import (
	"encoding/json"
	"time"
)

// RawRow is one row of tabular input keyed by column header.
type RawRow map[string]string

// RawDocument is one object of a JSON array input. Values are kept raw so a field can be
// decoded as either a scalar or an array.
type RawDocument map[string]json.RawMessage

// Incident CSV column names.
const (
	FieldID               = "id"
	FieldFireCode         = "fire_code"
	FieldFireTime         = "fire_time"
	FieldFireType         = "fire_type"
	FieldStationCode      = "station_code"
	FieldBattleType       = "battle_type"
	FieldFireLat          = "fire_lat"
	FieldFireLng          = "fire_lng"
	FieldStationLat       = "station_lat"
	FieldStationLng       = "station_lng"
	FieldStationBuildTime = "station_build_time"
)

// FieldTime is the timestamp column shared by weather rows and socio-economic documents.
const FieldTime = "time"

// IncidentRecord is a single fire-response row after normalization.
type IncidentRecord struct {
	ID               int64     `json:"id"`
	FireCode         int64     `json:"fire_code"`
	FireTime         time.Time `json:"fire_time"`
	FireType         string    `json:"fire_type"`
	StationCode      string    `json:"station_code"`
	BattleType       string    `json:"battle_type"`
	FireLat          float64   `json:"fire_lat"`
	FireLng          float64   `json:"fire_lng"`
	StationLat       float64   `json:"station_lat"`
	StationLng       float64   `json:"station_lng"`
	StationBuildTime time.Time `json:"station_build_time"`
}

// WeatherRecord is one period of climate observations.
type WeatherRecord struct {
	Time          time.Time `json:"time"`
	T             float64   `json:"T"`
	TMaxAve       float64   `json:"T. max ave."`
	TMinAve       float64   `json:"T. min ave."`
	TMaxAbs       float64   `json:"T. max abs."`
	TMinAbs       float64   `json:"T. min abs."`
	Precipitation float64   `json:"Prec.(mm)"`
	Days1mm       int       `json:"Days(1mm)"`
	Days01mm      int       `json:"Days(0.1mm)"`
	DaysSnow      int       `json:"Days(snow)"`
	DaysStorm     int       `json:"Days(storm)"`
	DaysFog       int       `json:"Days(fog)"`
	DaysFrost     int       `json:"Days(frost)"`
}

// SocioRecord is one period of socio-economic indicators. Each indicator holds one
// sample per sub-region; scalar inputs become a single-sample slice.
type SocioRecord struct {
	Time                  time.Time `json:"time"`
	PopulationDensity     []float64 `json:"population_density"`
	MeanRegisteredCapital []float64 `json:"mean_registered_capital"`
	EnterpriseCount       []float64 `json:"enterprise_count"`
}

// JoinedIncidentFactors is an incident with the weather and socio-economic factors in
// effect for its period. A factor with no enclosing period is NaN.
type JoinedIncidentFactors struct {
	Incident IncidentRecord     `json:"incident"`
	Factors  map[string]float64 `json:"factors"`
}

// DerivedLocation is the per-fire projection used by the location map layer.
type DerivedLocation struct {
	FireCode    int64   `json:"fire_code"`
	FireLat     float64 `json:"fire_lat"`
	FireLng     float64 `json:"fire_lng"`
	StationCode string  `json:"station_code"`
	BattleType  string  `json:"battle_type"`
	FireType    string  `json:"fire_type"`
}

// DerivedStation is the per-station projection with the number of filtered incident
// rows dispatched from that station.
type DerivedStation struct {
	StationCode string  `json:"station_code"`
	StationLat  float64 `json:"station_lat"`
	StationLng  float64 `json:"station_lng"`
	TaskCount   int     `json:"task_count"`
}

// CategoryCount is the number of filtered incidents carrying one fire_type.
type CategoryCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// PeriodCount is the number of filtered incidents in one calendar month.
type PeriodCount struct {
	Date  time.Time `json:"date"`
	Count int       `json:"count"`
}

// ViewSnapshot bundles the derived map views published to downstream consumers.
type ViewSnapshot struct {
	Filter      FilterState       `json:"filter"`
	Locations   []DerivedLocation `json:"locations"`
	Stations    []DerivedStation  `json:"stations"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// OutputEvent is the serialized form destined for the sink topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}
