package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	errMissing   = errors.New("missing value")
	errNotFinite = errors.New("value is not finite")
	errBadDate   = errors.New("unrecognized date format")
	errBadFactor = errors.New("expected a number or an array of numbers")
)

// ErrDuplicateTimestamp is wrapped by a ParseError when a period appears twice in one series.
var ErrDuplicateTimestamp = errors.New("duplicate timestamp")

// zonedLayouts carry their own offset; localLayouts are read in the Normalizer's location.
var (
	zonedLayouts = []string{time.RFC3339Nano, time.RFC3339}
	localLayouts = []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"2006/01/02 15:04:05",
		"2006/01/02",
		"2006-01",
	}
)

// Normalizer maps raw rows and documents to typed records. It holds no state besides the
// location used for zone-less timestamps and is safe for concurrent use.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer creates a Normalizer. A nil location means UTC.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Location returns the zone used for timestamps without an offset.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// ParseIncident normalizes one fire_info row.
func (n *Normalizer) ParseIncident(row RawRow) (IncidentRecord, error) {
	p := rowParser{row: row, loc: n.loc}
	rec := IncidentRecord{
		ID:               p.int(FieldID),
		FireCode:         p.int(FieldFireCode),
		FireTime:         p.date(FieldFireTime),
		FireType:         p.str(FieldFireType),
		StationCode:      p.str(FieldStationCode),
		BattleType:       p.str(FieldBattleType),
		FireLat:          p.float(FieldFireLat),
		FireLng:          p.float(FieldFireLng),
		StationLat:       p.float(FieldStationLat),
		StationLng:       p.float(FieldStationLng),
		StationBuildTime: p.date(FieldStationBuildTime),
	}
	if p.err != nil {
		return IncidentRecord{}, p.err
	}
	return rec, nil
}

// ParseWeather normalizes one weather_info row. Day-count columns use integer parsing.
func (n *Normalizer) ParseWeather(row RawRow) (WeatherRecord, error) {
	p := rowParser{row: row, loc: n.loc}
	rec := WeatherRecord{
		Time:          p.date(FieldTime),
		T:             p.factor(FactorT),
		TMaxAve:       p.factor(FactorTMaxAve),
		TMinAve:       p.factor(FactorTMinAve),
		TMaxAbs:       p.factor(FactorTMaxAbs),
		TMinAbs:       p.factor(FactorTMinAbs),
		Precipitation: p.factor(FactorPrecipitation),
		Days1mm:       int(p.factor(FactorDays1mm)),
		Days01mm:      int(p.factor(FactorDays01mm)),
		DaysSnow:      int(p.factor(FactorDaysSnow)),
		DaysStorm:     int(p.factor(FactorDaysStorm)),
		DaysFog:       int(p.factor(FactorDaysFog)),
		DaysFrost:     int(p.factor(FactorDaysFrost)),
	}
	if p.err != nil {
		return WeatherRecord{}, p.err
	}
	return rec, nil
}

// ParseSocio normalizes one other_info document. Each indicator may be a number, a
// numeric string, or an array of either.
func (n *Normalizer) ParseSocio(doc RawDocument) (SocioRecord, error) {
	rawTime, ok := doc[FieldTime]
	if !ok {
		return SocioRecord{}, newParseError(FieldTime, "", errMissing)
	}
	var timeStr string
	if err := json.Unmarshal(rawTime, &timeStr); err != nil {
		return SocioRecord{}, newParseError(FieldTime, string(rawTime), err)
	}
	t, err := parseDate(timeStr, n.loc)
	if err != nil {
		return SocioRecord{}, newParseError(FieldTime, timeStr, err)
	}

	samples := make([][]float64, len(SocioFactors))
	for i, name := range SocioFactors {
		raw, ok := doc[name]
		if !ok {
			return SocioRecord{}, newParseError(name, "", errMissing)
		}
		vals, err := decodeSamples(raw)
		if err != nil {
			return SocioRecord{}, newParseError(name, string(raw), err)
		}
		samples[i] = vals
	}

	return SocioRecord{
		Time:                  t,
		PopulationDensity:     samples[0],
		MeanRegisteredCapital: samples[1],
		EnterpriseCount:       samples[2],
	}, nil
}

// rowParser keeps the first error so record literals can be built in one expression.
type rowParser struct {
	row RawRow
	loc *time.Location
	err error
}

func (p *rowParser) lookup(field string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, ok := p.row[field]
	if !ok {
		p.err = newParseError(field, "", errMissing)
		return "", false
	}
	return v, true
}

func (p *rowParser) str(field string) string {
	v, _ := p.lookup(field)
	return strings.TrimSpace(v)
}

func (p *rowParser) int(field string) int64 {
	v, ok := p.lookup(field)
	if !ok {
		return 0
	}
	n, err := parseInt(v)
	if err != nil {
		p.err = newParseError(field, v, err)
	}
	return n
}

func (p *rowParser) float(field string) float64 {
	v, ok := p.lookup(field)
	if !ok {
		return 0
	}
	f, err := parseFloat(v)
	if err != nil {
		p.err = newParseError(field, v, err)
	}
	return f
}

// factor parses a weather column with the numeric kind it is declared as.
func (p *rowParser) factor(field string) float64 {
	if isIntegerFactor(field) {
		return float64(p.int(field))
	}
	return p.float(field)
}

func (p *rowParser) date(field string) time.Time {
	v, ok := p.lookup(field)
	if !ok {
		return time.Time{}
	}
	t, err := parseDate(v, p.loc)
	if err != nil {
		p.err = newParseError(field, v, err)
	}
	return t
}

func newParseError(field, value string, err error) *ParseError {
	return &ParseError{Field: field, Value: value, Row: -1, Err: err}
}

func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errMissing
	}
	return strconv.ParseInt(s, 10, 64)
}

// parseFloat rejects NaN and infinities, which strconv otherwise accepts.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errMissing
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}
	return v, nil
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errMissing
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errBadDate
}

// decodeSamples accepts a scalar or an array of scalars. JSON null is rejected rather
// than decoded to zero.
func decodeSamples(raw json.RawMessage) ([]float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		out := make([]float64, 0, len(items))
		for _, item := range items {
			v, err := decodeScalar(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	v, err := decodeScalar(raw)
	if err != nil {
		return nil, err
	}
	return []float64{v}, nil
}

func decodeScalar(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return 0, errMissing
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return parseFloat(s)
	case raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'):
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return 0, err
		}
		return v, nil
	default:
		return 0, errBadFactor
	}
}
