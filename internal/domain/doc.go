// Package domain models fire-incident, weather, and socio-economic records for the
// Hangzhou fire data set, and the normalization rules that turn raw rows into them.
//
// # Data Sources
//
// Three files are delivered by the upstream fetcher and handed to the pipeline as
// already-split rows or documents:
//
//	fire_info.csv     one row per responding unit per fire event
//	weather_info.csv  one row per month of climate observations
//	other_info.json   array of socio-economic documents, one per period
//
// # Incident Conventions
//
// A fire event is identified by fire_code. Every unit dispatched to the event gets its
// own row with the same fire_code, so counting rows counts dispatches, and counting
// distinct fire_code values counts fires. Rows carrying the same fire_code normally share
// fire_time and coordinates; the first row in time order is authoritative.
//
// fire_type is one of the labels in [CategoryVocabulary]. The vocabulary only drives
// coloring and default filter state; an unknown label is kept as-is.
//
// Time format:
//
//	"2010-05-01 00:00:00" local wall-clock time, no zone.
//	Interpreted in the Normalizer's location (TIME_ZONE, default Asia/Shanghai).
//	RFC 3339 strings with an explicit offset keep their offset.
//
// # Weather Conventions
//
// Column names follow the climate bulletin headers verbatim, e.g. "T. max ave." for the
// average daily maximum temperature and "Days(0.1mm)" for the number of days with at
// least 0.1 mm of precipitation. Day counts are integers; everything else is a float.
//
// # Socio-Economic Conventions
//
// Each document carries a time plus three indicators. An indicator is either a number
// or an array of numbers (one sample per sub-region). Arrays carry no sub-region key, so
// sample order is the only identity they have and it is preserved as delivered.
//
// # Parsing Policy
//
// Nothing is coerced. A missing or malformed number or date yields a [*ParseError]
// naming the field and raw value, because a zero timestamp would corrupt sort order and
// a dropped row would silently corrupt per-station task counts.
package domain
