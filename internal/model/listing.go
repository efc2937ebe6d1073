// Package model defines the core data types shared across the enrichment pipeline.
package model

import (
	"strconv"
	"strings"
	"time"
)

// Record is one source spreadsheet row: column name to scalar value
// (string, float64, bool, or nil). Records are never modified after ingest.
type Record map[string]any

// String renders the value of col as trimmed text. Missing columns and nil
// values render as "".
func (r Record) String(col string) string {
	if col == "" || r == nil {
		return ""
	}
	v, ok := r[col]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// DetectedColumns maps canonical field names to source column names. An
// empty string means the column was not found.
type DetectedColumns struct {
	Address      string `json:"address,omitempty" yaml:"address,omitempty"`
	Zip          string `json:"zip,omitempty" yaml:"zip,omitempty"`
	City         string `json:"city,omitempty" yaml:"city,omitempty"`
	County       string `json:"county,omitempty" yaml:"county,omitempty"`
	ListingID    string `json:"listing_id,omitempty" yaml:"listing_id,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty" yaml:"neighborhood,omitempty"`
	Community    string `json:"community,omitempty" yaml:"community,omitempty"`
}

// HasAddress reports whether an address column was detected.
func (c DetectedColumns) HasAddress() bool {
	return c.Address != ""
}

// ResultStatus is the outcome of processing one record.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
	StatusCached  ResultStatus = "cached"
)

// Provenance tags for enriched fields. Provider-sourced values use the
// provider name as their tag.
const (
	SourceExcel = "Excel"
	SourceCache = "Cache"
)

// ProcessedResult is a Record plus the enrichment outcome. Exactly one is
// produced per Record.
type ProcessedResult struct {
	Index              int          `json:"index"`
	Record             Record       `json:"record"`
	Status             ResultStatus `json:"status"`
	Provider           string       `json:"provider,omitempty"`
	Latitude           *float64     `json:"latitude,omitempty"`
	Longitude          *float64     `json:"longitude,omitempty"`
	FormattedAddress   string       `json:"formatted_address,omitempty"`
	HouseNumber        string       `json:"house_number,omitempty"`
	Neighborhood       string       `json:"neighborhood,omitempty"`
	NeighborhoodSource string       `json:"neighborhood_source,omitempty"`
	Community          string       `json:"community,omitempty"`
	CommunitySource    string       `json:"community_source,omitempty"`
	Error              string       `json:"error,omitempty"`
	DurationMS         int64        `json:"duration_ms"`
	CacheHit           bool         `json:"cache_hit"`
	CompletedAt        time.Time    `json:"completed_at"`

	// Calls counts external provider invocations made for this record.
	// Consumed by the stats tracker; not persisted.
	Calls map[string]int `json:"-"`
}

// Succeeded reports whether the record was geocoded, either live or from cache.
func (r ProcessedResult) Succeeded() bool {
	return r.Status == StatusSuccess || r.Status == StatusCached
}
