// Package teapi is a typed client for the Trading Economics HTTP API.
//
// The API serves JSON arrays of objects. Payload shapes are modeled as
// explicit structs; anything that fails to decode, or is missing a required
// field, surfaces as a *ShapeError at decode time instead of leaking empty
// values into staged rows.
package teapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CountryMeta is one row of the /country/{country} response.
//
// Only CountryName and Continent are consumed downstream; the remaining
// fields are decoded so a staged payload can be inspected without re-parsing.
type CountryMeta struct {
	Country     string `json:"Country"`
	CountryName string `json:"CountryName"`
	Continent   string `json:"Continent"`
	Category    string `json:"Category"`
	Unit        string `json:"Unit"`
}

// IndicatorMeta is one row of the /indicators response.
type IndicatorMeta struct {
	Category      string `json:"Category"`
	CategoryGroup string `json:"CategoryGroup"`
	Description   string `json:"Description"`
	Unit          string `json:"Unit"`
}

// Observation is one historical data point from
// /historical/country/{c}/indicator/{i}/{start}/{end}.
//
// Value is a pointer because the API reports gaps as null, and a staged null
// must stay distinguishable from zero.
type Observation struct {
	Country     string   `json:"Country"`
	Category    string   `json:"Category"`
	DateTime    Date     `json:"DateTime"`
	Value       *float64 `json:"Value"`
	Unit        string   `json:"Unit"`
	SourceURL   string   `json:"SourceURL"`
	ReleaseDate Date     `json:"ReleaseDate"`
	VintageDate Date     `json:"VintageDate"`
}

// Date is a calendar date as the API serializes it.
//
// The API is inconsistent: the same field can arrive as "2024-03-31",
// "2024-03-31T00:00:00" or full RFC3339. All three are accepted; null and ""
// decode to the zero Date.
type Date struct {
	time.Time
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		d.Time = time.Time{}
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		d.Time = time.Time{}
		return nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("date: unrecognized value %q", s)
}

// MarshalJSON implements json.Marshaler, emitting the date-only form.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// String returns the date-only form ("2006-01-02"), or "" for the zero Date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format("2006-01-02")
}

// decodeCountryMeta decodes a /country payload. An empty array is legal here:
// the transform stage decides how to treat countries with no rows.
func decodeCountryMeta(raw []byte) ([]CountryMeta, error) {
	var items []CountryMeta
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &ShapeError{Endpoint: "country metadata", Err: err}
	}
	return items, nil
}

// decodeIndicatorMeta decodes an /indicators payload. Every row must carry a
// Category; a category-less indicator cannot be keyed downstream.
func decodeIndicatorMeta(raw []byte) ([]IndicatorMeta, error) {
	var items []IndicatorMeta
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &ShapeError{Endpoint: "indicator metadata", Err: err}
	}
	for i, it := range items {
		if strings.TrimSpace(it.Category) == "" {
			return nil, &ShapeError{
				Endpoint: "indicator metadata",
				Detail:   fmt.Sprintf("row %d: missing Category", i),
			}
		}
	}
	return items, nil
}

// decodeObservations decodes a historical payload. Every observation must
// carry a DateTime; a date-less observation has no canonical key.
func decodeObservations(raw []byte) ([]Observation, error) {
	var items []Observation
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &ShapeError{Endpoint: "historical series", Err: err}
	}
	for i, it := range items {
		if it.DateTime.IsZero() {
			return nil, &ShapeError{
				Endpoint: "historical series",
				Detail:   fmt.Sprintf("row %d: missing DateTime", i),
			}
		}
	}
	return items, nil
}
