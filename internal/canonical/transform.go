// Package canonical turns staged raw payloads into the canonical tables.
//
// The transform runs three sub-stages in a fixed order: countries,
// indicators, timeseries. Each sub-stage commits independently and is
// logged separately; the first failing sub-stage aborts the run but does
// not roll back the ones that already completed.
package canonical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gpetl/internal/joblog"
	"gpetl/internal/metrics"
	"gpetl/internal/store"
	"gpetl/internal/teapi"
)

// Sub-stage names as they appear in ingestion_log and metrics.
const (
	StageCountries  = "transform_countries"
	StageIndicators = "transform_indicators"
	StageTimeseries = "transform_timeseries"
)

// Transformer reads the raw staging tables and upserts canonical rows.
type Transformer struct {
	repo store.Repository
	log  *joblog.Recorder

	now func() time.Time
}

func New(repo store.Repository, log *joblog.Recorder) *Transformer {
	return &Transformer{repo: repo, log: log, now: time.Now}
}

// Run executes all three sub-stages and stops at the first failure.
func (t *Transformer) Run(ctx context.Context) error {
	if err := t.stage(ctx, StageCountries, t.countries); err != nil {
		return err
	}
	if err := t.stage(ctx, StageIndicators, t.indicators); err != nil {
		return err
	}
	return t.stage(ctx, StageTimeseries, t.timeseries)
}

func (t *Transformer) stage(ctx context.Context, name string, fn func(context.Context) (int64, error)) error {
	started := t.now()
	records, err := fn(ctx)
	if err != nil {
		t.log.Failed(ctx, name, err.Error(), started)
		metrics.RecordStep(name, joblog.StatusFailed, t.now().Sub(started), 0)
		return fmt.Errorf("%s: %w", name, err)
	}
	t.log.Success(ctx, name, records, started)
	metrics.RecordStep(name, joblog.StatusSuccess, t.now().Sub(started), records)
	return nil
}

// countries projects {country_code, country_name, region} out of every
// staged country-metadata payload. An empty payload still produces a row:
// country_name falls back to the code so the country stays addressable.
func (t *Transformer) countries(ctx context.Context) (int64, error) {
	rows, err := t.repo.SelectRows(ctx, store.TableRawMetadata,
		[]string{"country_code", "response_data"},
		[]store.Filter{{Column: "endpoint_type", Value: store.EndpointTypeCountries}},
		"id")
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, errors.New("no raw country metadata to transform")
	}

	// Later stagings of the same country win; upserting the same key twice
	// in one statement is an error in Postgres.
	idx := make(map[string]int)
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		code := store.NormalizeKey(r[0])
		if code == "" {
			continue
		}
		raw, err := rawJSON(r[1])
		if err != nil {
			return 0, fmt.Errorf("country %s: %w", code, err)
		}
		var metas []teapi.CountryMeta
		if err := json.Unmarshal(raw, &metas); err != nil {
			return 0, fmt.Errorf("country %s: decode payload: %w", code, err)
		}

		name := code
		var region any
		if len(metas) > 0 {
			if metas[0].CountryName != "" {
				name = metas[0].CountryName
			}
			if metas[0].Continent != "" {
				region = metas[0].Continent
			}
		}

		row := []any{code, name, region}
		if i, ok := idx[code]; ok {
			out[i] = row
		} else {
			idx[code] = len(out)
			out = append(out, row)
		}
	}

	return t.repo.UpsertRows(ctx, store.TableCanonicalCountries,
		[]string{"country_code", "country_name", "region"}, out,
		[]string{"country_code"}, []string{"country_name", "region"})
}

// indicators reads the most recently staged indicators payload and upserts
// one canonical row per category, renamed via IndicatorNames where a
// mapping exists.
func (t *Transformer) indicators(ctx context.Context) (int64, error) {
	rows, err := t.repo.SelectRows(ctx, store.TableRawMetadata,
		[]string{"response_data"},
		[]store.Filter{{Column: "endpoint_type", Value: store.EndpointTypeIndicators}},
		"id")
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, errors.New("no raw indicator metadata to transform")
	}

	raw, err := rawJSON(rows[len(rows)-1][0])
	if err != nil {
		return 0, err
	}
	var metas []teapi.IndicatorMeta
	if err := json.Unmarshal(raw, &metas); err != nil {
		return 0, fmt.Errorf("decode payload: %w", err)
	}

	idx := make(map[string]int)
	out := make([][]any, 0, len(metas))
	for _, m := range metas {
		name := m.Category
		if display, ok := IndicatorNames[NormalizeName(m.Category)]; ok {
			name = display
		}

		var desc, unit any
		if m.Description != "" {
			desc = m.Description
		}
		if m.Unit != "" {
			unit = m.Unit
		}

		row := []any{name, desc, unit}
		if i, ok := idx[name]; ok {
			out[i] = row
		} else {
			idx[name] = len(out)
			out = append(out, row)
		}
	}
	if len(out) == 0 {
		return 0, errors.New("indicator payload contains no categories")
	}

	return t.repo.UpsertRows(ctx, store.TableCanonicalIndicators,
		[]string{"indicator_name", "description", "unit"}, out,
		[]string{"indicator_name"}, []string{"description", "unit"})
}

// timeseries joins staged observations with the canonical indicator ids and
// upserts them keyed on (country_code, indicator_id, date_value,
// vintage_date). Rows whose indicator has no canonical counterpart are
// excluded without error. A NULL vintage_date is coalesced to the
// observation date so the upsert key is always complete.
func (t *Transformer) timeseries(ctx context.Context) (int64, error) {
	rawRows, err := t.repo.SelectRows(ctx, store.TableRawTimeseries,
		[]string{"country_code", "indicator_name", "date_value", "value_raw",
			"unit_raw", "source_url", "release_date", "vintage_date", "content_hash"},
		nil, "id")
	if err != nil {
		return 0, err
	}
	if len(rawRows) == 0 {
		return 0, errors.New("no raw timeseries data to transform")
	}

	indRows, err := t.repo.SelectRows(ctx, store.TableCanonicalIndicators,
		[]string{"indicator_name", "indicator_id"}, nil, "")
	if err != nil {
		return 0, err
	}
	byName, err := store.KeyValueMap(indRows)
	if err != nil {
		return 0, fmt.Errorf("indicator lookup: %w", err)
	}
	lookup := make(map[string]int64, len(byName))
	for name, id := range byName {
		lookup[NormalizeName(name)] = id
	}

	ingestedAt := t.now().UTC()

	idx := make(map[string]int)
	out := make([][]any, 0, len(rawRows))
	for _, r := range rawRows {
		id, ok := lookup[NormalizeName(store.NormalizeKey(r[1]))]
		if !ok {
			continue
		}

		vintage := r[7]
		if vintage == nil {
			vintage = r[2]
		}

		row := []any{r[0], id, r[2], r[3], r[4], r[5], r[6], vintage, r[8], ingestedAt}
		key := fmt.Sprintf("%s|%d|%s|%s",
			store.NormalizeKey(r[0]), id, store.NormalizeKey(r[2]), store.NormalizeKey(vintage))
		if i, ok := idx[key]; ok {
			out[i] = row
		} else {
			idx[key] = len(out)
			out = append(out, row)
		}
	}

	return t.repo.UpsertRows(ctx, store.TableCanonicalTimeseries,
		[]string{"country_code", "indicator_id", "date_value", "value", "unit",
			"source_url", "release_date", "vintage_date", "content_hash", "ingested_at"},
		out,
		[]string{"country_code", "indicator_id", "date_value", "vintage_date"},
		[]string{"value", "unit", "source_url", "release_date", "content_hash", "ingested_at"})
}

// rawJSON recovers the staged payload bytes. The JSON column comes back as
// text from SQLite and as decoded values from pgx, so both forms are
// accepted.
func rawJSON(v any) ([]byte, error) {
	switch p := v.(type) {
	case nil:
		return nil, errors.New("payload is NULL")
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return json.Marshal(p)
	}
}
