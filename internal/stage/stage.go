// Package stage fetches API payloads and writes them to the raw staging
// tables, one ingestion_log entry per endpoint hit.
//
// Staging is append-only and deliberately dumb: every fetched payload is
// stored with its fingerprint and status code, duplicates included. All
// dedup and shaping happens later in the transform.
package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"gpetl/internal/canonical"
	"gpetl/internal/config"
	"gpetl/internal/fingerprint"
	"gpetl/internal/joblog"
	"gpetl/internal/store"
	"gpetl/internal/teapi"
)

// Fetcher is the slice of the API client the staging jobs use.
type Fetcher interface {
	CountryMetadata(ctx context.Context, country string) (*teapi.CountryMetadataResult, error)
	Indicators(ctx context.Context) (*teapi.IndicatorsResult, error)
	HistoricalSeries(ctx context.Context, country, indicator string, start, end time.Time) (*teapi.SeriesResult, error)
}

// Stager runs the three ingestion jobs against one store.
type Stager struct {
	client Fetcher
	repo   store.Repository
	log    *joblog.Recorder
	job    config.Job
	start  time.Time
	end    time.Time

	now func() time.Time
}

func New(client Fetcher, repo store.Repository, log *joblog.Recorder, cfg config.Config) *Stager {
	return &Stager{
		client: client,
		repo:   repo,
		log:    log,
		job:    cfg.Job,
		start:  cfg.Start,
		end:    cfg.End,
		now:    time.Now,
	}
}

// Metadata stages one country-metadata payload per configured country, then
// the filtered indicators payload. A failing country is logged and skipped;
// the loop always visits every country.
func (s *Stager) Metadata(ctx context.Context) error {
	var failures int
	for _, c := range s.job.Countries {
		endpoint := "/country/" + url.PathEscape(c.Name)
		started := s.now()

		res, err := s.client.CountryMetadata(ctx, c.Name)
		if err != nil {
			s.log.Failed(ctx, endpoint, err.Error(), started)
			failures++
			continue
		}
		hash, err := fingerprint.FingerprintJSON(res.Raw)
		if err != nil {
			s.log.Failed(ctx, endpoint, err.Error(), started)
			failures++
			continue
		}

		row := []any{
			store.EndpointTypeCountries,
			c.Code,
			string(res.Raw),
			int64(res.Status),
			hash,
			s.now().UTC(),
		}
		if _, err := s.repo.InsertRows(ctx, store.TableRawMetadata, rawMetadataColumns, [][]any{row}); err != nil {
			s.log.Failed(ctx, endpoint, err.Error(), started)
			failures++
			continue
		}
		s.log.Success(ctx, endpoint, int64(len(res.Items)), started)
	}

	// The indicators batch is independent of the country loop and runs even
	// when every country fetch failed; it logs its own outcome.
	indErr := s.Indicators(ctx)
	if len(s.job.Countries) > 0 && failures == len(s.job.Countries) {
		return fmt.Errorf("all %d country metadata fetches failed", failures)
	}
	return indErr
}

// Indicators stages the /indicators payload, filtered to the configured
// categories. The stored payload is the filtered subset, but the
// fingerprint covers the full response so re-fetches of identical upstream
// data are recognizable regardless of filter changes.
func (s *Stager) Indicators(ctx context.Context) error {
	const endpoint = "/indicators"
	started := s.now()

	res, err := s.client.Indicators(ctx)
	if err != nil {
		s.log.Failed(ctx, endpoint, err.Error(), started)
		return err
	}

	wanted := make(map[string]bool, len(s.job.IndicatorNames))
	for _, name := range s.job.IndicatorNames {
		wanted[canonical.NormalizeName(name)] = true
	}

	var filtered []teapi.IndicatorMeta
	for _, m := range res.Items {
		if wanted[canonical.NormalizeName(m.Category)] {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) == 0 {
		msg := "No matching indicators found."
		s.log.Failed(ctx, endpoint, msg, started)
		return errors.New(msg)
	}

	payload, err := json.Marshal(filtered)
	if err != nil {
		s.log.Failed(ctx, endpoint, err.Error(), started)
		return fmt.Errorf("encode filtered indicators: %w", err)
	}
	hash, err := fingerprint.FingerprintJSON(res.Raw)
	if err != nil {
		s.log.Failed(ctx, endpoint, err.Error(), started)
		return fmt.Errorf("fingerprint indicators payload: %w", err)
	}

	row := []any{
		store.EndpointTypeIndicators,
		nil,
		string(payload),
		int64(res.Status),
		hash,
		s.now().UTC(),
	}
	if _, err := s.repo.InsertRows(ctx, store.TableRawMetadata, rawMetadataColumns, [][]any{row}); err != nil {
		s.log.Failed(ctx, endpoint, err.Error(), started)
		return err
	}
	s.log.Success(ctx, endpoint, int64(len(filtered)), started)
	return nil
}

// Timeseries stages historical observations for every configured
// country/indicator pair. Pairs are processed sequentially; a failing pair
// is logged and skipped. An empty result is a success with zero records,
// not an error.
func (s *Stager) Timeseries(ctx context.Context) error {
	pairs := 0
	failures := 0

	for _, c := range s.job.Countries {
		for _, indicator := range s.job.Indicators {
			pairs++
			endpoint := fmt.Sprintf("/historical/country/%s/indicator/%s/%s/%s",
				url.PathEscape(c.Name), url.PathEscape(indicator),
				s.start.Format("2006-01-02"), s.end.Format("2006-01-02"))
			started := s.now()

			res, err := s.client.HistoricalSeries(ctx, c.Name, indicator, s.start, s.end)
			if err != nil {
				s.log.Failed(ctx, endpoint, err.Error(), started)
				failures++
				continue
			}
			if len(res.Items) == 0 {
				s.log.Record(ctx, joblog.Entry{
					Endpoint:     endpoint,
					Status:       joblog.StatusSuccess,
					ErrorMessage: "No data returned",
					StartedAt:    started,
				})
				continue
			}

			rows, err := s.observationRows(c.Code, indicator, res.Items)
			if err != nil {
				s.log.Failed(ctx, endpoint, err.Error(), started)
				failures++
				continue
			}
			if _, err := s.repo.InsertRows(ctx, store.TableRawTimeseries, rawTimeseriesColumns, rows); err != nil {
				s.log.Failed(ctx, endpoint, err.Error(), started)
				failures++
				continue
			}
			s.log.Success(ctx, endpoint, int64(len(rows)), started)
		}
	}

	if pairs > 0 && failures == pairs {
		return fmt.Errorf("all %d timeseries fetches failed", failures)
	}
	return nil
}

var rawMetadataColumns = []string{
	"endpoint_type", "country_code", "response_data", "api_status_code", "content_hash", "fetched_at",
}

var rawTimeseriesColumns = []string{
	"country_code", "indicator_name", "date_value", "value_raw", "unit_raw",
	"source_url", "release_date", "vintage_date", "content_hash", "ingested_at",
}

// observationRows turns API observations into raw_te_timeseries rows, one
// per observation, each with its own fingerprint.
func (s *Stager) observationRows(countryCode, indicator string, items []teapi.Observation) ([][]any, error) {
	ingestedAt := s.now().UTC()

	rows := make([][]any, 0, len(items))
	for _, obs := range items {
		name := obs.Category
		if name == "" {
			if display, ok := s.job.IndicatorNames[indicator]; ok {
				name = display
			} else {
				name = indicator
			}
		}

		var value any
		if obs.Value != nil {
			value = *obs.Value
		}

		hash, err := fingerprint.Fingerprint(obs)
		if err != nil {
			return nil, fmt.Errorf("fingerprint observation: %w", err)
		}

		rows = append(rows, []any{
			countryCode,
			name,
			obs.DateTime.String(),
			value,
			nullableString(obs.Unit),
			nullableString(obs.SourceURL),
			nullableDate(obs.ReleaseDate),
			nullableDate(obs.VintageDate),
			hash,
			ingestedAt,
		})
	}
	return rows, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableDate(d teapi.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}
