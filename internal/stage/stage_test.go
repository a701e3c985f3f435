package stage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gpetl/internal/config"
	"gpetl/internal/joblog"
	"gpetl/internal/store"
	"gpetl/internal/teapi"
)

type fakeClient struct {
	metadata    map[string]*teapi.CountryMetadataResult
	metadataErr map[string]error

	indicators    *teapi.IndicatorsResult
	indicatorsErr error

	series    map[string]*teapi.SeriesResult
	seriesErr map[string]error
}

func (f *fakeClient) CountryMetadata(ctx context.Context, country string) (*teapi.CountryMetadataResult, error) {
	if err := f.metadataErr[country]; err != nil {
		return nil, err
	}
	return f.metadata[country], nil
}

func (f *fakeClient) Indicators(ctx context.Context) (*teapi.IndicatorsResult, error) {
	if f.indicatorsErr != nil {
		return nil, f.indicatorsErr
	}
	return f.indicators, nil
}

func (f *fakeClient) HistoricalSeries(ctx context.Context, country, indicator string, start, end time.Time) (*teapi.SeriesResult, error) {
	key := country + "/" + indicator
	if err := f.seriesErr[key]; err != nil {
		return nil, err
	}
	if res, ok := f.series[key]; ok {
		return res, nil
	}
	return &teapi.SeriesResult{}, nil
}

type captureRepo struct {
	store.Repository

	inserts map[string][][]any
	columns map[string][]string
	err     error
}

func newCaptureRepo() *captureRepo {
	return &captureRepo{
		inserts: map[string][][]any{},
		columns: map[string][]string{},
	}
}

func (c *captureRepo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if c.err != nil && table != store.TableIngestionLog {
		return 0, c.err
	}
	c.columns[table] = columns
	c.inserts[table] = append(c.inserts[table], rows...)
	return int64(len(rows)), nil
}

func (c *captureRepo) logged(column string) []any {
	idx := -1
	for i, col := range c.columns[store.TableIngestionLog] {
		if col == column {
			idx = i
		}
	}
	var out []any
	for _, row := range c.inserts[store.TableIngestionLog] {
		out = append(out, row[idx])
	}
	return out
}

func testConfig() config.Config {
	return config.Config{
		Job:   config.DefaultJob(),
		Start: time.Date(2020, 8, 28, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 8, 28, 0, 0, 0, 0, time.UTC),
	}
}

func newTestStager(client Fetcher, repo *captureRepo, job string) *Stager {
	s := New(client, repo, joblog.New(repo, job, nil), testConfig())
	s.now = func() time.Time { return time.Date(2025, 8, 28, 12, 0, 0, 0, time.UTC) }
	return s
}

func metadataResult(raw string, items int) *teapi.CountryMetadataResult {
	res := &teapi.CountryMetadataResult{
		Fetched: teapi.Fetched{Status: 200, Raw: []byte(raw)},
	}
	res.Items = make([]teapi.CountryMeta, items)
	return res
}

func indicatorsResult(categories ...string) *teapi.IndicatorsResult {
	res := &teapi.IndicatorsResult{
		Fetched: teapi.Fetched{Status: 200, Raw: []byte(`[]`)},
	}
	for _, c := range categories {
		res.Items = append(res.Items, teapi.IndicatorMeta{Category: c})
	}
	return res
}

func TestMetadata_ContinuesPastFailingCountry(t *testing.T) {
	client := &fakeClient{
		metadata: map[string]*teapi.CountryMetadataResult{
			"sweden":      metadataResult(`[{"Country":"Sweden"}]`, 1),
			"new zealand": metadataResult(`[]`, 0),
			"thailand":    metadataResult(`[{"Country":"Thailand"}]`, 1),
		},
		metadataErr: map[string]error{
			"mexico": errors.New("http 503 from /country/mexico"),
		},
		indicators: indicatorsResult("GDP", "Unemployment Rate"),
	}
	repo := newCaptureRepo()
	s := newTestStager(client, repo, "ingest_metadata")

	if err := s.Metadata(context.Background()); err != nil {
		t.Fatalf("Metadata: %v", err)
	}

	// Three country rows plus one indicators row staged.
	raw := repo.inserts[store.TableRawMetadata]
	if len(raw) != 4 {
		t.Fatalf("staged rows = %d, want 4", len(raw))
	}

	// Every iteration is logged: four countries plus the indicators fetch.
	statuses := repo.logged("status")
	if len(statuses) != 5 {
		t.Fatalf("log entries = %d, want 5", len(statuses))
	}
	var failed int
	for _, s := range statuses {
		if s == joblog.StatusFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed entries = %d, want exactly the mexico fetch", failed)
	}
}

func TestMetadata_AllCountriesFailingStillStagesIndicators(t *testing.T) {
	client := &fakeClient{
		metadataErr: map[string]error{
			"sweden": errors.New("down"), "mexico": errors.New("down"),
			"new zealand": errors.New("down"), "thailand": errors.New("down"),
		},
		indicators: indicatorsResult("GDP", "Unemployment Rate"),
	}
	repo := newCaptureRepo()
	s := newTestStager(client, repo, "ingest_metadata")

	err := s.Metadata(context.Background())
	if err == nil {
		t.Fatal("Metadata with every country failing: want error, got nil")
	}
	if !strings.Contains(err.Error(), "all 4 country metadata fetches failed") {
		t.Errorf("err = %v", err)
	}

	// The indicators batch is independent and still runs and stages its row.
	rows := repo.inserts[store.TableRawMetadata]
	if len(rows) != 1 {
		t.Fatalf("staged rows = %d, want just the indicators row", len(rows))
	}
	byCol := map[string]any{}
	for i, c := range repo.columns[store.TableRawMetadata] {
		byCol[c] = rows[0][i]
	}
	if byCol["endpoint_type"] != store.EndpointTypeIndicators {
		t.Errorf("endpoint_type = %v", byCol["endpoint_type"])
	}

	// Four failed country entries plus the successful indicators entry.
	statuses := repo.logged("status")
	if len(statuses) != 5 {
		t.Fatalf("log entries = %d, want 5", len(statuses))
	}
	if statuses[4] != joblog.StatusSuccess {
		t.Errorf("indicators entry status = %v", statuses[4])
	}
}

func TestIndicators_FiltersToConfiguredCategories(t *testing.T) {
	full := `[{"Category":"GDP"},{"Category":"Exports"}]`
	client := &fakeClient{
		indicators: &teapi.IndicatorsResult{
			Fetched: teapi.Fetched{Status: 200, Raw: []byte(full)},
			Items: []teapi.IndicatorMeta{
				{Category: "gdp"},
				{Category: "CONSUMER PRICE INDEX CPI"},
				{Category: "Exports"},
				{Category: "Balance of Trade"},
			},
		},
	}
	repo := newCaptureRepo()
	s := newTestStager(client, repo, "ingest_indicators")

	if err := s.Indicators(context.Background()); err != nil {
		t.Fatalf("Indicators: %v", err)
	}

	rows := repo.inserts[store.TableRawMetadata]
	if len(rows) != 1 {
		t.Fatalf("staged rows = %d, want 1", len(rows))
	}
	byCol := map[string]any{}
	for i, c := range repo.columns[store.TableRawMetadata] {
		byCol[c] = rows[0][i]
	}

	if byCol["endpoint_type"] != store.EndpointTypeIndicators {
		t.Errorf("endpoint_type = %v", byCol["endpoint_type"])
	}
	if byCol["country_code"] != nil {
		t.Errorf("country_code = %v, want NULL", byCol["country_code"])
	}

	// Only the matching categories survive; "Exports" is filtered out.
	payload := byCol["response_data"].(string)
	if strings.Contains(payload, "Exports") {
		t.Errorf("payload = %s, want Exports filtered out", payload)
	}
	for _, want := range []string{"gdp", "CONSUMER PRICE INDEX CPI", "Balance of Trade"} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload = %s, missing %s", payload, want)
		}
	}
}

func TestIndicators_NoMatchesIsFailed(t *testing.T) {
	client := &fakeClient{indicators: indicatorsResult("Exports", "Imports")}
	repo := newCaptureRepo()
	s := newTestStager(client, repo, "ingest_indicators")

	err := s.Indicators(context.Background())
	if err == nil {
		t.Fatal("Indicators with no matches: want error, got nil")
	}
	if len(repo.inserts[store.TableRawMetadata]) != 0 {
		t.Error("staged a row despite zero matches")
	}

	msgs := repo.logged("error_message")
	if len(msgs) != 1 || msgs[0] != "No matching indicators found." {
		t.Errorf("log messages = %v", msgs)
	}
}

func TestTimeseries_StagesOneRowPerObservation(t *testing.T) {
	v1, v2 := 2.1, 1.9
	obs := []teapi.Observation{
		{Country: "Sweden", Category: "GDP", DateTime: date("2024-06-30"), Value: &v1,
			Unit: "percent", SourceURL: "/sweden/gdp", VintageDate: date("2024-07-15")},
		{Country: "Sweden", Category: "GDP", DateTime: date("2024-03-31"), Value: &v2},
		{Country: "Sweden", Category: "GDP", DateTime: date("2023-12-31")},
	}
	client := &fakeClient{
		series: map[string]*teapi.SeriesResult{
			"sweden/gdp": {Fetched: teapi.Fetched{Status: 200}, Items: obs},
		},
	}
	repo := newCaptureRepo()
	s := newTestStager(client, repo, "ingest_timeseries")
	s.job.Countries = []config.Country{{Name: "sweden", Code: "SWE"}}
	s.job.Indicators = []string{"gdp"}

	if err := s.Timeseries(context.Background()); err != nil {
		t.Fatalf("Timeseries: %v", err)
	}

	rows := repo.inserts[store.TableRawTimeseries]
	if len(rows) != 3 {
		t.Fatalf("staged rows = %d, want 3", len(rows))
	}
	byCol := func(n int, col string) any {
		for i, c := range repo.columns[store.TableRawTimeseries] {
			if c == col {
				return rows[n][i]
			}
		}
		t.Fatalf("no column %s", col)
		return nil
	}

	if byCol(0, "country_code") != "SWE" || byCol(0, "indicator_name") != "GDP" {
		t.Errorf("row 0 = %v", rows[0])
	}
	if byCol(0, "vintage_date") != "2024-07-15" || byCol(0, "unit_raw") != "percent" {
		t.Errorf("row 0 = %v", rows[0])
	}
	// Absent fields stage as NULLs, and a null Value stays NULL.
	if byCol(1, "vintage_date") != nil || byCol(1, "unit_raw") != nil {
		t.Errorf("row 1 = %v, want NULL vintage and unit", rows[1])
	}
	if byCol(2, "value_raw") != nil {
		t.Errorf("row 2 value_raw = %v, want NULL", byCol(2, "value_raw"))
	}

	// Every observation carries its own fingerprint.
	if byCol(0, "content_hash") == byCol(1, "content_hash") {
		t.Error("distinct observations share a content_hash")
	}
}

func TestTimeseries_EmptyResultIsSuccessWithNote(t *testing.T) {
	client := &fakeClient{}
	repo := newCaptureRepo()
	s := newTestStager(client, repo, "ingest_timeseries")
	s.job.Countries = []config.Country{{Name: "sweden", Code: "SWE"}}
	s.job.Indicators = []string{"gdp"}

	if err := s.Timeseries(context.Background()); err != nil {
		t.Fatalf("Timeseries: %v", err)
	}
	if len(repo.inserts[store.TableRawTimeseries]) != 0 {
		t.Error("staged rows for an empty result")
	}

	statuses := repo.logged("status")
	msgs := repo.logged("error_message")
	if len(statuses) != 1 || statuses[0] != joblog.StatusSuccess {
		t.Fatalf("statuses = %v, want one success", statuses)
	}
	if msgs[0] != "No data returned" {
		t.Errorf("message = %v, want No data returned", msgs[0])
	}
}

func TestTimeseries_ContinuesPastFailingPair(t *testing.T) {
	v := 1.0
	client := &fakeClient{
		series: map[string]*teapi.SeriesResult{
			"sweden/unemployment rate": {Items: []teapi.Observation{
				{Category: "Unemployment Rate", DateTime: date("2024-03-31"), Value: &v},
			}},
		},
		seriesErr: map[string]error{
			"sweden/gdp": errors.New("rate limited twice"),
		},
	}
	repo := newCaptureRepo()
	s := newTestStager(client, repo, "ingest_timeseries")
	s.job.Countries = []config.Country{{Name: "sweden", Code: "SWE"}}
	s.job.Indicators = []string{"gdp", "unemployment rate"}

	if err := s.Timeseries(context.Background()); err != nil {
		t.Fatalf("Timeseries: %v", err)
	}
	if len(repo.inserts[store.TableRawTimeseries]) != 1 {
		t.Errorf("staged rows = %d, want 1", len(repo.inserts[store.TableRawTimeseries]))
	}
	if len(repo.logged("status")) != 2 {
		t.Errorf("log entries = %d, want one per pair", len(repo.logged("status")))
	}
}

func TestTimeseries_AllPairsFailing(t *testing.T) {
	client := &fakeClient{
		seriesErr: map[string]error{"sweden/gdp": errors.New("down")},
	}
	repo := newCaptureRepo()
	s := newTestStager(client, repo, "ingest_timeseries")
	s.job.Countries = []config.Country{{Name: "sweden", Code: "SWE"}}
	s.job.Indicators = []string{"gdp"}

	if err := s.Timeseries(context.Background()); err == nil {
		t.Fatal("Timeseries with every pair failing: want error, got nil")
	}
}

func date(s string) teapi.Date {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return teapi.Date{Time: t}
}
