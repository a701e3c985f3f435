package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"gpetl/internal/store"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()

	ctx := context.Background()
	r, err := New(ctx, store.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Close)

	if err := r.EnsureTables(ctx, store.Tables()); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	return r.(*Repo)
}

func TestEnsureTables_Idempotent(t *testing.T) {
	r := openTestRepo(t)
	if err := r.EnsureTables(context.Background(), store.Tables()); err != nil {
		t.Fatalf("second EnsureTables: %v", err)
	}
}

func TestInsertRows_AppendsAndCounts(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	cols := []string{"job", "endpoint", "status", "records_processed", "started_at", "completed_at", "execution_time_ms"}
	now := time.Now()
	n, err := r.InsertRows(ctx, store.TableIngestionLog, cols, [][]any{
		{"ingest_metadata", "/country/sweden", "success", int64(12), now, now, int64(840)},
		{"ingest_metadata", "/country/mexico", "failed", int64(0), now, now, int64(95)},
	})
	if err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if n != 2 {
		t.Errorf("InsertRows = %d, want 2", n)
	}

	rows, err := r.SelectRows(ctx, store.TableIngestionLog, []string{"endpoint", "status"}, nil, "id")
	if err != nil {
		t.Fatalf("SelectRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if store.NormalizeKey(rows[1][1]) != "failed" {
		t.Errorf("second row status = %v, want failed", rows[1][1])
	}
}

func TestUpsertRows_IdempotentAndUpdatesInPlace(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	cols := []string{"country_code", "country_name", "region"}
	row := []any{"SWE", "Sweden", "Europe"}

	for i := 0; i < 2; i++ {
		if _, err := r.UpsertRows(ctx, store.TableCanonicalCountries, cols,
			[][]any{row}, []string{"country_code"}, []string{"country_name", "region"}); err != nil {
			t.Fatalf("UpsertRows #%d: %v", i+1, err)
		}
	}

	rows, err := r.SelectRows(ctx, store.TableCanonicalCountries, []string{"country_code", "country_name"}, nil, "")
	if err != nil {
		t.Fatalf("SelectRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1 after repeated upsert", len(rows))
	}

	// A changed name must update the existing row, not add one.
	row[1] = "Kingdom of Sweden"
	if _, err := r.UpsertRows(ctx, store.TableCanonicalCountries, cols,
		[][]any{row}, []string{"country_code"}, []string{"country_name", "region"}); err != nil {
		t.Fatalf("UpsertRows update: %v", err)
	}

	rows, err = r.SelectRows(ctx, store.TableCanonicalCountries, []string{"country_name"}, nil, "")
	if err != nil {
		t.Fatalf("SelectRows: %v", err)
	}
	if len(rows) != 1 || store.NormalizeKey(rows[0][0]) != "Kingdom of Sweden" {
		t.Errorf("rows = %v, want single renamed row", rows)
	}
}

func TestUpsertRows_DistinctVintagesBothPersist(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	cols := []string{"country_code", "indicator_id", "date_value", "value", "vintage_date", "content_hash", "ingested_at"}
	conflict := []string{"country_code", "indicator_id", "date_value", "vintage_date"}
	update := []string{"value", "content_hash", "ingested_at"}
	now := time.Now()

	// Two revisions of the same observation: only vintage_date differs.
	if _, err := r.UpsertRows(ctx, store.TableCanonicalTimeseries, cols,
		[][]any{{"SWE", int64(1), "2024-03-31", 2.1, "2024-04-15", "h1", now}},
		conflict, update); err != nil {
		t.Fatalf("UpsertRows first vintage: %v", err)
	}
	if _, err := r.UpsertRows(ctx, store.TableCanonicalTimeseries, cols,
		[][]any{{"SWE", int64(1), "2024-03-31", 2.3, "2024-05-15", "h2", now}},
		conflict, update); err != nil {
		t.Fatalf("UpsertRows second vintage: %v", err)
	}

	rows, err := r.SelectRows(ctx, store.TableCanonicalTimeseries,
		[]string{"vintage_date", "value"}, nil, "vintage_date")
	if err != nil {
		t.Fatalf("SelectRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want both vintages kept", len(rows))
	}
	if store.NormalizeKey(rows[0][0]) != "2024-04-15" || store.NormalizeKey(rows[1][0]) != "2024-05-15" {
		t.Errorf("vintages = %v", rows)
	}

	// Re-upserting one vintage updates that row in place and leaves the
	// other untouched.
	if _, err := r.UpsertRows(ctx, store.TableCanonicalTimeseries, cols,
		[][]any{{"SWE", int64(1), "2024-03-31", 2.4, "2024-05-15", "h3", now}},
		conflict, update); err != nil {
		t.Fatalf("UpsertRows revision: %v", err)
	}
	rows, err = r.SelectRows(ctx, store.TableCanonicalTimeseries,
		[]string{"vintage_date", "content_hash"}, nil, "vintage_date")
	if err != nil {
		t.Fatalf("SelectRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want still 2 after revising one vintage", len(rows))
	}
	if store.NormalizeKey(rows[0][1]) != "h1" || store.NormalizeKey(rows[1][1]) != "h3" {
		t.Errorf("hashes = %v, want h1 untouched and h3 updated", rows)
	}
}

func TestSelectRows_FilterAndOrder(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	cols := []string{"country_code", "indicator_name", "date_value", "value_raw", "content_hash", "ingested_at"}
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := r.InsertRows(ctx, store.TableRawTimeseries, cols, [][]any{
		{"SWE", "GDP", "2024-06-30", 2.1, "h2", base.Add(time.Hour)},
		{"SWE", "GDP", "2024-03-31", 1.9, "h1", base},
		{"MEX", "GDP", "2024-03-31", 1.2, "h3", base},
	})
	if err != nil {
		t.Fatalf("InsertRows: %v", err)
	}

	rows, err := r.SelectRows(ctx, store.TableRawTimeseries, []string{"date_value"},
		[]store.Filter{{Column: "country_code", Value: "SWE"}}, "ingested_at")
	if err != nil {
		t.Fatalf("SelectRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 SWE rows", len(rows))
	}
	if store.NormalizeKey(rows[0][0]) != "2024-03-31" || store.NormalizeKey(rows[1][0]) != "2024-06-30" {
		t.Errorf("rows = %v, want 2024-03-31 before 2024-06-30 by ingested_at", rows)
	}
}

func TestDeleteAll(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	cols := []string{"table_name", "validation_rule", "validation_type", "is_valid", "record_count", "validated_at", "execution_time_ms"}
	if _, err := r.InsertRows(ctx, store.TableValidationLog, cols, [][]any{
		{"canonical_countries", "row_count_check", "completeness", true, int64(4), time.Now(), int64(12)},
		{"canonical_countries", "country_code_format", "format", false, int64(1), time.Now(), int64(12)},
	}); err != nil {
		t.Fatalf("InsertRows: %v", err)
	}

	n, err := r.DeleteAll(ctx, store.TableValidationLog)
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteAll = %d, want 2", n)
	}

	rows, err := r.SelectRows(ctx, store.TableValidationLog, []string{"validation_rule"}, nil, "")
	if err != nil {
		t.Fatalf("SelectRows: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %d, want empty table", len(rows))
	}
}

func TestInvokeProcedure_Countries(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	// An empty table still yields one row per rule, with the row-count
	// rule failing and the per-row rules trivially passing.
	findings, err := r.InvokeProcedure(ctx, store.ProcValidateCountries)
	if err != nil {
		t.Fatalf("InvokeProcedure on empty table: %v", err)
	}
	verdicts := findingsByRule(t, findings)
	if len(verdicts) != 3 {
		t.Fatalf("findings = %v, want 3 rules", verdicts)
	}
	if verdicts["row_count_check"] {
		t.Error("row_count_check passed on an empty table")
	}
	if !verdicts["country_code_format"] || !verdicts["country_name_check"] {
		t.Errorf("verdicts = %v, want per-row rules valid on empty table", verdicts)
	}

	cols := []string{"country_code", "country_name"}
	if _, err := r.InsertRows(ctx, store.TableCanonicalCountries, cols, [][]any{
		{"SW", ""},
		{"mex", "Mexico"},
	}); err != nil {
		t.Fatalf("InsertRows: %v", err)
	}

	findings, err = r.InvokeProcedure(ctx, store.ProcValidateCountries)
	if err != nil {
		t.Fatalf("InvokeProcedure: %v", err)
	}
	verdicts = findingsByRule(t, findings)
	if verdicts["country_code_format"] || verdicts["country_name_check"] {
		t.Errorf("verdicts = %v, want format and name rules failing", verdicts)
	}
	if !verdicts["row_count_check"] {
		t.Errorf("verdicts = %v, want row_count_check passing with rows present", verdicts)
	}

	for _, f := range findings {
		if store.NormalizeKey(f[store.FindingRule]) != "country_code_format" {
			continue
		}
		if n, err := toCount(f[store.FindingCount]); err != nil || n != 2 {
			t.Errorf("country_code_format record_count = %v (%v), want 2", f[store.FindingCount], err)
		}
		if f[store.FindingError] == nil {
			t.Error("country_code_format error_message is nil for a failing rule")
		}
	}
}

func TestInvokeProcedure_TimeseriesOrphans(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	cols := []string{"country_code", "indicator_id", "date_value", "vintage_date", "content_hash", "ingested_at"}
	if _, err := r.InsertRows(ctx, store.TableCanonicalTimeseries, cols, [][]any{
		{"SWE", int64(99), "2024-03-31", "2024-03-31", "h1", time.Now()},
	}); err != nil {
		t.Fatalf("InsertRows: %v", err)
	}

	findings, err := r.InvokeProcedure(ctx, store.ProcValidateTimeseries)
	if err != nil {
		t.Fatalf("InvokeProcedure: %v", err)
	}
	verdicts := findingsByRule(t, findings)
	if verdicts["country_reference_check"] || verdicts["indicator_reference_check"] {
		t.Errorf("verdicts = %v, want both reference rules failing for orphan row", verdicts)
	}
	if !verdicts["row_count_check"] {
		t.Errorf("verdicts = %v, want row_count_check passing", verdicts)
	}
}

// findingsByRule reduces procedure output to rule -> is_valid.
func findingsByRule(t *testing.T, findings []store.Row) map[string]bool {
	t.Helper()

	out := make(map[string]bool, len(findings))
	for _, f := range findings {
		valid, ok := f[store.FindingIsValid].(bool)
		if !ok {
			t.Fatalf("is_valid = %T, want bool", f[store.FindingIsValid])
		}
		out[store.NormalizeKey(f[store.FindingRule])] = valid
	}
	return out
}

func toCount(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("record_count has type %T", v)
	}
}

func TestInvokeProcedure_UnknownName(t *testing.T) {
	r := openTestRepo(t)
	if _, err := r.InvokeProcedure(context.Background(), "validate_nothing"); err == nil {
		t.Fatal("unknown procedure: want error, got nil")
	}
}

func TestAcquireLease_ContentionAndExpiry(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	ok, err := r.AcquireLease(ctx, "transform", "host-a", 10*time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v; want true, nil", ok, err)
	}

	// Another holder must be refused while the lease is live.
	ok, err = r.AcquireLease(ctx, "transform", "host-b", 10*time.Minute)
	if err != nil {
		t.Fatalf("contending acquire: %v", err)
	}
	if ok {
		t.Fatal("contending acquire succeeded while lease was held")
	}

	// The holder itself may refresh.
	ok, err = r.AcquireLease(ctx, "transform", "host-a", 10*time.Minute)
	if err != nil || !ok {
		t.Fatalf("refresh = %v, %v; want true, nil", ok, err)
	}

	// After expiry another holder takes over.
	r.now = func() time.Time { return base.Add(11 * time.Minute) }
	ok, err = r.AcquireLease(ctx, "transform", "host-b", 10*time.Minute)
	if err != nil || !ok {
		t.Fatalf("post-expiry acquire = %v, %v; want true, nil", ok, err)
	}

	// A different job name is independent.
	ok, err = r.AcquireLease(ctx, "validate", "host-a", 10*time.Minute)
	if err != nil || !ok {
		t.Fatalf("independent job acquire = %v, %v; want true, nil", ok, err)
	}
}

func TestReleaseLease_OnlyOwnHolder(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	if ok, err := r.AcquireLease(ctx, "transform", "host-a", 10*time.Minute); err != nil || !ok {
		t.Fatalf("acquire = %v, %v", ok, err)
	}

	// Releasing with the wrong holder must not free the lease.
	if err := r.ReleaseLease(ctx, "transform", "host-b"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	if ok, _ := r.AcquireLease(ctx, "transform", "host-b", 10*time.Minute); ok {
		t.Fatal("lease freed by non-owner release")
	}

	if err := r.ReleaseLease(ctx, "transform", "host-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := r.AcquireLease(ctx, "transform", "host-b", 10*time.Minute); err != nil || !ok {
		t.Fatalf("acquire after release = %v, %v; want true, nil", ok, err)
	}
}

func TestFormatTime_FixedWidthOrdering(t *testing.T) {
	a := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := a.Add(500 * time.Millisecond)
	c := a.Add(time.Second)

	fa, fb, fc := formatTime(a), formatTime(b), formatTime(c)
	if len(fa) != len(fb) || len(fb) != len(fc) {
		t.Fatalf("widths differ: %q %q %q", fa, fb, fc)
	}
	if !(fa < fb && fb < fc) {
		t.Errorf("string order %q %q %q does not match time order", fa, fb, fc)
	}
}

func TestParseTime_RoundTrip(t *testing.T) {
	in := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.FixedZone("X", 3600))
	got, err := parseTime(formatTime(in))
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if !got.Equal(in) {
		t.Errorf("round trip = %s, want %s", got, in)
	}
}
