// TableSpec and the concrete pipeline schema live here so backend packages
// can share them without circular imports.
package store

// Logical column types. Backends map these to their native types
// (e.g. ColTimestamp => TIMESTAMPTZ in Postgres, TEXT in SQLite).
const (
	ColText      = "text"
	ColBigInt    = "bigint"
	ColDouble    = "double"
	ColBool      = "bool"
	ColDate      = "date"
	ColTimestamp = "timestamp"
	ColJSON      = "json"
)

type TableSpec struct {
	Name        string
	PrimaryKey  *PrimaryKeySpec
	Columns     []ColumnSpec
	Constraints []ConstraintSpec
}

// PrimaryKeySpec declares an auto-incrementing surrogate key column. The
// backend picks the native mechanism (BIGSERIAL, INTEGER PRIMARY KEY, ...).
type PrimaryKeySpec struct {
	Name string
}

type ColumnSpec struct {
	Name       string
	Type       string // one of the Col* constants
	Nullable   bool
	References string // "table(column)", rendered inline
}

type ConstraintSpec struct {
	Kind    string // "unique"
	Columns []string
}

// Pipeline table names.
const (
	TableRawMetadata         = "raw_te_metadata"
	TableRawTimeseries       = "raw_te_timeseries"
	TableCanonicalCountries  = "canonical_countries"
	TableCanonicalIndicators = "canonical_indicators"
	TableCanonicalTimeseries = "canonical_timeseries"
	TableIngestionLog        = "ingestion_log"
	TableValidationLog       = "validation_log"
	TableJobLeases           = "job_leases"
)

// raw_te_metadata endpoint_type values.
const (
	EndpointTypeCountries  = "countries"
	EndpointTypeIndicators = "indicators"
)

// Validation procedure names. Backends either install these as server-side
// functions (Postgres) or implement them as built-in queries (SQLite).
const (
	ProcValidateCountries  = "validate_canonical_countries"
	ProcValidateIndicators = "validate_canonical_indicators"
	ProcValidateTimeseries = "validate_canonical_timeseries"
)

// Columns every validation procedure returns: one row per rule, with the
// rule's pass/fail verdict and how many records it examined or flagged.
const (
	FindingRule    = "validation_rule"
	FindingType    = "validation_type"
	FindingIsValid = "is_valid"
	FindingError   = "error_message"
	FindingCount   = "record_count"
)

// Tables returns the full pipeline schema in creation order: raw staging,
// canonical targets, run logs, then the lease table.
func Tables() []TableSpec {
	return []TableSpec{
		{
			Name:       TableRawMetadata,
			PrimaryKey: &PrimaryKeySpec{Name: "id"},
			Columns: []ColumnSpec{
				{Name: "endpoint_type", Type: ColText},
				{Name: "country_code", Type: ColText, Nullable: true},
				{Name: "response_data", Type: ColJSON},
				{Name: "api_status_code", Type: ColBigInt},
				{Name: "content_hash", Type: ColText},
				{Name: "fetched_at", Type: ColTimestamp},
			},
		},
		{
			Name:       TableRawTimeseries,
			PrimaryKey: &PrimaryKeySpec{Name: "id"},
			Columns: []ColumnSpec{
				{Name: "country_code", Type: ColText},
				{Name: "indicator_name", Type: ColText},
				{Name: "date_value", Type: ColDate},
				{Name: "value_raw", Type: ColDouble, Nullable: true},
				{Name: "unit_raw", Type: ColText, Nullable: true},
				{Name: "source_url", Type: ColText, Nullable: true},
				{Name: "release_date", Type: ColDate, Nullable: true},
				{Name: "vintage_date", Type: ColDate, Nullable: true},
				{Name: "content_hash", Type: ColText},
				{Name: "ingested_at", Type: ColTimestamp},
			},
		},
		{
			Name:       TableCanonicalCountries,
			PrimaryKey: &PrimaryKeySpec{Name: "id"},
			Columns: []ColumnSpec{
				{Name: "country_code", Type: ColText},
				{Name: "country_name", Type: ColText},
				{Name: "region", Type: ColText, Nullable: true},
			},
			Constraints: []ConstraintSpec{
				{Kind: "unique", Columns: []string{"country_code"}},
			},
		},
		{
			Name:       TableCanonicalIndicators,
			PrimaryKey: &PrimaryKeySpec{Name: "indicator_id"},
			Columns: []ColumnSpec{
				{Name: "indicator_name", Type: ColText},
				{Name: "description", Type: ColText, Nullable: true},
				{Name: "unit", Type: ColText, Nullable: true},
			},
			Constraints: []ConstraintSpec{
				{Kind: "unique", Columns: []string{"indicator_name"}},
			},
		},
		{
			Name:       TableCanonicalTimeseries,
			PrimaryKey: &PrimaryKeySpec{Name: "id"},
			Columns: []ColumnSpec{
				{Name: "country_code", Type: ColText, References: "canonical_countries(country_code)"},
				{Name: "indicator_id", Type: ColBigInt, References: "canonical_indicators(indicator_id)"},
				{Name: "date_value", Type: ColDate},
				{Name: "value", Type: ColDouble, Nullable: true},
				{Name: "unit", Type: ColText, Nullable: true},
				{Name: "source_url", Type: ColText, Nullable: true},
				{Name: "release_date", Type: ColDate, Nullable: true},
				// vintage_date is part of the upsert key, so a NULL from the
				// source is coalesced to date_value before the row gets here.
				{Name: "vintage_date", Type: ColDate},
				{Name: "content_hash", Type: ColText, Nullable: true},
				{Name: "ingested_at", Type: ColTimestamp},
			},
			Constraints: []ConstraintSpec{
				{Kind: "unique", Columns: []string{"country_code", "indicator_id", "date_value", "vintage_date"}},
			},
		},
		{
			Name:       TableIngestionLog,
			PrimaryKey: &PrimaryKeySpec{Name: "id"},
			Columns: []ColumnSpec{
				{Name: "job", Type: ColText},
				{Name: "endpoint", Type: ColText},
				{Name: "status", Type: ColText},
				{Name: "records_processed", Type: ColBigInt},
				{Name: "error_message", Type: ColText, Nullable: true},
				{Name: "started_at", Type: ColTimestamp},
				{Name: "completed_at", Type: ColTimestamp},
				{Name: "execution_time_ms", Type: ColBigInt},
			},
		},
		{
			Name:       TableValidationLog,
			PrimaryKey: &PrimaryKeySpec{Name: "log_id"},
			Columns: []ColumnSpec{
				{Name: "table_name", Type: ColText},
				{Name: "validation_rule", Type: ColText},
				{Name: "validation_type", Type: ColText},
				{Name: "is_valid", Type: ColBool},
				{Name: "error_message", Type: ColText, Nullable: true},
				{Name: "record_count", Type: ColBigInt},
				{Name: "validated_at", Type: ColTimestamp},
				{Name: "execution_time_ms", Type: ColBigInt},
			},
		},
		{
			Name: TableJobLeases,
			Columns: []ColumnSpec{
				{Name: "job", Type: ColText},
				{Name: "holder", Type: ColText},
				{Name: "expires_at", Type: ColTimestamp},
			},
			Constraints: []ConstraintSpec{
				{Kind: "unique", Columns: []string{"job"}},
			},
		},
	}
}
