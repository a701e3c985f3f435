package postgres

import "gpetl/internal/store"

// Server-side validation rule sets. Each function returns one row per rule
// with a pass/fail verdict and the count of rows the rule examined or
// flagged, so the validate stage can treat all three tables uniformly.
var validatorDDL = map[string]string{
	store.ProcValidateCountries: `
CREATE OR REPLACE FUNCTION validate_canonical_countries()
RETURNS TABLE(validation_rule TEXT, validation_type TEXT, is_valid BOOLEAN,
              error_message TEXT, record_count BIGINT) AS $$
    SELECT 'row_count_check'::TEXT, 'completeness'::TEXT,
           count(*) > 0,
           CASE WHEN count(*) > 0 THEN NULL
                ELSE 'canonical_countries has no rows' END,
           count(*)
      FROM canonical_countries
 UNION ALL
    SELECT 'country_code_format', 'format',
           count(*) = 0,
           CASE WHEN count(*) = 0 THEN NULL
                ELSE count(*) || ' country codes are not 3 upper-case letters' END,
           count(*)
      FROM canonical_countries
     WHERE length(country_code) <> 3 OR country_code <> upper(country_code)
 UNION ALL
    SELECT 'country_name_check', 'completeness',
           count(*) = 0,
           CASE WHEN count(*) = 0 THEN NULL
                ELSE count(*) || ' countries have an empty country_name' END,
           count(*)
      FROM canonical_countries
     WHERE btrim(coalesce(country_name, '')) = ''
$$ LANGUAGE sql STABLE;`,

	store.ProcValidateIndicators: `
CREATE OR REPLACE FUNCTION validate_canonical_indicators()
RETURNS TABLE(validation_rule TEXT, validation_type TEXT, is_valid BOOLEAN,
              error_message TEXT, record_count BIGINT) AS $$
    SELECT 'row_count_check'::TEXT, 'completeness'::TEXT,
           count(*) > 0,
           CASE WHEN count(*) > 0 THEN NULL
                ELSE 'canonical_indicators has no rows' END,
           count(*)
      FROM canonical_indicators
 UNION ALL
    SELECT 'indicator_name_check', 'completeness',
           count(*) = 0,
           CASE WHEN count(*) = 0 THEN NULL
                ELSE count(*) || ' indicators have an empty indicator_name' END,
           count(*)
      FROM canonical_indicators
     WHERE btrim(coalesce(indicator_name, '')) = ''
 UNION ALL
    SELECT 'indicator_name_unique', 'uniqueness',
           count(*) = 0,
           CASE WHEN count(*) = 0 THEN NULL
                ELSE count(*) || ' indicator names are duplicated' END,
           count(*)
      FROM (SELECT indicator_name
              FROM canonical_indicators
             GROUP BY indicator_name
            HAVING count(*) > 1) d
$$ LANGUAGE sql STABLE;`,

	store.ProcValidateTimeseries: `
CREATE OR REPLACE FUNCTION validate_canonical_timeseries()
RETURNS TABLE(validation_rule TEXT, validation_type TEXT, is_valid BOOLEAN,
              error_message TEXT, record_count BIGINT) AS $$
    SELECT 'row_count_check'::TEXT, 'completeness'::TEXT,
           count(*) > 0,
           CASE WHEN count(*) > 0 THEN NULL
                ELSE 'canonical_timeseries has no rows' END,
           count(*)
      FROM canonical_timeseries
 UNION ALL
    SELECT 'country_reference_check', 'referential_integrity',
           count(*) = 0,
           CASE WHEN count(*) = 0 THEN NULL
                ELSE count(*) || ' observations reference an unknown country' END,
           count(*)
      FROM canonical_timeseries t
      LEFT JOIN canonical_countries c ON c.country_code = t.country_code
     WHERE c.id IS NULL
 UNION ALL
    SELECT 'indicator_reference_check', 'referential_integrity',
           count(*) = 0,
           CASE WHEN count(*) = 0 THEN NULL
                ELSE count(*) || ' observations reference an unknown indicator' END,
           count(*)
      FROM canonical_timeseries t
      LEFT JOIN canonical_indicators i ON i.indicator_id = t.indicator_id
     WHERE i.indicator_id IS NULL
 UNION ALL
    SELECT 'future_date_check', 'range',
           count(*) = 0,
           CASE WHEN count(*) = 0 THEN NULL
                ELSE count(*) || ' observations are dated in the future' END,
           count(*)
      FROM canonical_timeseries
     WHERE date_value > current_date
$$ LANGUAGE sql STABLE;`,
}
