package sqlite

import "gpetl/internal/store"

// Built-in validation rule sets. These mirror the Postgres server-side
// functions rule for rule; keep the two in sync when adding rules. Each
// query emits one row per rule: (validation_rule, validation_type,
// is_valid, error_message, record_count).
var validatorQueries = map[string]string{
	store.ProcValidateCountries: `
    SELECT 'row_count_check', 'completeness',
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
     WHERE trim(coalesce(country_name, '')) = '';`,

	store.ProcValidateIndicators: `
    SELECT 'row_count_check', 'completeness',
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
     WHERE trim(coalesce(indicator_name, '')) = ''
 UNION ALL
    SELECT 'indicator_name_unique', 'uniqueness',
           count(*) = 0,
           CASE WHEN count(*) = 0 THEN NULL
                ELSE count(*) || ' indicator names are duplicated' END,
           count(*)
      FROM (SELECT indicator_name
              FROM canonical_indicators
             GROUP BY indicator_name
            HAVING count(*) > 1);`,

	store.ProcValidateTimeseries: `
    SELECT 'row_count_check', 'completeness',
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
     WHERE date_value > date('now');`,
}
