// Package validate runs the canonical-table rule sets and records their
// verdicts in validation_log.
//
// The log is a snapshot, not a history: every run deletes the previous
// run's rows before writing its own.
package validate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gpetl/internal/joblog"
	"gpetl/internal/metrics"
	"gpetl/internal/store"
)

// SummaryEndpoint is the ingestion_log endpoint of the overall verdict.
const SummaryEndpoint = "validate_data"

// ErrRulesFailed reports that at least one rule was invalid. The run itself
// completed; rule-level detail is in validation_log.
var ErrRulesFailed = errors.New("some validation rules failed")

// RuleSet binds a validation procedure to the table it examines.
type RuleSet struct {
	Procedure string
	Table     string
}

// RuleSets is the fixed execution order.
var RuleSets = []RuleSet{
	{Procedure: store.ProcValidateCountries, Table: store.TableCanonicalCountries},
	{Procedure: store.ProcValidateIndicators, Table: store.TableCanonicalIndicators},
	{Procedure: store.ProcValidateTimeseries, Table: store.TableCanonicalTimeseries},
}

// Finding is one rule's verdict.
type Finding struct {
	Rule         string
	Type         string
	Valid        bool
	ErrorMessage string
	RecordCount  int64
}

// Runner executes all rule sets against one store.
type Runner struct {
	repo store.Repository
	log  *joblog.Recorder

	now func() time.Time
}

func New(repo store.Repository, log *joblog.Recorder) *Runner {
	return &Runner{repo: repo, log: log, now: time.Now}
}

// Run clears validation_log, executes every rule set in order, writes one
// log row per rule, and records the overall verdict in ingestion_log.
//
// A rule reporting invalid is expected and handled: the run continues and
// the summary comes out failed. A rule-set invocation erroring is not: the
// run aborts immediately without touching later rule sets.
func (r *Runner) Run(ctx context.Context) error {
	started := r.now()

	if _, err := r.repo.DeleteAll(ctx, store.TableValidationLog); err != nil {
		r.log.Failed(ctx, SummaryEndpoint, err.Error(), started)
		return fmt.Errorf("clear validation_log: %w", err)
	}

	allValid := true
	var total int64

	for _, rs := range RuleSets {
		setStarted := r.now()

		rows, err := r.repo.InvokeProcedure(ctx, rs.Procedure)
		if err != nil {
			r.log.Failed(ctx, SummaryEndpoint, err.Error(), started)
			metrics.RecordStep(rs.Procedure, joblog.StatusFailed, r.now().Sub(setStarted), 0)
			return fmt.Errorf("%s: %w", rs.Procedure, err)
		}

		findings := make([]Finding, 0, len(rows))
		for _, row := range rows {
			f, err := findingFromRow(row)
			if err != nil {
				r.log.Failed(ctx, SummaryEndpoint, err.Error(), started)
				return fmt.Errorf("%s: %w", rs.Procedure, err)
			}
			findings = append(findings, f)
		}

		elapsed := r.now().Sub(setStarted)
		if err := r.writeFindings(ctx, rs.Table, findings, elapsed); err != nil {
			r.log.Failed(ctx, SummaryEndpoint, err.Error(), started)
			return fmt.Errorf("%s: %w", rs.Procedure, err)
		}

		for _, f := range findings {
			if !f.Valid {
				allValid = false
			}
			total += f.RecordCount
		}
		metrics.RecordStep(rs.Procedure, joblog.StatusSuccess, elapsed, int64(len(findings)))
	}

	if !allValid {
		r.log.Record(ctx, joblog.Entry{
			Endpoint:         SummaryEndpoint,
			Status:           joblog.StatusFailed,
			RecordsProcessed: total,
			ErrorMessage:     "Some validation rules failed",
			StartedAt:        started,
		})
		return ErrRulesFailed
	}
	r.log.Success(ctx, SummaryEndpoint, total, started)
	return nil
}

var validationLogColumns = []string{
	"table_name", "validation_rule", "validation_type", "is_valid",
	"error_message", "record_count", "validated_at", "execution_time_ms",
}

func (r *Runner) writeFindings(ctx context.Context, table string, findings []Finding, elapsed time.Duration) error {
	if len(findings) == 0 {
		return nil
	}

	validatedAt := r.now().UTC()
	ms := elapsed.Milliseconds()

	rows := make([][]any, 0, len(findings))
	for _, f := range findings {
		var errMsg any
		if f.ErrorMessage != "" {
			errMsg = f.ErrorMessage
		}
		rows = append(rows, []any{
			table, f.Rule, f.Type, f.Valid, errMsg, f.RecordCount, validatedAt, ms,
		})
	}

	_, err := r.repo.InsertRows(ctx, store.TableValidationLog, validationLogColumns, rows)
	return err
}

// findingFromRow decodes one procedure output row. A malformed row is an
// invocation-level failure, not a rule verdict.
func findingFromRow(row store.Row) (Finding, error) {
	var f Finding
	var ok bool

	if f.Rule, ok = row[store.FindingRule].(string); !ok || f.Rule == "" {
		return f, fmt.Errorf("finding has no %s: %v", store.FindingRule, row)
	}
	if f.Type, ok = row[store.FindingType].(string); !ok {
		return f, fmt.Errorf("finding %s has no %s", f.Rule, store.FindingType)
	}
	if f.Valid, ok = row[store.FindingIsValid].(bool); !ok {
		return f, fmt.Errorf("finding %s has no %s", f.Rule, store.FindingIsValid)
	}

	switch v := row[store.FindingError].(type) {
	case nil:
	case string:
		f.ErrorMessage = v
	default:
		return f, fmt.Errorf("finding %s: %s has type %T", f.Rule, store.FindingError, v)
	}

	switch v := row[store.FindingCount].(type) {
	case int64:
		f.RecordCount = v
	case int:
		f.RecordCount = int64(v)
	case int32:
		f.RecordCount = int64(v)
	default:
		return f, fmt.Errorf("finding %s: %s has type %T", f.Rule, store.FindingCount, v)
	}

	return f, nil
}
