// Package joblog records per-endpoint ingestion outcomes in ingestion_log.
//
// One entry is written per API call, success or failure, so a run's
// ingestion_log tells the complete story: every endpoint hit, how many
// records came back, and what went wrong where.
package joblog

import (
	"context"
	"fmt"
	"io"
	"time"

	"gpetl/internal/store"
)

// Entry statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Entry is one ingestion_log row. CompletedAt and the execution time are
// filled in by Record when left zero.
type Entry struct {
	Endpoint         string
	Status           string
	RecordsProcessed int64
	ErrorMessage     string
	StartedAt        time.Time
	CompletedAt      time.Time
}

// Recorder writes Entries for one job.
type Recorder struct {
	repo store.Repository
	job  string
	warn io.Writer
	now  func() time.Time
}

// New returns a Recorder for job. Sink-write warnings go to warn.
func New(repo store.Repository, job string, warn io.Writer) *Recorder {
	if warn == nil {
		warn = io.Discard
	}
	return &Recorder{repo: repo, job: job, warn: warn, now: time.Now}
}

// Record writes one entry. A failed write is swallowed deliberately: the
// data write the entry describes already happened (or already failed and was
// reported), and a run must not die because its audit sink hiccuped.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if e.StartedAt.IsZero() {
		e.StartedAt = r.now()
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = r.now()
	}
	executionMS := e.CompletedAt.Sub(e.StartedAt).Milliseconds()

	var errMsg any
	if e.ErrorMessage != "" {
		errMsg = e.ErrorMessage
	}

	cols := []string{"job", "endpoint", "status", "records_processed", "error_message", "started_at", "completed_at", "execution_time_ms"}
	row := []any{r.job, e.Endpoint, e.Status, e.RecordsProcessed, errMsg, e.StartedAt.UTC(), e.CompletedAt.UTC(), executionMS}

	if _, err := r.repo.InsertRows(ctx, store.TableIngestionLog, cols, [][]any{row}); err != nil {
		r.sinkFailed(e, err)
	}
}

// Success records a successful endpoint fetch.
func (r *Recorder) Success(ctx context.Context, endpoint string, records int64, startedAt time.Time) {
	r.Record(ctx, Entry{
		Endpoint:         endpoint,
		Status:           StatusSuccess,
		RecordsProcessed: records,
		StartedAt:        startedAt,
	})
}

// Failed records a failed endpoint fetch.
func (r *Recorder) Failed(ctx context.Context, endpoint, errorMessage string, startedAt time.Time) {
	r.Record(ctx, Entry{
		Endpoint:     endpoint,
		Status:       StatusFailed,
		ErrorMessage: errorMessage,
		StartedAt:    startedAt,
	})
}

// sinkFailed is the one place a storage error is dropped on purpose.
func (r *Recorder) sinkFailed(e Entry, err error) {
	fmt.Fprintf(r.warn, "warn: ingestion_log write failed for %s (%s): %v\n", e.Endpoint, e.Status, err)
}
