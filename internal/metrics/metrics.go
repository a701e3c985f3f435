// Package metrics is a minimal metrics facade for the ingestion jobs.
//
// Pipeline code records against package-level helpers and stays ignorant of
// the concrete backend. A backend (Datadog, or the default nop) is installed
// once at process start via SetBackend. All helpers are safe for concurrent
// use; with the nop backend they are nearly free.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are free-form metric dimensions (e.g. {"step":"transform_countries"}).
type Labels map[string]string

// Backend receives every recorded metric.
//
// Implementations may buffer; Flush forces submission of anything buffered.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-wide metrics backend.
//
// Call once during startup, before any job work runs. Passing nil restores
// the nop backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

// Flush flushes the current backend.
func Flush() error {
	mu.RLock()
	b := backend
	mu.RUnlock()
	return b.Flush()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// RecordStep records one completed pipeline step (a job, or one sub-stage of
// the transform job) with its outcome and record throughput.
func RecordStep(step, status string, d time.Duration, records int64) {
	b := current()

	b.IncCounter("etl_step_total", 1, Labels{"step": step, "status": status})
	if records > 0 {
		b.IncCounter("etl_records_total", float64(records), Labels{"kind": step})
	}
	if d >= 0 {
		b.ObserveHistogram("etl_step_duration_seconds", d.Seconds(), Labels{"step": step, "status": status})
	}
}

// RecordHTTP records one outbound HTTP attempt.
//
// status 0 means the request never produced a response (transport failure).
func RecordHTTP(job string, status int, err error, reqDur, respDur time.Duration, size int64) {
	b := current()

	st := "unknown"
	if status > 0 {
		st = strconv.Itoa(status)
	}
	labels := Labels{"status": st, "job": job}

	b.IncCounter("etl_http_requests_total", 1, labels)
	if err != nil || status >= 400 {
		b.IncCounter("etl_http_errors_total", 1, labels)
	}
	if reqDur >= 0 {
		b.ObserveHistogram("etl_http_request_duration_seconds", reqDur.Seconds(), labels)
	}
	if respDur >= 0 {
		b.ObserveHistogram("etl_http_response_duration_seconds", respDur.Seconds(), labels)
	}
	if size >= 0 {
		b.ObserveHistogram("etl_http_download_bytes", float64(size), labels)
	}
}

// nopBackend discards everything. It is the default so library code can record
// unconditionally.
type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }
