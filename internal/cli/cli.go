// Package cli is the shared harness for the pipeline binaries: flag
// parsing, config resolution, store and metrics wiring, and the job lease.
// Each cmd supplies only its job body.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"gpetl/internal/config"
	"gpetl/internal/joblog"
	"gpetl/internal/lease"
	"gpetl/internal/metrics"
	"gpetl/internal/metrics/datadog"
	"gpetl/internal/store"
)

// BackendCloser is the minimal interface used to manage a metrics backend.
type BackendCloser interface {
	metrics.Backend
	Close() error
}

// Deps are external seams for testability.
type Deps struct {
	Stdout io.Writer
	Stderr io.Writer

	Getenv         func(string) string
	Now            func() time.Time
	OpenStore      func(ctx context.Context, cfg store.Config) (store.Repository, error)
	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (BackendCloser, error)
}

// DatadogFactory is the production BackendFactory.
func DatadogFactory(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (BackendCloser, error) {
	return datadog.NewBackend(ctx, datadog.Options{
		JobName:    jobName,
		Tags:       tags,
		FlushEvery: flushEvery,
	})
}

// Env is what a job body gets to work with.
type Env struct {
	Cfg    config.Config
	Repo   store.Repository
	Log    *joblog.Recorder
	Stdout io.Writer
	Stderr io.Writer
}

// Job describes one pipeline binary.
type Job struct {
	// Name is the logical job name: lease key, ingestion_log job column,
	// metrics tag.
	Name string

	// Lease guards the run with the job lease when set. A held lease is a
	// clean skip, not a failure.
	Lease bool

	// NeedsAPIKey marks jobs that construct an API client. Store-only jobs
	// leave it unset and run without TE_API_KEY.
	NeedsAPIKey bool

	Run func(ctx context.Context, env Env) error
}

type runConfig struct {
	JobFile    string
	DDTagsCSV  string
	FlushEvery time.Duration
}

// Run executes a job and returns an exit code.
//
// Exit codes:
//   - 0: success, or another holder owns the lease.
//   - 1: job failed.
//   - 2: configuration/initialization error.
func Run(ctx context.Context, args []string, d Deps, job Job) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Getenv == nil {
		fmt.Fprintln(d.Stderr, "internal error: Getenv is nil")
		return 2
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.OpenStore == nil {
		d.OpenStore = store.New
	}

	rc, err := parseFlags(job.Name, args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	cfg, err := config.Load(rc.JobFile, d.Getenv, d.Now, job.NeedsAPIKey)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	repo, err := d.OpenStore(ctx, store.Config{Kind: cfg.StoreKind, DSN: cfg.StoreDSN})
	if err != nil {
		fmt.Fprintf(d.Stderr, "store init failed: %v\n", err)
		return 2
	}
	defer repo.Close()

	if cfg.MetricsBackend == "datadog" {
		if d.BackendFactory == nil {
			fmt.Fprintln(d.Stderr, "internal error: BackendFactory is nil")
			return 2
		}
		tags := append(datadog.ParseTagsCSV(cfg.MetricsTags), "job:"+job.Name)
		tags = append(tags, datadog.ParseTagsCSV(rc.DDTagsCSV)...)
		backend, err := d.BackendFactory(ctx, job.Name, tags, rc.FlushEvery)
		if err != nil {
			fmt.Fprintf(d.Stderr, "datadog backend init failed: %v\n", err)
			return 2
		}
		metrics.SetBackend(backend)
		defer func() {
			_ = metrics.Flush()
			_ = backend.Close()
		}()
	}

	if job.Lease {
		guard, acquired, err := lease.Acquire(ctx, repo, job.Name, cfg.Job.LeaseTTL)
		if err != nil {
			fmt.Fprintf(d.Stderr, "lease acquire failed: %v\n", err)
			return 1
		}
		if !acquired {
			fmt.Fprintf(d.Stdout, "%s: another run holds the lease, skipping\n", job.Name)
			return 0
		}
		defer func() { _ = guard.Release(context.WithoutCancel(ctx)) }()
	}

	env := Env{
		Cfg:    *cfg,
		Repo:   repo,
		Log:    joblog.New(repo, job.Name, d.Stderr),
		Stdout: d.Stdout,
		Stderr: d.Stderr,
	}

	started := d.Now()
	if err := job.Run(ctx, env); err != nil {
		metrics.RecordStep(job.Name, joblog.StatusFailed, d.Now().Sub(started), 0)
		fmt.Fprintf(d.Stderr, "%s failed: %v\n", job.Name, err)
		return 1
	}
	metrics.RecordStep(job.Name, joblog.StatusSuccess, d.Now().Sub(started), 0)
	fmt.Fprintf(d.Stdout, "%s completed\n", job.Name)
	return 0
}

func parseFlags(name string, args []string) (runConfig, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	// Capture help/usage text instead of writing to stdout.
	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var rc runConfig
	fs.StringVar(&rc.JobFile, "config", "", "Path to job YAML (optional; built-in defaults otherwise)")
	fs.StringVar(&rc.DDTagsCSV, "dd_tags", "", "Extra Datadog tags CSV (e.g. env:prod,service:gpetl)")
	fs.DurationVar(&rc.FlushEvery, "metrics_flush", time.Minute, "Datadog flush interval")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}
	return rc, nil
}
