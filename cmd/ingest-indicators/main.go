// Command ingest-indicators stages the indicators catalog on its own,
// filtered to the configured categories.
package main

import (
	"context"
	"os"
	"time"

	"gpetl/internal/cli"
	"gpetl/internal/stage"
	"gpetl/internal/teapi"

	_ "gpetl/internal/store/all"
)

const jobName = "ingest_indicators"

func main() {
	code := cli.Run(context.Background(), os.Args[1:], cli.Deps{
		Stdout:         os.Stdout,
		Stderr:         os.Stderr,
		Getenv:         os.Getenv,
		Now:            time.Now,
		BackendFactory: cli.DatadogFactory,
	}, cli.Job{
		Name:        jobName,
		Lease:       true,
		NeedsAPIKey: true,
		Run:         run,
	})
	os.Exit(code)
}

func run(ctx context.Context, env cli.Env) error {
	client, err := teapi.New(teapi.Options{
		BaseURL:     env.Cfg.Job.BaseURL,
		APIKey:      env.Cfg.APIKey,
		Job:         jobName,
		MinInterval: env.Cfg.Job.MinInterval,
		Cooldown:    env.Cfg.Job.Cooldown,
	})
	if err != nil {
		return err
	}
	return stage.New(client, env.Repo, env.Log, env.Cfg).Indicators(ctx)
}
