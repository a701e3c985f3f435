// Command transform canonicalizes staged raw payloads: countries,
// indicators, then timeseries.
package main

import (
	"context"
	"os"
	"time"

	"gpetl/internal/canonical"
	"gpetl/internal/cli"

	_ "gpetl/internal/store/all"
)

func main() {
	code := cli.Run(context.Background(), os.Args[1:], cli.Deps{
		Stdout:         os.Stdout,
		Stderr:         os.Stderr,
		Getenv:         os.Getenv,
		Now:            time.Now,
		BackendFactory: cli.DatadogFactory,
	}, cli.Job{
		Name:  "transform",
		Lease: true,
		Run: func(ctx context.Context, env cli.Env) error {
			return canonical.New(env.Repo, env.Log).Run(ctx)
		},
	})
	os.Exit(code)
}
