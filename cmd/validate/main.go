// Command validate runs the canonical-table rule sets and records the
// verdicts. A failing rule fails the run; the detail is in validation_log.
package main

import (
	"context"
	"os"
	"time"

	"gpetl/internal/cli"
	"gpetl/internal/validate"

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
		Name:  "validate",
		Lease: true,
		Run: func(ctx context.Context, env cli.Env) error {
			return validate.New(env.Repo, env.Log).Run(ctx)
		},
	})
	os.Exit(code)
}
