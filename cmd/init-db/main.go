// Command init-db creates the pipeline tables and installs the validation
// procedures. Safe to run repeatedly; everything it creates is idempotent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"gpetl/internal/config"
	"gpetl/internal/store"

	_ "gpetl/internal/store/all"
)

// deps are external seams for testability.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	Getenv    func(string) string
	OpenStore func(ctx context.Context, cfg store.Config) (store.Repository, error)
}

func main() {
	code := run(context.Background(), os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Getenv: os.Getenv,
	})
	os.Exit(code)
}

// run executes the command and returns an exit code.
//
// Exit codes:
//   - 0: schema and procedures are in place.
//   - 1: a create statement failed.
//   - 2: configuration error.
func run(ctx context.Context, args []string, d deps) int {
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
	if d.OpenStore == nil {
		d.OpenStore = store.New
	}

	cfg, err := parseFlags(args, d.Getenv)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	repo, err := d.OpenStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(d.Stderr, "store init failed: %v\n", err)
		return 2
	}
	defer repo.Close()

	if err := repo.EnsureTables(ctx, store.Tables()); err != nil {
		fmt.Fprintf(d.Stderr, "create tables: %v\n", err)
		return 1
	}
	if err := repo.EnsureProcedures(ctx); err != nil {
		fmt.Fprintf(d.Stderr, "install procedures: %v\n", err)
		return 1
	}

	fmt.Fprintf(d.Stdout, "initialized %d tables on %s\n", len(store.Tables()), cfg.Kind)
	return 0
}

func parseFlags(args []string, getenv func(string) string) (store.Config, error) {
	fs := flag.NewFlagSet("init-db", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var cfg store.Config
	fs.StringVar(&cfg.Kind, "kind", "", "Store backend (default: $"+config.EnvStoreKind+" or postgres)")
	fs.StringVar(&cfg.DSN, "dsn", "", "Store DSN (default: $"+config.EnvStoreDSN+")")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return store.Config{}, errors.New(usageBuf.String())
		}
		return store.Config{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}

	if cfg.Kind == "" {
		cfg.Kind = getenv(config.EnvStoreKind)
	}
	if cfg.Kind == "" {
		cfg.Kind = "postgres"
	}
	if cfg.DSN == "" {
		cfg.DSN = getenv(config.EnvStoreDSN)
	}
	if cfg.DSN == "" {
		return store.Config{}, errors.New("missing -dsn (or env " + config.EnvStoreDSN + ")")
	}

	return cfg, nil
}
