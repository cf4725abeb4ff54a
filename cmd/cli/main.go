// Command qubectalk-cli compiles and runs QubecTalk source files directly,
// without going through the hosted HTTP API, and exposes a couple of
// administrative commands: intensity table refresh (into an in-memory
// table, printed to stdout) and completed-run garbage collection against
// the same Postgres store cmd/api and cmd/worker use.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/example/qubectalk/internal/config"
	"github.com/example/qubectalk/internal/db"
	"github.com/example/qubectalk/internal/intensity"
	"github.com/example/qubectalk/internal/logging"
	"github.com/example/qubectalk/internal/qubectalk/result"
	"github.com/example/qubectalk/internal/store"

	"github.com/example/qubectalk"
)

func main() {
	logger := logging.New(logging.Config{
		Level:  slog.LevelInfo,
		Format: logging.FormatText,
		Output: os.Stderr,
	})

	if len(os.Args) < 2 {
		fmt.Println("usage: qubectalk-cli <command> [args]")
		fmt.Println("commands: run, compile, refresh-intensity, gc-runs")
		os.Exit(1)
	}

	command := os.Args[1]
	var err error
	switch command {
	case "run":
		err = runSource(os.Args[2:])
	case "compile":
		err = compileSource(os.Args[2:])
	case "refresh-intensity":
		err = refreshIntensity(logger)
	case "gc-runs":
		err = gcRuns(logger, os.Args[2:])
	default:
		fmt.Printf("unknown command: %s\n", command)
		os.Exit(1)
	}
	if err != nil {
		logger.Error(command+" failed", "error", err)
		os.Exit(1)
	}
}

// runSource compiles and executes a QubecTalk source file, writing the
// result rows as bare CSV (no OK/Execution Error envelope) to stdout (or
// a file named with -out). On a trial error the rows recorded so far are
// still written and the error is returned.
func runSource(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	seed := fs.Int64("seed", 0, "fixed RNG seed (0 = system entropy)")
	out := fs.String("out", "", "write output to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: qubectalk-cli run [-seed N] [-out file] <source.qubectalk>")
	}

	source, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	prog, syntaxErrs := qubectalk.Compile(string(source))
	if len(syntaxErrs) > 0 {
		for _, e := range syntaxErrs {
			fmt.Fprintln(os.Stderr, e.Error())
		}
		return fmt.Errorf("compilation failed with %d error(s)", len(syntaxErrs))
	}

	opts := qubectalk.RunOptions{}
	if *seed != 0 {
		opts.Seed = seed
	}
	results := prog.RunWithOptions(opts)

	var rows []qubectalk.Row
	var trialErr error
	for _, sr := range results {
		for _, tr := range sr.Trials {
			rows = append(rows, tr.Rows...)
			if tr.Err != nil && trialErr == nil {
				trialErr = tr.Err
			}
		}
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if trialErr != nil {
		var buf bytes.Buffer
		_ = result.WriteCSV(&buf, rows)
		fmt.Fprint(w, buf.String())
		return fmt.Errorf("execution error: %w", trialErr)
	}

	return result.WriteCSV(w, rows)
}

// compileSource compiles a source file without running anything, for
// quick syntax checking: it prints OK, or the syntax errors to stderr.
func compileSource(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: qubectalk-cli compile <source.qubectalk>")
	}

	source, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	_, syntaxErrs := qubectalk.Compile(string(source))
	if len(syntaxErrs) > 0 {
		for _, e := range syntaxErrs {
			fmt.Fprintln(os.Stderr, e.Error())
		}
		return fmt.Errorf("compilation failed with %d error(s)", len(syntaxErrs))
	}

	fmt.Println("OK")
	return nil
}

// refreshIntensity runs one intensity.Refresher cycle and prints the
// resulting reference table, the CLI-invoked counterpart to
// cmd/worker's scheduled internal/worker.IntensityRefreshJob.
func refreshIntensity(logger *slog.Logger) error {
	ctx := context.Background()
	memStore := intensity.NewMemoryStore()
	refresher := intensity.NewRefresher(intensity.RefresherConfig{
		Store:  memStore,
		Logger: logger,
	})
	if err := refresher.RefreshOnce(ctx); err != nil {
		return fmt.Errorf("refresh intensity table: %w", err)
	}

	factors, err := memStore.List(ctx)
	if err != nil {
		return fmt.Errorf("list intensity factors: %w", err)
	}
	for _, f := range factors {
		fmt.Printf("%-12s ghg=%s energy=%s source=%s\n", f.Substance, f.GHGIntensity, f.EnergyIntensity, f.Source)
	}
	return nil
}

// gcRuns connects to Postgres and prunes simulation_runs rows that
// completed more than -retention ago, the on-demand counterpart to
// cmd/worker's scheduled internal/worker.RunGCJob.
func gcRuns(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("gc-runs", flag.ExitOnError)
	retention := fs.Duration("retention", 30*24*time.Hour, "prune completed runs older than this")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("QUBECTALK_DB_DSN is required for gc-runs")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, db.Config{DSN: cfg.Database.DSN})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer database.Close()

	runStore := store.New(database)
	n, err := runStore.PruneCompletedBefore(ctx, time.Now().UTC().Add(-*retention))
	if err != nil {
		return fmt.Errorf("prune completed runs: %w", err)
	}

	logger.Info("pruned completed simulation runs", "count", n, "retention", retention.String())
	return nil
}
