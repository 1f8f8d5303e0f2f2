package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/synload/internal/driver"
	"github.com/wesleyorama2/synload/internal/output"
)

// progressInterval is how often live progress is refreshed.
const progressInterval = time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Long: `Run drives GET requests against a URL following a staged concurrency schedule.

Config file mode:
  synload run --config load.yaml

Quick CLI mode:
  synload run --url http://localhost:8080/synapse/key_new_1 \
    --stages "1m:100,2m:200,3m:300,3m:600,30s:0"

Flags override values from the config file. The run exits 0 once the
schedule completes and the summary is printed, even if every request
failed. An interrupt (Ctrl-C) stops the schedule, lets in-flight requests
finish and still prints the summary. Invalid configuration exits 1 before
any request is sent.`,
		Args: cobra.NoArgs,
		RunE: runLoadTest,
	}

	addTestFlags(cmd.Flags())
	cmd.Flags().Bool("json", false, "Print the JSON report to stdout instead of the console summary")
	cmd.Flags().StringP("output", "o", "", "Write the JSON report to this file")
	cmd.Flags().BoolP("quiet", "q", false, "No live progress; print only total requests and successes")
	cmd.Flags().Bool("no-color", false, "Disable colored output")

	return cmd
}

// runLoadTest runs a load test from flags and an optional config file.
func runLoadTest(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadTestConfig(v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	runID := uuid.NewString()
	d, err := driver.New(cfg.DriverConfig(runID, "synload/"+version))
	if err != nil {
		return err
	}

	jsonOutput := v.GetBool("json")
	outputPath := v.GetString("output")
	quiet := v.GetBool("quiet")

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   quiet || jsonOutput,
		NoColor: v.GetBool("no-color"),
	})

	logger := log.WithFields(log.Fields{"run": runID})
	logger.WithFields(log.Fields{
		"name":   cfg.Name,
		"url":    cfg.URL,
		"stages": d.Schedule().String(),
	}).Debug("Configuration loaded")

	console.PrintHeader(cfg.Name, cfg.URL, d.Schedule())

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var result *driver.Result
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = d.Run(ctx)
	}()

	watchProgress(ctx, stop, d, console, done)

	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}

	if jsonOutput {
		if err := output.NewReport(cfg.Name, result).WriteJSON(cmd.OutOrStdout()); err != nil {
			return err
		}
	} else {
		console.PrintSummary(cfg.Name, result)
	}

	if outputPath != "" {
		if err := output.NewReport(cfg.Name, result).WriteFile(outputPath); err != nil {
			return err
		}
		console.Printf("Report written to %s", outputPath)
	}

	return nil
}

// watchProgress refreshes the live display until the run is done. After
// the first interrupt it restores default signal handling so a second
// one terminates the process.
func watchProgress(ctx context.Context, stop context.CancelFunc, d *driver.Driver, console *output.Console, done <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	interrupted := ctx.Done()
	for {
		select {
		case <-done:
			return
		case <-interrupted:
			interrupted = nil
			stop()
			console.Printf("Interrupted, waiting for in-flight requests (press Ctrl-C again to force quit)")
		case <-ticker.C:
			stats := output.StatsFromProgress(d.Progress(), d.Schedule().Len())
			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
