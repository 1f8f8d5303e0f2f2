package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/synload/internal/schedule"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a load test configuration without sending requests",
		Long: `Validate loads the configuration the same way run does, checks it and
prints the resulting schedule.

  synload validate --config load.yaml
  synload validate --url http://localhost:8080/ --stages "30s:10,30s:0"`,
		Args: cobra.NoArgs,
		RunE: validateConfig,
	}

	addTestFlags(cmd.Flags())
	return cmd
}

func validateConfig(cmd *cobra.Command, args []string) error {
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

	sched, err := schedule.New(cfg.ScheduleStages())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration is valid: %s\n", cfg.Name)
	fmt.Fprintf(out, "Target:       %s\n", cfg.URL)
	fmt.Fprintf(out, "Duration:     %s\n", sched.Total())
	fmt.Fprintf(out, "Peak VUs:     %d\n", sched.MaxTarget())
	fmt.Fprintf(out, "Graceful stop: %s\n", cfg.Settings.GracefulStop)
	fmt.Fprintln(out, "Stages:")
	for _, line := range describeStages(cfg) {
		fmt.Fprintln(out, line)
	}
	return nil
}
