// Package cli implements the synload command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0"

// EnvPrefix prefixes every environment override, e.g. SYNLOAD_URL.
const EnvPrefix = "SYNLOAD"

// NewRootCmd builds the synload command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "synload",
		Short:   "Staged-concurrency HTTP GET load driver",
		Version: version,
		Long: `synload drives HTTP GET requests against a single URL while the number
of concurrent virtual users follows a staged schedule. Each stage moves
concurrency linearly from the previous target to its own target over its
duration. Every response is checked for status 200 and a summary with the
total number of requests and successes is printed at the end.

Every flag can also be set through the environment with the SYNLOAD_
prefix, e.g. SYNLOAD_URL or SYNLOAD_GRACEFUL_STOP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			return setupLogging(cmd.ErrOrStderr(), v.GetString("log-level"), v.GetBool("verbose"))
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the command line and prints any error to stderr.
func Execute() error {
	return ExecuteArgs(os.Args[1:], os.Stdout, os.Stderr)
}

// ExecuteArgs runs the command line with explicit arguments and writers.
func ExecuteArgs(args []string, stdout, stderr io.Writer) error {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// newViper binds the flags of cmd and SYNLOAD_* environment variables.
// A flag set on the command line wins over the environment, which wins
// over the flag default.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

// setupLogging configures the global logrus logger.
func setupLogging(w io.Writer, level string, verbose bool) error {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	log.SetOutput(w)

	if verbose {
		log.SetLevel(log.DebugLevel)
		return nil
	}

	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	return nil
}
