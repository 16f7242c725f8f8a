package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/invload/internal/config"
	"github.com/wesleyorama2/invload/internal/logging"
)

var version = "0.1.0"

// Exit codes reported by the process.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitThresholds = 99
)

// ExitCodeError carries a process exit code through cobra.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitError
}

// app holds state shared by every subcommand.
type app struct {
	logger  zerolog.Logger
	noColor bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:     "invload",
		Short:   "Load test the inventory API",
		Version: version,
		Long: `invload drives the inventory API with a k6-style load profile: each
iteration lists the products, reads one store's inventory and pauses.

The default run holds 500 iterations/s for 10s with 500 pre-allocated VUs
and fails when p(95) of http_req_duration reaches 500ms or more than 1% of
requests fail.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFiles, _ := cmd.Flags().GetStringSlice("env-file")
			if err := config.LoadEnv(envFiles...); err != nil {
				return err
			}

			level, _ := cmd.Flags().GetString("log-level")
			if v, ok := os.LookupEnv(config.EnvLogLevel); ok && !cmd.Flags().Changed("log-level") {
				level = v
			}
			a.noColor, _ = cmd.Flags().GetBool("no-color")

			logger, err := logging.New(cmd.ErrOrStderr(), logging.Options{
				Level:   level,
				NoColor: a.noColor,
			})
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringSlice("env-file", nil, "Env files to load (default .env)")
	root.PersistentFlags().Bool("no-color", false, "Disable colored output")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newValidateCmd(a))
	root.AddCommand(newHistoryCmd(a))
	root.AddCommand(newMockCmd(a))

	return root
}

// Execute runs the CLI with os.Args and reports errors on stderr.
func Execute() error {
	return execute(NewRootCmd(), os.Stderr)
}

func execute(root *cobra.Command, stderr io.Writer) error {
	err := root.Execute()
	if err == nil {
		return nil
	}

	var exitErr *ExitCodeError
	if !errors.As(err, &exitErr) || exitErr.Code != ExitThresholds {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return err
}
