package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parley-proto/parley/internal/harness"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario.yaml>...",
		Short: "Validate scenario files without running them",
		Long: `Parse and validate one or more scenario files.

Validation checks YAML syntax, rejects unknown fields (typos), and
verifies that steps and assertions reference declared nodes.

Examples:
  parley validate ./scenarios/bootstrap.yaml
  parley validate ./scenarios/*.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

// ValidationReport is one file's validation outcome.
type ValidationReport struct {
	Path  string `json:"path"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	reports := make([]ValidationReport, 0, len(paths))
	failed := 0
	for _, path := range paths {
		report := ValidationReport{Path: path, Valid: true}
		if _, err := harness.LoadScenario(path); err != nil {
			report.Valid = false
			report.Error = err.Error()
			failed++
		}
		reports = append(reports, report)
	}

	if opts.Format == "json" {
		if err := formatter.Success(reports); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, r := range reports {
			if r.Valid {
				fmt.Fprintf(w, "ok   %s\n", r.Path)
			} else {
				fmt.Fprintf(w, "FAIL %s: %s\n", r.Path, r.Error)
			}
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario files invalid", failed, len(paths)))
	}
	return nil
}
