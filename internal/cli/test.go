package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parley-proto/parley/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	ShowTrace bool
}

// ScenarioReport is one scenario's run outcome.
type ScenarioReport struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
	Events int      `json:"events"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario.yaml|dir>...",
		Short: "Run conformance scenarios",
		Long: `Run one or more handshake scenarios and report assertion outcomes.

Each scenario spins up real engines over in-memory stores and a synchronous
in-process bus, so runs are deterministic and fast. A directory argument
runs every *.yaml file inside it.

Exit codes:
  0 - all scenarios passed
  1 - one or more assertions failed
  2 - command error (bad path, malformed scenario)

Examples:
  parley test ./scenarios/bootstrap.yaml
  parley test ./scenarios --verbose
  parley test ./scenarios --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.ShowTrace, "trace", false, "print the envelope trace of each scenario")

	return cmd
}

func runTest(opts *TestOptions, args []string, cmd *cobra.Command) error {
	paths, err := collectScenarioPaths(args)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to collect scenarios", err)
	}
	if len(paths) == 0 {
		return NewExitError(ExitCommandError, "no scenario files found")
	}

	w := cmd.OutOrStdout()
	reports := make([]ScenarioReport, 0, len(paths))
	failed := 0

	for _, path := range paths {
		scenario, err := harness.LoadScenario(path)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("load %s", path), err)
		}

		result, err := harness.Run(scenario)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("run %s", scenario.Name), err)
		}

		report := ScenarioReport{
			Name:   scenario.Name,
			Path:   path,
			Pass:   result.Pass,
			Errors: result.Errors,
			Events: len(result.Trace),
		}
		reports = append(reports, report)
		if !result.Pass {
			failed++
		}

		if opts.Format != "json" {
			status := "PASS"
			if !result.Pass {
				status = "FAIL"
			}
			fmt.Fprintf(w, "%s %s (%d envelopes)\n", status, scenario.Name, report.Events)
			for _, msg := range result.Errors {
				fmt.Fprintf(w, "     %s\n", msg)
			}
			if opts.ShowTrace {
				for _, ev := range result.Trace {
					fmt.Fprintf(w, "     [%d] %s %s -> %s\n", ev.Seq, ev.Intent, ev.From, dash(ev.To))
				}
			}
		}
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: w, Verbose: opts.Verbose}
		if err := formatter.Success(reports); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "\n%d passed, %d failed\n", len(reports)-failed, failed)
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", failed, len(reports)))
	}
	return nil
}

// collectScenarioPaths expands directory arguments into their *.yaml files.
func collectScenarioPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
				continue
			}
			paths = append(paths, filepath.Join(arg, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
