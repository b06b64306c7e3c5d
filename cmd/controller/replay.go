package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/replay"
)

// #region replay-cmd
func (a *app) replayCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "replay <fixture|dir>...",
		Short: "Replay search fixtures and compare them with their expected outcomes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.replay(cmd.Context(), args, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON instead of table")
	return cmd
}

// #endregion replay-cmd

// #region replay
func (a *app) replay(ctx context.Context, paths []string, jsonOut bool) error {
	var fixtures []*replay.Fixture
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		if info.IsDir() {
			fs, err := replay.LoadDir(p)
			if err != nil {
				return err
			}
			fixtures = append(fixtures, fs...)
			continue
		}
		f, err := replay.LoadFixture(p)
		if err != nil {
			return err
		}
		fixtures = append(fixtures, f)
	}
	if len(fixtures) == 0 {
		return fmt.Errorf("replay: no fixtures under %v", paths)
	}

	results, err := replay.ReplayAll(ctx, fixtures, a.logger)
	if err != nil {
		return err
	}

	sum := replay.Summarize(results)
	if jsonOut {
		if err := printJSON(a.out, replayReport(results, sum)); err != nil {
			return err
		}
	} else {
		printComparison(a, results, sum)
	}
	if sum.Failed > 0 {
		return mismatchError{failed: sum.Failed}
	}
	return nil
}

// #endregion replay

// #region output
type replayRow struct {
	Name          string   `json:"name"`
	Phase         string   `json:"phase"`
	Template      string   `json:"template,omitempty"`
	Evaluations   int      `json:"evaluations"`
	OracleCalls   int64    `json:"oracle_calls"`
	Deterministic bool     `json:"deterministic"`
	Audit         string   `json:"audit"`
	Mismatches    []string `json:"mismatches,omitempty"`
	Passed        bool     `json:"passed"`
}

type replayJSON struct {
	Fixtures []replayRow `json:"fixtures"`
	Total    int         `json:"total"`
	Passed   int         `json:"passed"`
	Failed   int         `json:"failed"`
}

func replayReport(results []replay.ReplayResult, sum replay.ReplaySummary) replayJSON {
	out := replayJSON{Total: sum.Total, Passed: sum.Passed, Failed: sum.Failed}
	for _, r := range results {
		out.Fixtures = append(out.Fixtures, replayRow{
			Name:          r.Name,
			Phase:         string(r.Result.Phase),
			Template:      r.Result.Template,
			Evaluations:   r.Result.Evaluations,
			OracleCalls:   r.OracleCalls,
			Deterministic: r.Deterministic,
			Audit:         r.Audit.Reason,
			Mismatches:    r.Mismatches,
			Passed:        r.Passed(),
		})
	}
	return out
}

func printComparison(a *app, results []replay.ReplayResult, sum replay.ReplaySummary) {
	fmt.Fprintf(a.out, "%-28s| %-10s| %-14s| %-6s| %-7s| %s\n",
		"Fixture", "Phase", "Template", "Evals", "Oracle", "Match")
	fmt.Fprintf(a.out, "%-28s+%-11s+%-15s+%-7s+%-8s+%s\n",
		"----------------------------", "-----------", "---------------", "-------", "--------", "------")

	for _, r := range results {
		match := "DIFF"
		if r.Passed() {
			match = "OK"
		}
		fmt.Fprintf(a.out, "%-28s| %-10s| %-14s| %-6d| %-7d| %s\n",
			r.Name, r.Result.Phase, r.Result.Template, r.Result.Evaluations, r.OracleCalls, match)
		for _, m := range r.Mismatches {
			fmt.Fprintf(a.out, "    %s\n", m)
		}
		if !r.Audit.Passed {
			fmt.Fprintf(a.out, "    %s\n", r.Audit.Reason)
		}
		if !r.Deterministic {
			fmt.Fprintf(a.out, "    nondeterministic trace:\n%s\n", r.Diff)
		}
	}

	fmt.Fprintf(a.out, "\nSummary: %d total, %d match, %d diverge\n", sum.Total, sum.Passed, sum.Failed)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion output
