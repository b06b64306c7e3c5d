package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/store"
)

// #region inspect-cmd
func (a *app) inspectCmd() *cobra.Command {
	var (
		last    int
		runID   string
		labels  string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect recorded frames, their lineage and pseudo-labels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.NewStore(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			switch {
			case runID != "":
				return a.inspectRun(ctx, st, runID, jsonOut)
			case labels != "":
				return a.inspectLabels(ctx, st, labels, last, jsonOut)
			default:
				return a.inspectList(ctx, st, last, jsonOut)
			}
		},
	}
	f := cmd.Flags()
	f.IntVar(&last, "last", 20, "show N most recent records")
	f.StringVar(&runID, "run", "", "show single run detail with lineage and provenance")
	f.StringVar(&labels, "labels", "", "show pseudo-labels recorded for a context")
	f.BoolVar(&jsonOut, "json", false, "output as JSON instead of table")
	return cmd
}

// #endregion inspect-cmd

// #region list
type listRow struct {
	RunID       string `json:"run_id"`
	ParentID    string `json:"parent_id,omitempty"`
	Context     string `json:"context"`
	Phase       string `json:"phase"`
	Template    string `json:"template"`
	Signal      string `json:"signal"`
	Evaluations int    `json:"evaluations"`
	Budget      int    `json:"budget"`
	CreatedAt   string `json:"created_at"`
}

func (a *app) inspectList(ctx context.Context, st *store.Store, last int, jsonOut bool) error {
	runs, err := st.ListRuns(ctx, last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.out, "No runs found.")
		return nil
	}

	rows := make([]listRow, len(runs))
	for i, r := range runs {
		// oldest first
		rows[len(runs)-1-i] = listRow{
			RunID:       r.RunID,
			ParentID:    r.ParentID,
			Context:     r.Context,
			Phase:       string(r.Phase),
			Template:    r.Template,
			Signal:      r.Signal.String(),
			Evaluations: r.Evaluations,
			Budget:      r.Budget,
			CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		}
	}
	if jsonOut {
		return printJSON(a.out, rows)
	}

	fmt.Fprintf(a.out, "%-12s  %-12s  %-20s  %-10s  %-14s  %-22s  %9s  %s\n",
		"Run", "Parent", "Context", "Phase", "Template", "Signal", "Evals", "Time")
	fmt.Fprintf(a.out, "%-12s+-%-12s+-%-20s+-%-10s+-%-14s+-%-22s+-%9s+-%s\n",
		"------------", "------------", "--------------------", "----------", "--------------",
		"----------------------", "---------", "--------------------")
	for _, r := range rows {
		parent := "-"
		if r.ParentID != "" {
			parent = shortID(r.ParentID)
		}
		fmt.Fprintf(a.out, "%-12s  %-12s  %-20s  %-10s  %-14s  %-22s  %4d/%-4d  %s\n",
			shortID(r.RunID), parent, r.Context, r.Phase, r.Template, r.Signal, r.Evaluations, r.Budget, r.CreatedAt)
	}
	fmt.Fprintf(a.out, "\n%d runs\n", len(rows))
	return nil
}

// #endregion list

// #region detail
type detailOut struct {
	Run        store.RunRecord `json:"run"`
	Lineage    []string        `json:"lineage"`
	Provenance []provenanceRow `json:"provenance"`
}

type provenanceRow struct {
	Trigger  string `json:"trigger"`
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
	Signals  string `json:"signals"`
}

func (a *app) inspectRun(ctx context.Context, st *store.Store, runID string, jsonOut bool) error {
	lineage, err := st.Lineage(ctx, runID)
	if err != nil {
		return err
	}
	prov, err := st.Provenance(ctx, runID)
	if err != nil {
		return err
	}

	out := detailOut{Run: lineage[0]}
	for _, r := range lineage {
		out.Lineage = append(out.Lineage, r.RunID)
	}
	for _, p := range prov {
		out.Provenance = append(out.Provenance, provenanceRow{
			Trigger:  p.TriggerType,
			Decision: p.Decision,
			Reason:   p.Reason,
			Signals:  p.SignalsJSON,
		})
	}
	if jsonOut {
		return printJSON(a.out, out)
	}

	r := out.Run
	fmt.Fprintf(a.out, "Run:         %s\n", r.RunID)
	fmt.Fprintf(a.out, "Parent:      %s\n", r.ParentID)
	fmt.Fprintf(a.out, "Context:     %s\n", r.Context)
	fmt.Fprintf(a.out, "Seed:        %d\n", r.Seed)
	fmt.Fprintf(a.out, "Created:     %s\n", r.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(a.out, "Phase:       %s\n", r.Phase)
	fmt.Fprintf(a.out, "Template:    %s\n", r.Template)
	fmt.Fprintf(a.out, "Signal:      %s\n", r.Signal)
	fmt.Fprintf(a.out, "Evaluations: %d/%d (%d oracle calls)\n", r.Evaluations, r.Budget, r.OracleCalls)
	fmt.Fprintf(a.out, "Control:     %v\n", r.Control)

	fmt.Fprintf(a.out, "\nLineage (%d):\n", len(out.Lineage))
	for i, id := range out.Lineage {
		fmt.Fprintf(a.out, "  %d. %s\n", i, id)
	}

	if len(out.Provenance) > 0 {
		fmt.Fprintf(a.out, "\nProvenance:\n")
		for _, p := range out.Provenance {
			fmt.Fprintf(a.out, "  %-6s %-7s %s\n", p.Trigger, p.Decision, p.Reason)
		}
	}
	return nil
}

// #endregion detail

// #region labels
func (a *app) inspectLabels(ctx context.Context, st *store.Store, contextID string, last int, jsonOut bool) error {
	labels, err := st.Labels(ctx, contextID, last)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(a.out, labels)
	}
	if len(labels) == 0 {
		fmt.Fprintf(a.out, "No labels for %s.\n", contextID)
		return nil
	}

	fmt.Fprintf(a.out, "%-14s  %-8s  %s\n", "Template", "Seed", "Control")
	fmt.Fprintf(a.out, "%-14s+-%-8s+-%s\n", "--------------", "--------", "----------------")
	for _, l := range labels {
		fmt.Fprintf(a.out, "%-14s  %-8d  %v\n", l.Template, l.Seed, l.Control)
	}
	return nil
}

// #endregion labels

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
