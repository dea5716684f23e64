package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/shopgraph/internal/migration"
	"github.com/rohankatakam/shopgraph/internal/models"
	"github.com/rohankatakam/shopgraph/internal/validation"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
}

// encode writes v as json or yaml; text rendering is left to the caller
func encode(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	}
	return false, nil
}

func renderReport(w io.Writer, format string, r *migration.Report) error {
	if done, err := encode(w, format, r); done {
		return err
	}

	status := string(r.Status)
	if r.DryRun {
		status += " (dry run)"
	}
	fmt.Fprintf(w, "Run:       %s\n", r.RunID)
	fmt.Fprintf(w, "Status:    %s\n", status)
	fmt.Fprintf(w, "Started:   %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Duration:  %s\n", r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "Deleted:   %d nodes\n", r.Deleted)

	if len(r.Phases) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PHASE\tROWS\tNODES\tEDGES\tDURATION")
		for _, p := range r.Phases {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", p.Phase, p.RowsRead, p.NodesWritten, p.EdgesWritten,
				time.Duration(p.DurationMS)*time.Millisecond)
		}
		tw.Flush()
	}

	if r.Graph != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Graph:     %s\n", formatCounts(*r.Graph))
	}

	if !r.Succeeded() {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Failed in %s: %s: %s\n", r.FailedPhase, r.ErrorKind, r.Error)
	}
	return nil
}

func formatCounts(c models.GraphCounts) string {
	parts := make([]string, 0, len(models.NodeKinds)+len(models.EdgeKinds))
	for _, k := range models.NodeKinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, c.Nodes[k]))
	}
	for _, k := range models.EdgeKinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, c.Edges[k]))
	}
	return strings.Join(parts, " ")
}

func renderRuns(w io.Writer, format string, runs []*migration.Report) error {
	if done, err := encode(w, format, runs); done {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tDURATION\tNODES\tEDGES\tFAILURE")
	for _, r := range runs {
		failure := ""
		if !r.Succeeded() {
			failure = fmt.Sprintf("%s/%s", r.FailedPhase, r.ErrorKind)
		}
		status := string(r.Status)
		if r.DryRun {
			status += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.RunID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), status,
			r.Duration().Round(time.Millisecond), r.NodesWritten(), r.EdgesWritten(), failure)
	}
	return tw.Flush()
}

func renderValidation(w io.Writer, format string, s *validation.Summary) error {
	if done, err := encode(w, format, s); done {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tSOURCE\tGRAPH\tSYNC\tOK")
	for _, r := range s.Results {
		ok := "yes"
		if !r.PassedThreshold {
			ok = "NO"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\t%s\n", r.EntityType, r.SourceCount, r.GraphCount, r.VariancePercent, ok)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	if s.Passed {
		fmt.Fprintln(w, "Graph matches source")
	} else {
		fmt.Fprintln(w, "Graph differs from source; re-run `shopgraph migrate`")
	}
	return nil
}
