package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"ddx/pkg/api"
	"ddx/pkg/gateway"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// displayNamer resolves disease ids to readable names.
type displayNamer interface {
	DisplayName(disease string) string
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderSummary prints the differential, the tests ordered and the outcome.
func renderSummary(w io.Writer, s api.Summary, names displayNamer) {
	diff := newTable(w)
	diff.SetTitle("Differential · case " + s.CaseID)
	diff.AppendHeader(table.Row{"#", "Diagnosis", "Posterior", "Prior", "Evidence"})
	for i, c := range s.Differential {
		diff.AppendRow(table.Row{
			i + 1,
			names.DisplayName(c.Name),
			fmt.Sprintf("%.1f%%", c.Posterior*100),
			fmt.Sprintf("%.2f%%", c.Prior*100),
			len(c.Trace),
		})
	}
	diff.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	diff.Render()

	if len(s.TestsOrdered) > 0 {
		tests := newTable(w)
		tests.AppendHeader(table.Row{"Iteration", "Test", "Result", "Outcome", "Cost"})
		for _, r := range s.TestsOrdered {
			outcome := r.Outcome
			if outcome == "" {
				outcome = "-"
			}
			tests.AppendRow(table.Row{r.Iteration, r.Test, r.Raw, outcome, fmt.Sprintf("$%.2f", r.Cost)})
		}
		tests.AppendFooter(table.Row{"", "", "", "Total", fmt.Sprintf("$%.2f", s.TotalCost)})
		tests.Render()
	}

	fmt.Fprintln(w, outcomeLine(s, names))
	if s.Treatment != nil {
		for _, m := range s.Treatment.Medications {
			fmt.Fprintf(w, "  💊 %s %s, %s, %s\n", m.Name, m.Dosage, m.Frequency, m.Duration)
		}
		if s.Treatment.FollowUp != "" {
			fmt.Fprintf(w, "  Follow-up: %s\n", s.Treatment.FollowUp)
		}
	}
	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "  ⚠️ %s\n", warn)
	}
}

func outcomeLine(s api.Summary, names displayNamer) string {
	var flags []string
	if s.Flags.CeilingReached {
		flags = append(flags, "iteration ceiling")
	}
	if s.Flags.Cancelled {
		flags = append(flags, "cancelled")
	}
	if s.Flags.DegradedPrior {
		flags = append(flags, "degraded prior")
	}
	if s.Flags.DegradedReasoning {
		flags = append(flags, "degraded reasoning")
	}

	line := fmt.Sprintf("%s after %d iterations, $%.2f", s.Status, s.Iterations, s.TotalCost)
	if s.Diagnosis != "" {
		line = fmt.Sprintf("✅ %s: %s (%.1f%%) after %d iterations, $%.2f",
			s.Status, names.DisplayName(s.Diagnosis), s.Confidence*100, s.Iterations, s.TotalCost)
	}
	if len(flags) > 0 {
		line += " [" + strings.Join(flags, ", ") + "]"
	}
	return line
}

// renderBatch prints one row per case followed by the aggregate figures.
func renderBatch(w io.Writer, r gateway.BatchReport) {
	cases := newTable(w)
	cases.AppendHeader(table.Row{"Case", "Status", "Diagnosis", "Confidence", "Cost", "Iterations", "Expected"})
	for _, s := range r.Summaries {
		if s.CaseID == "" {
			continue
		}
		expected := "-"
		if s.ExpectedMatch != nil {
			expected = "✗"
			if *s.ExpectedMatch {
				expected = "✓"
			}
		}
		cases.AppendRow(table.Row{
			s.CaseID, s.Status, s.Diagnosis,
			fmt.Sprintf("%.1f%%", s.Confidence*100),
			fmt.Sprintf("$%.2f", s.TotalCost),
			s.Iterations, expected,
		})
	}
	cases.Render()

	agg := newTable(w)
	agg.SetTitle("Batch")
	agg.AppendHeader(table.Row{"Metric", "Mean", "Median", "P90"})
	agg.AppendRow(table.Row{"Cost", money(r.Cost.Mean), money(r.Cost.Median), money(r.Cost.P90)})
	agg.AppendRow(table.Row{"Iterations",
		fmt.Sprintf("%.1f", r.Iterations.Mean),
		fmt.Sprintf("%.1f", r.Iterations.Median),
		fmt.Sprintf("%.1f", r.Iterations.P90)})
	agg.AppendRow(table.Row{"Confidence (correct / wrong)",
		fmt.Sprintf("%.1f%%", r.Calibration.Correct*100),
		fmt.Sprintf("%.1f%%", r.Calibration.Incorrect*100), ""})
	agg.AppendFooter(table.Row{"Accuracy", fmt.Sprintf("%d/%d", r.Correct, r.Evaluated), fmt.Sprintf("%.1f%%", r.Accuracy*100), fmt.Sprintf("diagnosed %d", r.Diagnosed)})
	agg.AppendFooter(table.Row{"Top-3", fmt.Sprintf("%d/%d", r.Top3, r.Evaluated), fmt.Sprintf("%.1f%%", r.Top3Accuracy*100), ""})
	agg.Render()

	if len(r.Pareto) > 0 {
		pareto := newTable(w)
		pareto.SetTitle("Accuracy vs cost")
		pareto.AppendHeader(table.Row{"Budget", "Cases", "Accuracy", "Avg cost", "Avg tests"})
		for _, p := range r.Pareto {
			pareto.AppendRow(table.Row{
				money(p.Budget), p.Cases,
				fmt.Sprintf("%.1f%%", p.Accuracy*100),
				money(p.AvgCost),
				fmt.Sprintf("%.1f", p.AvgTests),
			})
		}
		pareto.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, Align: text.AlignRight},
			{Number: 3, Align: text.AlignRight},
		})
		pareto.Render()
	}

	if len(r.Failures) > 0 {
		ids := make([]string, 0, len(r.Failures))
		for id := range r.Failures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "❌ %s: %s\n", id, r.Failures[id])
		}
	}
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}
