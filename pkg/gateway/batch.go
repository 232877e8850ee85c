package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"ddx/pkg/agent"
	"ddx/pkg/api"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
)

// Distribution summarizes one metric across a batch.
type Distribution struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
}

// ParetoBudgets are the cost ceilings of the accuracy-vs-cost frontier.
var ParetoBudgets = []float64{25, 50, 100, 200, 500}

// Calibration compares mean confidence on right and wrong answers.
type Calibration struct {
	Correct   float64 `json:"avg_confidence_correct"`
	Incorrect float64 `json:"avg_confidence_incorrect"`
}

// ParetoPoint is the accuracy of the labelled cases that finished within Budget.
type ParetoPoint struct {
	Budget   float64 `json:"budget"`
	Cases    int     `json:"cases"`
	Accuracy float64 `json:"accuracy"`
	AvgCost  float64 `json:"avg_cost"`
	AvgTests float64 `json:"avg_tests"`
}

// BatchReport is the outcome of a batch run. Summaries follow input order;
// failed cases have an empty summary and an entry in Failures.
type BatchReport struct {
	Summaries    []api.Summary     `json:"summaries"`
	Failures     map[string]string `json:"failures,omitempty"`
	Diagnosed    int               `json:"diagnosed"`
	Evaluated    int               `json:"evaluated"` // cases with an expected diagnosis
	Correct      int               `json:"correct"`
	Accuracy     float64           `json:"accuracy"`
	Top3         int               `json:"top3_correct"` // expected diagnosis among the three leaders
	Top3Accuracy float64           `json:"top3_accuracy"`
	Calibration  Calibration       `json:"calibration"`
	Pareto       []ParetoPoint     `json:"pareto_frontier,omitempty"`
	Cost         Distribution      `json:"cost"`
	Iterations   Distribution      `json:"iterations"`
}

// RunBatch runs every case with at most Workers in flight. A failing case
// does not stop the others; only ctx cancellation aborts the batch.
func (m *CaseManager) RunBatch(ctx context.Context, inputs []agent.CaseInput) (BatchReport, error) {
	summaries := make([]api.Summary, len(inputs))
	errs := make([]error, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(m.system.Workers, 1))
	for i, input := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			summaries[i], errs[i] = m.Run(gctx, input)
			if errs[i] != nil {
				slog.Warn("Case failed", "case", input.ID, "error", errs[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchReport{}, err
	}

	return buildReport(inputs, summaries, errs), nil
}

// evaluated 是有標準答案且成功執行的 case
type evaluated struct {
	summary api.Summary
	correct bool
	inTop3  bool
}

func buildReport(inputs []agent.CaseInput, summaries []api.Summary, errs []error) BatchReport {
	report := BatchReport{Summaries: summaries}
	var costs, iterations []float64
	var labelled []evaluated
	for i, s := range summaries {
		if errs[i] != nil {
			if report.Failures == nil {
				report.Failures = make(map[string]string)
			}
			report.Failures[caseLabel(inputs[i], i)] = errs[i].Error()
			continue
		}
		if s.Status == api.StatusDiagnosed {
			report.Diagnosed++
		}
		if s.ExpectedMatch != nil {
			labelled = append(labelled, evaluated{
				summary: s,
				correct: *s.ExpectedMatch,
				inTop3:  inTopK(s, inputs[i].Expected, 3),
			})
		}
		costs = append(costs, s.TotalCost)
		iterations = append(iterations, float64(s.Iterations))
	}

	var right, wrong []float64
	for _, e := range labelled {
		report.Evaluated++
		if e.correct {
			report.Correct++
			right = append(right, e.summary.Confidence)
		} else {
			wrong = append(wrong, e.summary.Confidence)
		}
		if e.inTop3 {
			report.Top3++
		}
	}
	if report.Evaluated > 0 {
		report.Accuracy = float64(report.Correct) / float64(report.Evaluated)
		report.Top3Accuracy = float64(report.Top3) / float64(report.Evaluated)
	}
	report.Calibration.Correct = mean(right)
	report.Calibration.Incorrect = mean(wrong)
	report.Pareto = paretoFrontier(labelled, ParetoBudgets)
	report.Cost = distribution(costs)
	report.Iterations = distribution(iterations)
	return report
}

// paretoFrontier evaluates the labelled cases that stayed within each budget.
// Budgets no case fits under are left out.
func paretoFrontier(cases []evaluated, budgets []float64) []ParetoPoint {
	var points []ParetoPoint
	for _, budget := range budgets {
		var costs, tests []float64
		correct := 0
		for _, e := range cases {
			if e.summary.TotalCost > budget {
				continue
			}
			costs = append(costs, e.summary.TotalCost)
			tests = append(tests, float64(len(e.summary.TestsOrdered)))
			if e.correct {
				correct++
			}
		}
		if len(costs) == 0 {
			continue
		}
		points = append(points, ParetoPoint{
			Budget:   budget,
			Cases:    len(costs),
			Accuracy: float64(correct) / float64(len(costs)),
			AvgCost:  mean(costs),
			AvgTests: mean(tests),
		})
	}
	return points
}

func inTopK(s api.Summary, expected string, k int) bool {
	if expected == "" {
		return false
	}
	for i, c := range s.Differential {
		if i == k {
			break
		}
		if c.Name == expected {
			return true
		}
	}
	return false
}

func mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	m, _ := stats.Mean(data)
	return m
}

func distribution(data []float64) Distribution {
	if len(data) == 0 {
		return Distribution{}
	}
	var d Distribution
	d.Mean, _ = stats.Mean(data)
	d.Median, _ = stats.Median(data)
	d.P90, _ = stats.Percentile(data, 90)
	return d
}

func caseLabel(input agent.CaseInput, i int) string {
	if input.ID != "" {
		return input.ID
	}
	return fmt.Sprintf("#%d", i+1)
}
