package monitor

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"ddx/pkg/api"

	"github.com/stretchr/testify/assert"
)

func TestCustomHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCustomHandler(&buf, slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := WithCaseID(context.Background(), "case-7")
	logger.With("agent", "stewardship").InfoContext(ctx, "Decision", "verdict", "APPROVE", "voi", 0.62914)
	logger.DebugContext(ctx, "hidden")

	out := buf.String()
	assert.Contains(t, out, "[INFO] [case-7] Decision")
	assert.Contains(t, out, `agent="stewardship"`)
	assert.Contains(t, out, `verdict="APPROVE"`)
	assert.Contains(t, out, "voi=0.6291")
	assert.NotContains(t, out, "hidden")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("whatever"))
}

func TestCaseID_Empty(t *testing.T) {
	assert.Equal(t, "", CaseID(context.Background()))
}

func TestCLIMonitor_QuietSkipsSteps(t *testing.T) {
	var buf bytes.Buffer
	m := NewCLIMonitorTo(&buf, false)

	m.OnEvent(api.TrailEvent{Timestamp: time.Now(), CaseID: "c1", Agent: "hypothesis", Message: "updated"})
	assert.Empty(t, buf.String())

	m.OnEvent(api.TrailEvent{
		Timestamp: time.Now(),
		CaseID:    "c1",
		Summary: &api.Summary{
			Status:     api.StatusDiagnosed,
			Diagnosis:  "reactive_arthritis",
			Confidence: 0.873,
			TotalCost:  15,
			Iterations: 2,
		},
	})
	assert.Contains(t, buf.String(), "DIAGNOSED reactive_arthritis (87.3%) cost=$15.00 iterations=2")
}
