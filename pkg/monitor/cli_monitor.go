package monitor

import (
	"fmt"
	"io"
	"os"
	"sync"

	"ddx/pkg/api"
)

// CLIMonitor implements the Monitor interface, providing a direct
// terminal-based view of every case's decision trail.
type CLIMonitor struct {
	writer  io.Writer // The output destination, typically os.Stdout.
	verbose bool      // print every step, not only decisions and outcomes
	mu      sync.Mutex
}

// NewCLIMonitor creates a new CLI monitor
func NewCLIMonitor(verbose bool) *CLIMonitor {
	return NewCLIMonitorTo(os.Stdout, verbose)
}

// NewCLIMonitorTo creates a CLI monitor writing to w.
func NewCLIMonitorTo(w io.Writer, verbose bool) *CLIMonitor {
	return &CLIMonitor{
		writer:  w,
		verbose: verbose,
	}
}

// Start starts the CLI monitor
func (m *CLIMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "🩺 CLI Monitor Active - case trails will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

// Stop stops the CLI monitor
func (m *CLIMonitor) Stop() error {
	return nil
}

// OnEvent displays a trail event.
func (m *CLIMonitor) OnEvent(event api.TrailEvent) {
	if !m.verbose && event.Decision == nil && event.Summary == nil {
		return
	}

	timestamp := event.Timestamp.Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%s #%d] %s: %s", event.CaseID, event.Iteration, event.Agent, event.Message)
	if event.Summary != nil {
		line = fmt.Sprintf("[%s] ✅ %s %s (%.1f%%) cost=$%.2f iterations=%d",
			event.CaseID, event.Summary.Status, event.Summary.Diagnosis,
			event.Summary.Confidence*100, event.Summary.TotalCost, event.Summary.Iterations)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Use gray color for timestamp
	fmt.Fprintf(m.writer, "\033[90m[%s]\033[0m %s\n", timestamp, line)
}
