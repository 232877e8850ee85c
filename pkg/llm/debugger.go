package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ddx/pkg/monitor"
)

// StreamDebugger dumps raw provider responses under debug/chunks/[case]/provider
// so oracle replies can be inspected after a run.
type StreamDebugger struct {
	file    *os.File
	enabled bool
}

// NewStreamDebugger opens the dump file when enabled. The case id in ctx, if
// any, becomes a directory level.
func NewStreamDebugger(ctx context.Context, provider string, enabled bool) *StreamDebugger {
	if !enabled {
		return &StreamDebugger{enabled: false}
	}

	// Base debug dir
	debugDir := filepath.Join("debug", "chunks", provider)

	if caseID := monitor.CaseID(ctx); caseID != "" {
		debugDir = filepath.Join("debug", "chunks", caseID, provider)
	}

	if err := os.MkdirAll(debugDir, 0755); err != nil {
		slog.Error("Failed to create debug directory", "dir", debugDir, "error", err)
		return &StreamDebugger{enabled: false}
	}

	timestamp := time.Now().Format("20060102_150405.000")
	filename := filepath.Join(debugDir, fmt.Sprintf("%s.log", timestamp))

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("Failed to open debug file", "file", filename, "error", err)
		return &StreamDebugger{enabled: false}
	}

	slog.DebugContext(ctx, "Debug mode ON", "provider", provider, "file", filename)
	return &StreamDebugger{
		file:    f,
		enabled: true,
	}
}

// Dump marshals v as one JSON line.
func (d *StreamDebugger) Dump(v any) {
	if !d.enabled || d.file == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal debug payload", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := d.file.Write(data); err != nil {
		slog.Warn("Failed to write to debug file", "error", err)
	}
}

// Close closes the debug file handle.
func (d *StreamDebugger) Close() {
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
}
