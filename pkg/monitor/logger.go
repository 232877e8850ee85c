package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

type ctxKey string

// CaseIDKey is the context key carrying the case id for log lines and debug dumps.
const CaseIDKey ctxKey = "ddx_case_id"

// WithCaseID returns a context tagged with the case id.
func WithCaseID(ctx context.Context, caseID string) context.Context {
	return context.WithValue(ctx, CaseIDKey, caseID)
}

// CaseID extracts the case id from ctx, or "".
func CaseID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(CaseIDKey).(string)
	return id
}

// CustomHandler implements slog.Handler to provide [TIME] [LEVEL] format
type CustomHandler struct {
	w     io.Writer
	mu    *sync.Mutex
	opts  slog.HandlerOptions
	attrs []slog.Attr
}

func NewCustomHandler(w io.Writer, opts slog.HandlerOptions) *CustomHandler {
	return &CustomHandler{
		w:    w,
		mu:   &sync.Mutex{},
		opts: opts,
	}
}

func (h *CustomHandler) Enabled(ctx context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *CustomHandler) Handle(ctx context.Context, r slog.Record) error {
	buf := bytes.NewBuffer(nil)

	// Format: [2006-01-02 15:04:05] [LEVEL] [CASE_ID] Message
	// Or:    [2006-01-02 15:04:05] [LEVEL] Message (if no case id)
	fmt.Fprintf(buf, "[%s] [%s]",
		r.Time.Format("2006-01-02 15:04:05"),
		r.Level,
	)

	if caseID := CaseID(ctx); caseID != "" {
		fmt.Fprintf(buf, " [%s]", caseID)
	}

	fmt.Fprintf(buf, " %s", r.Message)

	// 1. Stored attributes (from WithAttrs)
	for _, a := range h.attrs {
		h.appendAttr(buf, a)
	}

	// 2. Record attributes
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(buf, a)
		return true
	})

	buf.WriteString("\n")

	// 多個 case 並行寫入，避免行與行交錯
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *CustomHandler) appendAttr(buf *bytes.Buffer, a slog.Attr) {
	buf.WriteString(" ")
	buf.WriteString(a.Key)
	buf.WriteString("=")

	val := a.Value.Resolve()
	switch val.Kind() {
	case slog.KindString:
		fmt.Fprintf(buf, "%q", val.String())
	case slog.KindTime:
		buf.WriteString(val.Time().Format(time.RFC3339))
	case slog.KindFloat64:
		fmt.Fprintf(buf, "%.4g", val.Float64())
	default:
		fmt.Fprintf(buf, "%v", val.Any())
	}
}

func (h *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &CustomHandler{
		w:     h.w,
		mu:    h.mu,
		opts:  h.opts,
		attrs: merged,
	}
}

func (h *CustomHandler) WithGroup(name string) slog.Handler {
	// Grouping not supported in this simple implementation
	return h
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupSlog initializes the global slog logger with the CustomHandler.
func SetupSlog(levelStr string) {
	handler := NewCustomHandler(os.Stderr, slog.HandlerOptions{
		Level: ParseLevel(levelStr),
	})

	slog.SetDefault(slog.New(handler))
}

// PrintBanner prints the startup banner
func PrintBanner(w io.Writer) {
	fmt.Fprintln(w, "ddx · closed-loop differential diagnosis")
	fmt.Fprintln(w, "----------------------------------------")
}
