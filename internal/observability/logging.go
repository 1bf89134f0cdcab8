package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/otel/trace"

	"github.com/gezibash/up4w/pkg/logging"
)

// SetupLogger builds the process logger and installs it as the slog
// default. Format "json" writes JSON lines, "logfmt" the slog key=value
// form, and anything else ("text") pretty lines colored only on a terminal.
func SetupLogger(level, format string, w io.Writer) *slog.Logger {
	var handler slog.Handler
	switch f := strings.ToLower(format); f {
	case "json", "logfmt":
		handler = logging.NewHandler(level, f, w)
	default:
		ph := NewPrettyHandler(w, &slog.HandlerOptions{Level: logging.ParseLevel(level)})
		ph.color = isTerminal(w)
		handler = ph
	}

	handler = &TraceHandler{Handler: handler}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// TraceHandler wraps a slog.Handler and injects trace_id/span_id from context.
type TraceHandler struct {
	slog.Handler
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
	}
	if sc.HasSpanID() {
		r.AddAttrs(slog.String("span_id", sc.SpanID().String()))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

// PrettyHandler writes one human-readable line per record.
type PrettyHandler struct {
	opts  slog.HandlerOptions
	w     io.Writer
	mu    *sync.Mutex
	attrs []slog.Attr
	group string
	color bool
}

func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &PrettyHandler{opts: *opts, w: w, mu: &sync.Mutex{}}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// Handle writes "time level [component] message key=value...". The
// component attribute, when present, becomes the bracketed prefix instead
// of a trailing pair.
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format(time.TimeOnly))
	b.WriteByte(' ')
	lvl := levelLabel(r.Level)
	if h.color {
		lvl = levelStyle(r.Level).Render(lvl)
	}
	b.WriteString(lvl)

	component := ""
	pairs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		if a.Key == "component" {
			component = a.Value.String()
			continue
		}
		pairs = append(pairs, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		a.Key = h.key(a.Key)
		if a.Key == "component" {
			component = a.Value.String()
			return true
		}
		pairs = append(pairs, a)
		return true
	})

	if component != "" {
		tag := "[" + component + "]"
		if h.color {
			tag = componentStyle.Render(tag)
		}
		b.WriteString(" " + tag)
	}
	b.WriteString(" " + r.Message)
	for _, a := range pairs {
		val := a.Value.String()
		if strings.ContainsAny(val, " \t\n\"") {
			val = strconv.Quote(val)
		}
		if h.color && a.Key == "error" {
			val = errStyle.Render(val)
		}
		fmt.Fprintf(&b, " %s=%s", a.Key, val)
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *PrettyHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

// WithAttrs keys attrs under the current group.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(next.attrs, h.attrs)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	return &next
}

// WithGroup nests later keys under name.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = h.key(name)
	return &next
}

var (
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	debugStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	componentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
)

func levelLabel(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERR"
	case l >= slog.LevelWarn:
		return "WRN"
	case l >= slog.LevelInfo:
		return "INF"
	default:
		return "DBG"
	}
}

func levelStyle(l slog.Level) lipgloss.Style {
	switch {
	case l >= slog.LevelError:
		return errStyle
	case l >= slog.LevelWarn:
		return warnStyle
	case l >= slog.LevelInfo:
		return infoStyle
	default:
		return debugStyle
	}
}
