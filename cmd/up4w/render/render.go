// Package render formats up4w replies and pushed messages for the terminal.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/gezibash/up4w/pkg/up4w"
)

// Shared colors.
var (
	AccentColor = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	DimColor    = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
	WarnColor   = lipgloss.AdaptiveColor{Light: "#F25D94", Dark: "#F25D94"}
	GreenColor  = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
)

var (
	senderStyle = lipgloss.NewStyle().Foreground(AccentColor).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(DimColor)
	okStyle     = lipgloss.NewStyle().Foreground(GreenColor).Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(WarnColor).Bold(true)
	keyStyle    = lipgloss.NewStyle().Foreground(DimColor).Width(14)
	labelStyle  = lipgloss.NewStyle().Foreground(AccentColor).Italic(true)
)

// DefaultWidth is used when the output is not a terminal.
const DefaultWidth = 80

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// WriteJSON writes v as indented JSON to w.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteJSONLine writes v as a single JSON line.
func WriteJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// Timestamp converts a message timestamp to a time. Values above 1e12
// are taken as milliseconds.
func Timestamp(ts int64) time.Time {
	if ts > 1e12 {
		return time.UnixMilli(ts)
	}
	return time.Unix(ts, 0)
}

// ShortKey shortens long base64 or hex keys for display.
func ShortKey(k string) string {
	if len(k) <= 12 {
		return k
	}
	return truncate.StringWithTail(k, 10, "…")
}

// Message writes a pushed message as a header line and wrapped content.
// label, when set, is shown next to the sender key.
func Message(w io.Writer, msg *up4w.Message, label string, width int) error {
	if width <= 0 {
		width = DefaultWidth
	}
	header := fmt.Sprintf("%s %s %s",
		dimStyle.Render(Timestamp(msg.Timestamp).Format("15:04:05")),
		senderStyle.Render(ShortKey(msg.Sender)),
		dimStyle.Render(fmt.Sprintf("app=%d action=%d", msg.App, msg.Action)),
	)
	if label != "" {
		header += " " + labelStyle.Render(label)
	}
	if msg.Swarm != "" {
		header += " " + dimStyle.Render("swarm="+ShortKey(msg.Swarm))
	}
	body := indent.String(wordwrap.String(msg.Content, width-2), 2)
	if len(msg.Media) > 0 {
		body += "\n" + indent.String(dimStyle.Render(fmt.Sprintf("[%d media]", len(msg.Media))), 2)
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", header, body)
	return err
}

// Status writes a core.status reply as aligned key/value rows.
func Status(w io.Writer, st *up4w.Status) error {
	state := errStyle.Render("not initialized")
	if st.Initialized {
		state = okStyle.Render("initialized")
	}
	modules := append([]string(nil), st.Modules...)
	sort.Strings(modules)

	swarms := make([]string, 0, len(st.Swarms))
	for k, v := range st.Swarms {
		swarms = append(swarms, k+"="+v)
	}
	sort.Strings(swarms)

	rows := [][2]string{
		{"state", state},
		{"internet", st.Internet},
		{"modules", strings.Join(modules, ", ")},
		{"dht nodes", fmt.Sprint(st.DHTNodes)},
		{"swarms", strings.Join(swarms, ", ")},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%s%s\n", keyStyle.Render(r[0]), r[1]); err != nil {
			return err
		}
	}
	return nil
}

// Error writes err in the error style.
func Error(w io.Writer, err error) {
	_, _ = fmt.Fprintln(w, errStyle.Render("error:")+" "+err.Error())
}
