package provider

import (
	"encoding/json"
	"regexp"
	"strings"
)

const chunkSeparator = "|--|"

// Boundaries between concatenated JSON values, with one optional newline
// or carriage return tolerated between them.
var chunkBoundaries = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`\}[\n\r]?\{`), "}" + chunkSeparator + "{"},
	{regexp.MustCompile(`\}\][\n\r]?\[\{`), "}]" + chunkSeparator + "[{"},
	{regexp.MustCompile(`\}[\n\r]?\[\{`), "}" + chunkSeparator + "[{"},
	{regexp.MustCompile(`\}\][\n\r]?\{`), "}]" + chunkSeparator + "{"},
}

// Dechunker reassembles JSON values from WebSocket messages that may hold
// several values or only part of one. It is not safe for concurrent use.
type Dechunker struct {
	last string
}

// Feed splits data into complete JSON values. A fragment that does not
// parse is kept and prepended to the following fragments.
func (d *Dechunker) Feed(data string) []json.RawMessage {
	for _, b := range chunkBoundaries {
		data = b.re.ReplaceAllString(data, b.repl)
	}

	var out []json.RawMessage
	for _, frag := range strings.Split(data, chunkSeparator) {
		frag = d.last + frag
		if strings.TrimSpace(frag) == "" {
			continue
		}
		if !json.Valid([]byte(frag)) {
			d.last = frag
			continue
		}
		d.last = ""
		out = append(out, json.RawMessage(frag))
	}
	return out
}

// Pending reports whether an incomplete fragment is buffered.
func (d *Dechunker) Pending() bool { return d.last != "" }

// Drop discards the buffered fragment.
func (d *Dechunker) Drop() { d.last = "" }
