package kernel

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kreijstal/mcp-ipython/internal/jupyter"
)

// TruncationMarker ends output cut at FormatOptions.MaxChars.
const TruncationMarker = "... (output truncated)"

const (
	iopubTimeoutLine = "  (Overall timeout waiting for all IOPub messages or kernel to go idle for this request)"
	shellTimeoutLine = "Timeout waiting for shell reply from IPython kernel."
	notAvailable     = "N/A"
)

// ansiPattern matches CSI escape sequences such as IPython's traceback colors.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// FormatOptions controls how a result is rendered.
type FormatOptions struct {
	StripANSI bool
	// MaxChars limits the rendered text; zero means unlimited.
	MaxChars int
}

// Format renders a result as the text returned to MCP clients: the status
// line, then every recorded output indented by two spaces, then the shell
// reply details.
func Format(r *ExecutionResult, opts FormatOptions) string {
	lines := []string{"Status: " + r.Status}

	for _, out := range r.Outputs {
		lines = append(lines, out.lines()...)
	}
	if r.IOPubTimedOut {
		lines = append(lines, iopubTimeoutLine)
	}
	if r.IOPubErr != nil {
		lines = append(lines, fmt.Sprintf("Exception while processing IOPub message: %v", r.IOPubErr))
	}

	switch r.Status {
	case jupyter.StatusOK:
		lines = append(lines, fmt.Sprintf("  Execution Count: %d", r.ExecutionCount))
	case jupyter.StatusError:
		e := r.ShellError
		if e == nil {
			e = errorDetails{}.content()
		}
		lines = append(lines,
			"  Shell Error Name: "+e.EName,
			"  Shell Error Value: "+e.EValue,
		)
		if len(e.Traceback) > 0 {
			lines = append(lines, "  Shell Traceback:")
			lines = append(lines, indent(e.Traceback)...)
		}
	case StatusShellReplyTimeout:
		lines = append(lines, shellTimeoutLine)
	case StatusShellReplyException:
		lines = append(lines, fmt.Sprintf("Exception while getting shell reply: %v", r.ShellErr))
	}

	text := joinNonEmpty(lines)
	if opts.StripANSI {
		text = StripANSI(text)
	}
	return Truncate(text, opts.MaxChars)
}

func (o Output) lines() []string {
	switch o.Kind {
	case OutputStatus:
		return []string{"  Kernel Status: " + o.State}
	case OutputStream:
		return []string{fmt.Sprintf("  %s: %s", capitalize(o.Name), strings.TrimSpace(o.Text))}
	case OutputResult:
		if o.Text != "" {
			return []string{"  Result: " + strings.TrimSpace(o.Text)}
		}
		keys := "data field missing or empty"
		if len(o.DataKeys) > 0 {
			keys = pyList(o.DataKeys)
		}
		return []string{fmt.Sprintf("  Execute_Result (no text/plain, available data keys: %s)", keys)}
	case OutputDisplay:
		text := o.Text
		if !o.hasKey("text/plain") {
			text = "No plain text data"
		}
		return []string{"  Display Data: " + strings.TrimSpace(text)}
	case OutputError:
		lines := []string{fmt.Sprintf("  IOPub Error: %s - %s", o.EName, o.EValue)}
		if len(o.Traceback) > 0 {
			lines = append(lines, "  IOPub Traceback:")
			lines = append(lines, indent(o.Traceback)...)
		}
		return lines
	}
	return nil
}

func (o Output) hasKey(key string) bool {
	for _, k := range o.DataKeys {
		if k == key {
			return true
		}
	}
	return false
}

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// Truncate cuts s to max runes and appends TruncationMarker. A
// non-positive max leaves s unchanged.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "\n" + TruncationMarker
}

func joinNonEmpty(lines []string) string {
	kept := lines[:0]
	for _, l := range lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

func indent(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = "    " + l
	}
	return out
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func pyList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = "'" + it + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
