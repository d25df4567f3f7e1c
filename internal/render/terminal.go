// Package render prints sampling results for humans.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/skobkin/ibtop/internal/sampler"
)

const clearScreen = "\033[2J\033[H"

// mbpsFormat yields two decimals with comma-grouped thousands.
const mbpsFormat = "#,###.##"

// Terminal writes one line per sampled port after each cycle.
type Terminal struct {
	w     io.Writer
	clear bool
}

// NewTerminal builds a renderer writing to w. When clear is set every cycle
// starts by clearing the display and homing the cursor.
func NewTerminal(w io.Writer, clear bool) *Terminal {
	return &Terminal{w: w, clear: clear}
}

// NewStdout builds a renderer for os.Stdout that only clears the screen when
// stdout is a terminal.
func NewStdout() *Terminal {
	return NewTerminal(os.Stdout, IsTerminal(os.Stdout))
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Render prints the cycle in a single write.
func (t *Terminal) Render(cycle sampler.Cycle) error {
	var b strings.Builder
	if t.clear {
		b.WriteString(clearScreen)
	}
	for _, sample := range cycle.Samples {
		b.WriteString(Line(sample))
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		return nil
	}
	_, err := io.WriteString(t.w, b.String())
	return err
}

// Line formats a sample as a single output line.
func Line(s sampler.Sample) string {
	return fmt.Sprintf("Interface: %s, Port: %s, RcvData: %s Mbps, XmitData: %s Mbps",
		s.Interface, s.Port, FormatMbps(s.ReceiveMbps), FormatMbps(s.TransmitMbps))
}

// FormatMbps renders a bandwidth figure with exactly two decimals.
func FormatMbps(v float64) string {
	return humanize.FormatFloat(mbpsFormat, v)
}
