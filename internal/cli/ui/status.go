package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Printer writes status lines.
type Printer struct {
	W       io.Writer
	NoColor bool
}

func (p Printer) line(attr color.Attribute, symbol, format string, args ...any) {
	c := color.New(attr)
	if p.NoColor {
		c.DisableColor()
	}
	c.Fprint(p.W, symbol+" ")
	fmt.Fprintf(p.W, format+"\n", args...)
}

// Success prints a green check line.
func (p Printer) Success(format string, args ...any) {
	p.line(color.FgGreen, "✓", format, args...)
}

// Warn prints a yellow warning line.
func (p Printer) Warn(format string, args ...any) {
	p.line(color.FgYellow, "!", format, args...)
}

// Error prints a red error line.
func (p Printer) Error(format string, args ...any) {
	p.line(color.FgRed, "✗", format, args...)
}

// DidYouMean formats suggestions, "" when there are none.
func DidYouMean(suggestions []string) string {
	if len(suggestions) == 0 {
		return ""
	}
	return "did you mean " + strings.Join(suggestions, ", ") + "?"
}
