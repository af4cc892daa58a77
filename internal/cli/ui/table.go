// Package ui formats CLI output.
package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Table renders aligned columns with a colored header.
type Table struct {
	w       io.Writer
	headers []string
	rows    [][]string
	noColor bool
}

// NewTable creates a table.
func NewTable(w io.Writer, noColor bool, headers ...string) *Table {
	return &Table{w: w, headers: headers, noColor: noColor}
}

// AddRow appends a row; missing cells render empty.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Render writes the table.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], utf8.RuneCountInString(cell))
			}
		}
	}

	header := t.color(color.Bold, color.FgCyan)
	rule := t.color(color.FgHiBlack)
	last := len(t.headers) - 1
	for i, h := range t.headers {
		header.Fprint(t.w, cell(h, widths[i], i == last))
		if i < last {
			fmt.Fprint(t.w, "  ")
		}
	}
	fmt.Fprintln(t.w)
	for i, width := range widths {
		rule.Fprint(t.w, strings.Repeat("─", width))
		if i < last {
			fmt.Fprint(t.w, "  ")
		}
	}
	fmt.Fprintln(t.w)
	for _, row := range t.rows {
		for i := range t.headers {
			var v string
			if i < len(row) {
				v = row[i]
			}
			fmt.Fprint(t.w, cell(v, widths[i], i == last))
			if i < last {
				fmt.Fprint(t.w, "  ")
			}
		}
		fmt.Fprintln(t.w)
	}
}

func (t *Table) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if t.noColor {
		c.DisableColor()
	}
	return c
}

// cell pads s to width; the last column is not padded.
func cell(s string, width int, last bool) string {
	n := utf8.RuneCountInString(s)
	if last || n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
