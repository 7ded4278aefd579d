// Package output renders command results either as aligned text tables or as
// indented JSON, selected by the --output flag.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Format is an output format name
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

const columnGap = 2

// Table is a header row plus data rows of the same width
type Table struct {
	Headers []string
	Rows    [][]string
}

// Formatter writes results in one format
type Formatter struct {
	w      io.Writer
	format Format
}

// NewFormatter returns a formatter on stdout. Unknown formats fall back to table.
func NewFormatter(format string) *Formatter {
	return NewFormatterWithWriter(os.Stdout, format)
}

// NewFormatterWithWriter returns a formatter on w
func NewFormatterWithWriter(w io.Writer, format string) *Formatter {
	f := Format(format)
	if f != FormatJSON {
		f = FormatTable
	}
	return &Formatter{w: w, format: f}
}

// IsJSON reports whether results are written as JSON
func (f *Formatter) IsJSON() bool {
	return f.format == FormatJSON
}

// PrintTable writes the table, or in JSON one object per row keyed by header
func (f *Formatter) PrintTable(t Table) error {
	if f.IsJSON() {
		return f.encode(t.objects())
	}
	if len(t.Rows) == 0 {
		_, err := fmt.Fprintln(f.w, "No data found")
		return err
	}

	tw := tabwriter.NewWriter(f.w, 0, 0, columnGap, ' ', 0)
	for _, line := range append([][]string{t.Headers}, t.Rows...) {
		fmt.Fprintln(tw, strings.Join(line, "\t"))
	}
	return tw.Flush()
}

// PrintResult writes v as JSON, or t in table format. Use it when the JSON form
// carries more structure than the table rows.
func (f *Formatter) PrintResult(v any, t Table) error {
	if f.IsJSON() {
		return f.encode(v)
	}
	return f.PrintTable(t)
}

// PrintMessage writes a line of text in table format only
func (f *Formatter) PrintMessage(msg string) {
	if !f.IsJSON() {
		fmt.Fprintln(f.w, msg)
	}
}

func (f *Formatter) encode(v any) error {
	enc := json.NewEncoder(f.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// objects maps each row to its headers; cells beyond the headers are dropped
func (t Table) objects() []map[string]string {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		obj := make(map[string]string, len(t.Headers))
		for i, h := range t.Headers {
			if i < len(row) {
				obj[h] = row[i]
			}
		}
		out = append(out, obj)
	}
	return out
}
