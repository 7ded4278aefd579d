package output

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var indices = Table{
	Headers: []string{"INDEX", "ROLES"},
	Rows: [][]string{
		{"logs_2024-03-01-02-00", "feed,search,roll"},
		{"logs_2024-03-01-01-00", "roll"},
	},
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format   string
		wantJSON bool
	}{
		{format: "json", wantJSON: true},
		{format: "table"},
		{format: "yaml"},
		{format: ""},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			f := NewFormatter(tt.format)
			assert.Equal(t, os.Stdout, f.w)
			assert.Equal(t, tt.wantJSON, f.IsJSON())
		})
	}
}

func TestFormatter_PrintTable(t *testing.T) {
	tests := []struct {
		name   string
		format string
		table  Table
		want   string
	}{
		{
			name:   "aligned columns",
			format: "table",
			table:  indices,
			want: "INDEX                  ROLES\n" +
				"logs_2024-03-01-02-00  feed,search,roll\n" +
				"logs_2024-03-01-01-00  roll\n",
		},
		{
			name:   "empty table",
			format: "table",
			table:  Table{Headers: []string{"INDEX"}},
			want:   "No data found\n",
		},
		{
			name:   "empty json",
			format: "json",
			table:  Table{Headers: []string{"INDEX"}},
			want:   "[]\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewFormatterWithWriter(&buf, tt.format).PrintTable(tt.table))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestFormatter_PrintTable_JSONObjects(t *testing.T) {
	var buf bytes.Buffer
	table := Table{
		Headers: []string{"INDEX", "DOCS"},
		Rows:    [][]string{{"logs_a", "12", "extra"}, {"logs_b"}},
	}

	require.NoError(t, NewFormatterWithWriter(&buf, "json").PrintTable(table))
	assert.JSONEq(t, `[{"INDEX":"logs_a","DOCS":"12"},{"INDEX":"logs_b"}]`, buf.String())
	assert.True(t, strings.HasPrefix(buf.String(), "[\n  {"), "indented output expected")
}

func TestFormatter_PrintResult(t *testing.T) {
	type result struct {
		Created string   `json:"created"`
		Closed  []string `json:"closed"`
	}
	value := result{Created: "tweets_2024-01-02-00-00", Closed: []string{"tweets_2023-12-30-00-00"}}
	table := Table{
		Headers: []string{"FIELD", "VALUE"},
		Rows: [][]string{
			{"created", "tweets_2024-01-02-00-00"},
			{"closed", "tweets_2023-12-30-00-00"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewFormatterWithWriter(&buf, "json").PrintResult(value, table))
	assert.JSONEq(t, `{"created":"tweets_2024-01-02-00-00","closed":["tweets_2023-12-30-00-00"]}`, buf.String())

	buf.Reset()
	require.NoError(t, NewFormatterWithWriter(&buf, "table").PrintResult(value, table))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "created  "))
}

func TestFormatter_PrintMessage(t *testing.T) {
	var table, js bytes.Buffer

	NewFormatterWithWriter(&table, "table").PrintMessage("No indices found for logs")
	NewFormatterWithWriter(&js, "json").PrintMessage("No indices found for logs")

	assert.Equal(t, "No indices found for logs\n", table.String())
	assert.Empty(t, js.String())
}
