package reindex

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/stackvista/stackstate-index-cli/internal/config"
	"github.com/stackvista/stackstate-index-cli/internal/output"
	"github.com/stackvista/stackstate-index-cli/internal/reindex"
)

func Cmd(cliCtx *config.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Copy documents between indices with scroll searches and bulk writes",
	}

	cmd.AddCommand(copyCmd(cliCtx))
	cmd.AddCommand(allCmd(cliCtx))
	cmd.AddCommand(createCmd(cliCtx))

	return cmd
}

func exitOnError(err error) {
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func outcomeTable(outcomes []*reindex.Outcome) output.Table {
	table := output.Table{
		Headers: []string{"INDEX", "TYPE", "TOTAL", "COLLECTED", "SKIPPED", "FAILED", "READ", "ELAPSED"},
		Rows:    make([][]string, 0, len(outcomes)),
	}
	for _, out := range outcomes {
		docType := out.Type
		if docType == "" {
			docType = "-"
		}
		table.Rows = append(table.Rows, []string{
			out.Index,
			docType,
			fmt.Sprint(out.Total),
			fmt.Sprint(out.Collected),
			fmt.Sprint(out.Skipped),
			fmt.Sprint(out.Failed),
			humanize.Bytes(uint64(out.Bytes)),
			out.Elapsed.Round(time.Millisecond).String(),
		})
	}
	return table
}
