package rotate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackvista/stackstate-index-cli/cmd/cluster"
	"github.com/stackvista/stackstate-index-cli/internal/config"
	"github.com/stackvista/stackstate-index-cli/internal/elasticsearch"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
	"github.com/stackvista/stackstate-index-cli/internal/naming"
	"github.com/stackvista/stackstate-index-cli/internal/output"
)

// windowEntry is one member of a rotation group
type windowEntry struct {
	Index     string    `json:"index"`
	Created   time.Time `json:"created"`
	Roles     []string  `json:"roles"`
	Health    string    `json:"health,omitempty"`
	Status    string    `json:"status,omitempty"`
	DocsCount string    `json:"docsCount,omitempty"`
	StoreSize string    `json:"storeSize,omitempty"`
}

func windowCmd(cliCtx *config.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "window <base>",
		Short: "List the indices of a rotation group, newest first",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			exitOnError(runWindow(cmd, cliCtx, args[0]))
		},
	}
}

func runWindow(cmd *cobra.Command, cliCtx *config.Context, base string) error {
	ctx := cmd.Context()
	s, err := cluster.Open(ctx, cliCtx)
	if err != nil {
		return err
	}
	defer s.Close()

	s.Log.Infof("Fetching rotation group of %s...", base)
	entries, err := loadWindow(ctx, s.Gateway, s.Config.Resolver(), base)
	if err != nil {
		return err
	}
	return printWindow(output.NewFormatter(cliCtx.Config.OutputFormat), base, entries)
}

// loadWindow returns the members of the roll alias of base, newest first, with
// the aliases each one holds. Gateways with cat listings add health and size.
func loadWindow(ctx context.Context, gw gateway.Gateway, resolver naming.Resolver, base string) ([]windowEntry, error) {
	roll, err := gw.AliasMembers(ctx, resolver.Roll(base))
	if err != nil {
		return nil, fmt.Errorf("failed to read roll alias of %s: %w", base, err)
	}
	feed, err := gw.AliasMembers(ctx, resolver.Feed(base))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed alias of %s: %w", base, err)
	}
	search, err := gw.AliasMembers(ctx, resolver.Search(base))
	if err != nil {
		return nil, fmt.Errorf("failed to read search alias of %s: %w", base, err)
	}

	names := make([]string, 0, len(roll))
	for name := range roll {
		names = append(names, name)
	}
	dated, err := resolver.SortDescending(base, names)
	if err != nil {
		return nil, err
	}

	info := map[string]elasticsearch.IndexInfo{}
	if details, ok := gw.(elasticsearch.Interface); ok && len(dated) > 0 {
		rows, err := details.ListIndicesDetailed(ctx, base+"_*")
		if err != nil {
			return nil, fmt.Errorf("failed to list indices of %s: %w", base, err)
		}
		for _, row := range rows {
			info[row.Index] = row
		}
	}

	entries := make([]windowEntry, 0, len(dated))
	for _, d := range dated {
		roles := []string{}
		if _, ok := feed[d.Name]; ok {
			roles = append(roles, "feed")
		}
		if _, ok := search[d.Name]; ok {
			roles = append(roles, "search")
		}
		roles = append(roles, "roll")

		row := info[d.Name]
		entries = append(entries, windowEntry{
			Index:     d.Name,
			Created:   d.Time,
			Roles:     roles,
			Health:    row.Health,
			Status:    row.Status,
			DocsCount: row.DocsCount,
			StoreSize: row.StoreSize,
		})
	}
	return entries, nil
}

func printWindow(formatter *output.Formatter, base string, entries []windowEntry) error {
	if len(entries) == 0 && !formatter.IsJSON() {
		formatter.PrintMessage(fmt.Sprintf("No indices found for %s", base))
		return nil
	}

	table := output.Table{
		Headers: []string{"INDEX", "CREATED", "ROLES", "HEALTH", "STATUS", "DOCS.COUNT", "STORE.SIZE"},
		Rows:    make([][]string, 0, len(entries)),
	}
	for _, e := range entries {
		table.Rows = append(table.Rows, []string{
			e.Index,
			e.Created.Format(time.RFC3339),
			strings.Join(e.Roles, ","),
			dash(e.Health),
			dash(e.Status),
			dash(e.DocsCount),
			dash(e.StoreSize),
		})
	}
	return formatter.PrintResult(entries, table)
}
