package reindex

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackvista/stackstate-index-cli/cmd/cluster"
	"github.com/stackvista/stackstate-index-cli/internal/config"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
	"github.com/stackvista/stackstate-index-cli/internal/output"
	"github.com/stackvista/stackstate-index-cli/internal/reindex"
)

type allOptions struct {
	page    pageFlags
	indices string
	types   string
	workers int
}

func allCmd(cliCtx *config.Context) *cobra.Command {
	opts := &allOptions{}
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Refeed every selected index and type into itself",
		Long: `Resolve --indices and --types ("_all" selects every index or type; indices starting
with "." are skipped) and copy each index/type pair into itself.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			exitOnError(runAll(cmd, cliCtx, opts))
		},
	}

	cmd.Flags().StringVar(&opts.indices, "indices", reindex.AllSelector, "Comma-separated indices or patterns")
	cmd.Flags().StringVar(&opts.types, "types", reindex.AllSelector, "Comma-separated mapping types")
	cmd.Flags().IntVar(&opts.workers, "workers", 1, "Index/type pairs copied at once (default from reindex.workers when configured)")
	opts.page.register(cmd, 1000, 30)
	return cmd
}

func runAll(cmd *cobra.Command, cliCtx *config.Context, opts *allOptions) error {
	ctx := cmd.Context()
	s, err := cluster.Open(ctx, cliCtx)
	if err != nil {
		return err
	}
	defer s.Close()

	settings, err := opts.page.resolve(cmd, s.Config)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("workers") {
		if err := config.Override(s.Config, config.Config{Reindex: config.ReindexConfig{Workers: opts.workers}}); err != nil {
			return err
		}
	}
	workers := pick(cmd.Flags().Changed("workers"), opts.workers, s.Config.Reindex.Workers, config.Defaults().Reindex.Workers)

	migrator := reindex.NewMigrator(s.Gateway, reindex.WithLogger(s.Log))
	outcomes, err := refeedAll(ctx, migrator, s.Gateway, opts.indices, opts.types, workers, settings)
	if len(outcomes) > 0 {
		formatter := output.NewFormatter(cliCtx.Config.OutputFormat)
		if printErr := formatter.PrintResult(outcomes, outcomeTable(outcomes)); printErr != nil && err == nil {
			err = printErr
		}
	}
	return err
}

func refeedAll(ctx context.Context, migrator *reindex.Migrator, gw gateway.Gateway, indices, types string, workers int, settings pageSettings) ([]*reindex.Outcome, error) {
	pairs, err := reindex.ResolvePairs(ctx, gw, indices, types)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no index/type pairs match indices %q and types %q", indices, types)
	}

	return migrator.RunAll(ctx, gw, pairs, reindex.AllOptions{
		Filter:      settings.Filter,
		PageSize:    settings.PageSize,
		KeepAlive:   settings.KeepAlive,
		Wait:        settings.Wait,
		WithVersion: settings.WithVersion,
		Workers:     workers,
	})
}
