package reindex

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/stackvista/stackstate-index-cli/cmd/cluster"
	"github.com/stackvista/stackstate-index-cli/internal/config"
	"github.com/stackvista/stackstate-index-cli/internal/output"
	"github.com/stackvista/stackstate-index-cli/internal/reindex"
	"github.com/stackvista/stackstate-index-cli/internal/remote"
	"github.com/stackvista/stackstate-index-cli/internal/scroll"
)

// sourceFlags select a remote cluster to read from instead of the managed one
type sourceFlags struct {
	host        string
	port        int
	credentials string
	legacy      bool
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "search-host", "", "Read from this host instead of the configured cluster")
	cmd.Flags().IntVar(&f.port, "search-port", remote.DefaultPort, "Port of --search-host")
	cmd.Flags().StringVar(&f.credentials, "credentials", "", "Basic auth token of --search-host")
	cmd.Flags().BoolVar(&f.legacy, "search-legacy", false, "--search-host is a legacy cluster with mapping types and scan searches")
}

// source returns the remote client selected by the flags, or fallback
func (f *sourceFlags) source(fallback scroll.Source, clusterCfg config.ClusterConfig) (scroll.Source, error) {
	if f.host == "" {
		return fallback, nil
	}
	client, err := remote.NewClient(remote.Config{
		Host:        f.host,
		Port:        f.port,
		Credentials: f.credentials,
		Legacy:      f.legacy,
		Timeout:     clusterCfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

type copyOptions struct {
	page    pageFlags
	source  sourceFlags
	newIdx  string
	newType string
}

func copyCmd(cliCtx *config.Context) *cobra.Command {
	opts := &copyOptions{}
	cmd := &cobra.Command{
		Use:   "copy <index> <type>",
		Short: "Copy the documents of one index and type",
		Long: `Scroll through <index>/<type> and bulk write every page into --new-index (default: the
same index). Documents keep their id, routing and parent.`,
		Args: cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			exitOnError(runCopy(cmd, cliCtx, args[0], args[1], opts))
		},
	}

	cmd.Flags().StringVar(&opts.newIdx, "new-index", "", "Destination index (default: the source index)")
	cmd.Flags().StringVar(&opts.newType, "new-type", "", "Destination mapping type (default: the source type)")
	opts.source.register(cmd)
	opts.page.register(cmd, 100, 100)
	return cmd
}

func runCopy(cmd *cobra.Command, cliCtx *config.Context, index, docType string, opts *copyOptions) error {
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
	src, err := opts.source.source(s.Gateway, s.Config.Cluster)
	if err != nil {
		return err
	}

	migrator := reindex.NewMigrator(s.Gateway, reindex.WithLogger(s.Log))
	out, err := copyDocuments(ctx, migrator, src, index, docType, opts, settings)
	if out != nil {
		formatter := output.NewFormatter(cliCtx.Config.OutputFormat)
		if printErr := formatter.PrintResult(out, outcomeTable([]*reindex.Outcome{out})); printErr != nil && err == nil {
			err = printErr
		}
	}
	return err
}

func copyDocuments(ctx context.Context, migrator *reindex.Migrator, src scroll.Source, index, docType string, opts *copyOptions, settings pageSettings) (*reindex.Outcome, error) {
	return migrator.Run(ctx, reindex.Job{
		Source:      src,
		SourceIndex: index,
		SourceType:  docType,
		Filter:      settings.Filter,
		PageSize:    settings.PageSize,
		KeepAlive:   settings.KeepAlive,
		Options: reindex.Options{
			Index:       opts.newIdx,
			Type:        opts.newType,
			WithVersion: settings.WithVersion,
			Wait:        settings.Wait,
		},
	})
}
