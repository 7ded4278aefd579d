package reindex

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/stackvista/stackstate-index-cli/cmd/cluster"
	"github.com/stackvista/stackstate-index-cli/internal/config"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
	"github.com/stackvista/stackstate-index-cli/internal/k8s"
	"github.com/stackvista/stackstate-index-cli/internal/output"
	"github.com/stackvista/stackstate-index-cli/internal/reindex"
)

type createOptions struct {
	page               pageFlags
	searchIndex        string
	docType            string
	shards             int
	deleteSource       bool
	copyAliases        bool
	addOldIndexAsAlias bool
	pauseWriters       bool
}

func createCmd(cliCtx *config.Context) *cobra.Command {
	opts := &createOptions{}
	cmd := &cobra.Command{
		Use:   "create <new-index>",
		Short: "Copy an index into a new index with the same settings and mappings",
		Long: `Create <new-index> from the settings and mappings of --search-index (skipped when it
already exists) and copy the documents of --type into it. Optionally delete the source once
both hold the same number of documents and carry its aliases over.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			exitOnError(runCreate(cmd, cliCtx, args[0], opts))
		},
	}

	cmd.Flags().StringVar(&opts.searchIndex, "search-index", "", "Source index (required)")
	cmd.Flags().StringVar(&opts.docType, "type", "", `Mapping type to copy, "*" for all (required)`)
	cmd.Flags().IntVar(&opts.shards, "new-index-shards", 0, "Shards of the new index (default: as the source)")
	cmd.Flags().BoolVar(&opts.deleteSource, "delete", false, "Delete the source when both indices hold the same number of documents")
	cmd.Flags().BoolVar(&opts.copyAliases, "copy-aliases", false, "Add the aliases of the source to the new index")
	cmd.Flags().BoolVar(&opts.addOldIndexAsAlias, "add-old-index-as-alias", false, "Add the source name as alias of the new index once the source is deleted")
	cmd.Flags().BoolVar(&opts.pauseWriters, "pause-writers", false, "Scale the deployments selected by reindex.writersLabelSelector to zero during the copy")
	opts.page.register(cmd, 100, 100)
	_ = cmd.MarkFlagRequired("search-index")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func runCreate(cmd *cobra.Command, cliCtx *config.Context, newIndex string, opts *createOptions) (err error) {
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

	if opts.pauseWriters {
		kube, kubeErr := s.Kube()
		if kubeErr != nil {
			return kubeErr
		}
		resume, pauseErr := k8s.PauseWriters(ctx, kube, s.Namespace, s.Config.Reindex.WritersLabelSelector, s.Log)
		if pauseErr != nil {
			return pauseErr
		}
		defer func() {
			if resumeErr := resume(); resumeErr != nil {
				s.Log.Errorf("%v", resumeErr)
				if err == nil {
					err = resumeErr
				}
			}
		}()
	}

	migrator := reindex.NewMigrator(s.Gateway, reindex.WithLogger(s.Log))
	res, err := copyIndex(ctx, migrator, s.Gateway, newIndex, opts, settings)
	if res != nil {
		formatter := output.NewFormatter(cliCtx.Config.OutputFormat)
		if printErr := formatter.PrintResult(res, outcomeTable(res.Outcomes)); printErr != nil && err == nil {
			err = printErr
		}
	}
	return err
}

func copyIndex(ctx context.Context, migrator *reindex.Migrator, gw gateway.Gateway, newIndex string, opts *createOptions, settings pageSettings) (*reindex.CopyResult, error) {
	return migrator.CopyIndex(ctx, gw, reindex.CopyRequest{
		SourceIndex:        opts.searchIndex,
		NewIndex:           newIndex,
		Type:               opts.docType,
		Shards:             opts.shards,
		Filter:             settings.Filter,
		PageSize:           settings.PageSize,
		KeepAlive:          settings.KeepAlive,
		Wait:               settings.Wait,
		WithVersion:        settings.WithVersion,
		DeleteSource:       opts.deleteSource,
		CopyAliases:        opts.copyAliases,
		AddOldIndexAsAlias: opts.addOldIndexAsAlias,
	})
}
