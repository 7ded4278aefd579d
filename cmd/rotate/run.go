package rotate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackvista/stackstate-index-cli/cmd/cluster"
	"github.com/stackvista/stackstate-index-cli/internal/config"
	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/output"
	"github.com/stackvista/stackstate-index-cli/internal/rotation"
)

// runOptions holds the flags of rotate run
type runOptions struct {
	searchIndices   int
	rollIndices     int
	deleteAfterRoll bool
	shards          int
	replicas        int
	refresh         string
	indexBodyFile   string
}

func runCmd(cliCtx *config.Context) *cobra.Command {
	opts := &runOptions{}
	defaults := rotation.DefaultIndexSettings()

	cmd := &cobra.Command{
		Use:   "run <base>",
		Short: "Rotate one index group now",
		Long: `Rotate the index group of <base> once. Settings of a configured rotation job with the
same base are used unless overridden by flags.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			exitOnError(runRotate(cmd, cliCtx, args[0], opts))
		},
	}

	cmd.Flags().IntVar(&opts.searchIndices, "search-indices", 1, "Number of indices kept behind the search alias")
	cmd.Flags().IntVar(&opts.rollIndices, "roll-indices", 1, "Number of indices kept behind the roll alias")
	cmd.Flags().BoolVar(&opts.deleteAfterRoll, "delete-after-roll", false, "Delete indices leaving the roll alias instead of closing them")
	cmd.Flags().IntVar(&opts.shards, "new-index-shards", defaults.Shards, "Shards of the new index")
	cmd.Flags().IntVar(&opts.replicas, "new-index-replicas", defaults.Replicas, "Replicas of the new index")
	cmd.Flags().StringVar(&opts.refresh, "new-index-refresh", defaults.Refresh, "Refresh interval of the new index")
	cmd.Flags().StringVar(&opts.indexBodyFile, "index-body-file", "", "JSON create-index body of the new index (overrides the new-index flags)")
	return cmd
}

func runRotate(cmd *cobra.Command, cliCtx *config.Context, base string, opts *runOptions) error {
	ctx := cmd.Context()
	s, err := cluster.Open(ctx, cliCtx)
	if err != nil {
		return err
	}
	defer s.Close()

	req, err := buildRequest(base, s.Config, *opts, cmd.Flags().Changed)
	if err != nil {
		return err
	}
	engine, err := s.Engine()
	if err != nil {
		return err
	}

	s.Log.Infof("Rotating %s...", base)
	return rotateOnce(ctx, engine, req, output.NewFormatter(cliCtx.Config.OutputFormat))
}

func rotateOnce(ctx context.Context, rotator rotation.Rotator, req rotation.Request, formatter *output.Formatter) error {
	res, err := rotator.Rotate(ctx, req)
	if err != nil {
		return err
	}
	return printResult(formatter, req.Base, res)
}

// buildRequest starts from the configured job of base, if any, and applies the
// flags that were set. Without a job every flag value applies.
func buildRequest(base string, cfg *config.Config, opts runOptions, changed func(string) bool) (rotation.Request, error) {
	job, configured := findJob(cfg.Rotation.Jobs, base)
	if !configured {
		job = config.RotationJob{Base: base}
	}
	set := func(flag string) bool { return !configured || changed(flag) }

	if set("search-indices") {
		job.RetainSearch = opts.searchIndices
	}
	if set("roll-indices") {
		job.RetainTotal = opts.rollIndices
	}
	if set("delete-after-roll") {
		job.DeleteOnExpire = opts.deleteAfterRoll
	}
	if set("new-index-shards") {
		job.NewIndex.Shards = opts.shards
	}
	if set("new-index-replicas") {
		job.NewIndex.Replicas = opts.replicas
	}
	if set("new-index-refresh") {
		job.NewIndex.Refresh = opts.refresh
	}

	req, err := jobRequest(job)
	if err != nil {
		return rotation.Request{}, err
	}
	if opts.indexBodyFile != "" {
		body, err := os.ReadFile(opts.indexBodyFile)
		if err != nil {
			return rotation.Request{}, fmt.Errorf("failed to read index body: %w", err)
		}
		if !json.Valid(body) {
			return rotation.Request{}, fault.Configf("rotate", "index body file %s is not valid JSON", opts.indexBodyFile)
		}
		req.IndexBody = body
	}
	return req, nil
}
