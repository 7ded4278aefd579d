package rotate

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackvista/stackstate-index-cli/internal/config"
	"github.com/stackvista/stackstate-index-cli/internal/output"
	"github.com/stackvista/stackstate-index-cli/internal/rotation"
)

func Cmd(cliCtx *config.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Time-bucketed index rotation",
		Long: `Rotate index groups: create a new index, move the feed alias to it and age out the
oldest indices behind the search and roll aliases.`,
	}

	cmd.AddCommand(runCmd(cliCtx))
	cmd.AddCommand(scheduleCmd(cliCtx))
	cmd.AddCommand(windowCmd(cliCtx))

	return cmd
}

// exitOnError mirrors the error handling of every rotate subcommand
func exitOnError(err error) {
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// jobRequest turns a configured job into a rotation request
func jobRequest(job config.RotationJob) (rotation.Request, error) {
	body, err := job.NewIndex.Body()
	if err != nil {
		return rotation.Request{}, err
	}
	return rotation.Request{
		Base:           job.Base,
		RetainTotal:    job.RetainTotal,
		RetainSearch:   job.RetainSearch,
		DeleteOnExpire: job.DeleteOnExpire,
		IndexBody:      body,
	}, nil
}

func findJob(jobs []config.RotationJob, base string) (config.RotationJob, bool) {
	for _, job := range jobs {
		if job.Base == base {
			return job, true
		}
	}
	return config.RotationJob{}, false
}

func printResult(formatter *output.Formatter, base string, res *rotation.Result) error {
	fields := res.Fields()
	fields["base"] = base
	fields["priorFeed"] = res.PriorFeed

	table := output.Table{
		Headers: []string{"BASE", "CREATED", "PRIOR FEED", "DELETED", "CLOSED", "REMOVED ALIAS"},
		Rows: [][]string{{
			base,
			res.Created,
			dash(res.PriorFeed),
			dash(fields["deleted"]),
			dash(fields["closed"]),
			dash(fields["removedAlias"]),
		}},
	}
	return formatter.PrintResult(fields, table)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
