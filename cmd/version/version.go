package version

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X github.com/stackvista/stackstate-index-cli/cmd/version.Version=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String returns the one-line version banner
func String() string {
	return fmt.Sprintf("sts-index %s (commit %s, built %s)", Version, Commit, BuildDate)
}

func Cmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), String())
		},
	}
}
