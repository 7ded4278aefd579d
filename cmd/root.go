package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/stackvista/stackstate-index-cli/cmd/reindex"
	"github.com/stackvista/stackstate-index-cli/cmd/rotate"
	"github.com/stackvista/stackstate-index-cli/cmd/version"
	"github.com/stackvista/stackstate-index-cli/internal/config"
)

var (
	cliCtx *config.Context
)

// addClusterFlags adds the flags locating the configuration and the cluster
// to commands that talk to Elasticsearch
func addClusterFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&cliCtx.Config.ConfigFile, "config", "", "Path to a local configuration file (skips the ConfigMap)")
	cmd.PersistentFlags().StringVar(&cliCtx.Config.Namespace, "namespace", "", "Kubernetes namespace (required unless --config sets a cluster URL)")
	cmd.PersistentFlags().StringVar(&cliCtx.Config.Kubeconfig, "kubeconfig", "", "Path to kubeconfig file (default: ~/.kube/config)")
	cmd.PersistentFlags().BoolVar(&cliCtx.Config.Debug, "debug", false, "Enable debug output")
	cmd.PersistentFlags().BoolVarP(&cliCtx.Config.Quiet, "quiet", "q", false, "Suppress operational messages (only show errors and data output)")
	cmd.PersistentFlags().StringVar(&cliCtx.Config.ConfigMapName, "configmap", "suse-observability-index-config", "ConfigMap name containing index configuration")
	cmd.PersistentFlags().StringVar(&cliCtx.Config.SecretName, "secret", "suse-observability-index-config", "Secret name containing index configuration")
	cmd.PersistentFlags().StringVarP(&cliCtx.Config.OutputFormat, "output", "o", "table", "Output format (table, json)")
}

func init() {
	cliCtx = config.NewContext()

	rotateCmd := rotate.Cmd(cliCtx)
	addClusterFlags(rotateCmd)
	rootCmd.AddCommand(rotateCmd)

	reindexCmd := reindex.Cmd(cliCtx)
	addClusterFlags(reindexCmd)
	rootCmd.AddCommand(reindexCmd)

	rootCmd.AddCommand(version.Cmd())
}

var rootCmd = &cobra.Command{
	Use:   "sts-index",
	Short: "Index rotation and migration tool for SUSE Observability",
	Long: `A CLI tool that rotates time-bucketed Elasticsearch indices behind feed, search and
roll aliases, and copies documents between indices with scroll searches and bulk writes.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
