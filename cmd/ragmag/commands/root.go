// Package commands defines all Cobra CLI commands for the ragmag binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ragmag/ragmag-go/internal/audit"
	"github.com/ragmag/ragmag-go/internal/config"
	"github.com/ragmag/ragmag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragmag",
		Short: "ragmag — ask questions against your PDF manuals",
		Long: `ragmag ingests PDF product manuals and answers questions about them.

Each manual is parsed page by page into markdown and page screenshots, the
page text is embedded into a vector store, and questions are answered by a
multimodal LLM grounded in the most relevant pages — text and images both.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.ragmag/config.yaml).
See 'ragmag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env file is the normal case outside development.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragmag/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewDocsCmd(),
		NewVersionCmd(),
	)

	return root
}
