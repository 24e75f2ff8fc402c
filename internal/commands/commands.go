package commands

import (
	"github.com/spf13/cobra"
	"github.com/suPer8Hu/llm-playground/internal/config"
)

// New builds the playground command tree.
func New() *cobra.Command {
	cfg := config.Load()

	cmd := &cobra.Command{
		Use:           "playground",
		Short:         "Chat with LLMs: HTTP server, terminal chat and history tools.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	AddCommands(cmd, &cfg)
	return cmd
}

func AddCommands(topLevel *cobra.Command, cfg *config.Config) {
	addServe(topLevel, cfg)
	addChat(topLevel, cfg)
	addHistory(topLevel, cfg)
	addToken(topLevel, cfg)
}
