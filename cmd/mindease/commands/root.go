// Package commands implements the mindease CLI.
package commands

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/xhad/mindease/pkg/config"
)

var configPath string

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mindease",
		Short: "Wellness chat grounded in your own documents",
		Long: `MindEase answers questions about motivation, study and self-care from a
directory of documents (PDF by default).

Documents are split into chunks, embedded and kept in a local vector store
that is built on first use and reused afterwards.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	cmd.AddCommand(
		NewIndexCmd(),
		NewAskCmd(),
		NewChatCmd(),
		NewServeCmd(),
	)

	return cmd
}

func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig reads .env, the config file and the environment, then validates
// the result.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		msgs := make([]string, len(problems))
		for i, p := range problems {
			msgs[i] = p.Error()
		}
		return nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}

	return cfg, nil
}
