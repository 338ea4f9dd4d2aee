package commands

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xhad/mindease/internal/models"
	"github.com/xhad/mindease/pkg/config"
	"github.com/xhad/mindease/pkg/errs"
	"github.com/xhad/mindease/pkg/rag"
)

var (
	askSources    bool
	askShowPrompt bool
)

func NewAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question from the documents",
		Long: `Answer a single question using the most relevant document chunks.

The vector store is built first if it does not exist.

Examples:
  mindease ask "How can I calm down before an exam?"
  mindease ask --sources "What helps with sleep?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}

	cmd.Flags().BoolVar(&askSources, "sources", false, "Print the chunks the answer is based on")
	cmd.Flags().BoolVar(&askShowPrompt, "show-prompt", false, "Print the prompt sent to the model")

	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, hooks{onProgress: buildProgress(cmd.ErrOrStderr())})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	question := strings.Join(args, " ")

	var answer *rag.Answer
	err = withSpinner(cmd.ErrOrStderr(), "Thinking...", func() error {
		var askErr error
		answer, askErr = a.pipeline.Ask(cmd.Context(), question)
		return askErr
	})
	if errors.Is(err, errs.ErrInvalidInput) && answer != nil {
		assistantColor.Fprintln(out, answer.Text)
		return nil
	}
	if err != nil {
		return err
	}

	if askShowPrompt {
		chunks := make([]models.Chunk, len(answer.Sources))
		for i, s := range answer.Sources {
			chunks[i] = s.Chunk
		}
		prompt, err := a.generator.Render(question, chunks)
		if err != nil {
			return err
		}
		infoColor.Fprintf(out, "--- prompt ---\n%s\n--------------\n", prompt)
	}

	assistantColor.Fprintln(out, answer.Text)

	if askSources {
		printSources(cmd, answer.Sources)
	}
	return nil
}

func printSources(cmd *cobra.Command, sources []models.ScoredChunk) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	for i, s := range sources {
		infoColor.Fprintf(out, "[%d] %s (chunk %d, distance %.3f)\n", i+1, filepath.Base(s.Source), s.Index, s.Distance)
		fmt.Fprintf(out, "    %s\n", truncate(s.Text, 160))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func storeLocation(cfg *config.Config) string {
	if cfg.Store.Backend == "pgvector" {
		return "postgres table " + cfg.Store.TableName
	}
	return cfg.Store.Path
}
