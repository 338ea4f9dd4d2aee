package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var indexForce bool

func NewIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the vector store from the documents directory",
		Long: `Build the vector store if it does not exist yet, or load it if it does.

With --force the store is always rebuilt from the documents directory,
replacing the existing one.

Examples:
  mindease index
  mindease index --force
  MINDEASE_DOCS_DIR=./library mindease index`,
		Args: cobra.NoArgs,
		RunE: runIndex,
	}

	cmd.Flags().BoolVar(&indexForce, "force", false, "Rebuild even if a store exists")

	return cmd
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	files := 0
	a, err := newApp(cfg, hooks{
		onFile:     func(path string) { files++ },
		onProgress: buildProgress(cmd.ErrOrStderr()),
	})
	if err != nil {
		return err
	}
	defer a.Close()

	infoColor.Fprintf(out, "Indexing %s into %s\n", cfg.Loader.DocsDir, storeLocation(cfg))

	if indexForce {
		err = a.pipeline.Rebuild(cmd.Context())
	} else {
		err = a.pipeline.EnsureReady(cmd.Context())
	}
	if err != nil {
		return fmt.Errorf("failed to prepare vector store: %w", err)
	}

	for _, skipped := range a.pipeline.Skipped() {
		warnColor.Fprintf(out, "! skipped %s: %v\n", skipped.Path, skipped.Err)
	}

	meta, _ := a.pipeline.Meta()
	if files > 0 {
		successColor.Fprintf(out, "✓ Read %d files\n", files)
	}
	successColor.Fprintf(out, "✓ Vector store ready: %d chunks, %s (%d dims), built %s\n",
		meta.ChunkCount, meta.Model, meta.Dimension, meta.CreatedAt.Local().Format("2006-01-02 15:04"))
	return nil
}
