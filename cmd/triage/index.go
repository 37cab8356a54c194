package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/triagebot/triage/internal/config"
	"github.com/triagebot/triage/internal/logging"
	"github.com/triagebot/triage/internal/rag"
)

var indexCmd = &cobra.Command{
	Use:   "index <directory>",
	Short: "Build the documentation index",
	Long: `Walk a documentation or source tree, split files into chunks, and
store them in the SQLite index the retriever searches at triage time.
Re-indexing a directory replaces its previous chunks.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndex(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(ctx context.Context, dir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel)

	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	store, err := rag.Open(cfg.Index.Path)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer store.Close()

	ix := rag.NewIndexer(store, log)
	files, chunks, err := ix.IndexDir(ctx, dir)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Printf("%s indexed %s files, %s chunks into %s\n",
		green("✓"), cyan(files), cyan(chunks), cfg.Index.Path)
	return nil
}
