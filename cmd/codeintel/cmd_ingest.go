package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"codeintel/internal/engine"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Scan the project and update the index",
	Long: `ingest walks the project tree, diffs it against the change
ledger, and runs every added or modified file through extraction,
embedding, and indexing. Unchanged files are skipped; deleted files
have their units and edges purged.`,
	RunE: runIngest,
}

func openEngine(ctx context.Context) (*engine.Engine, string, error) {
	root, err := resolveWorkspace()
	if err != nil {
		return nil, "", fmt.Errorf("resolve workspace: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}

	e, err := engine.Open(ctx, root, cfg)
	if err != nil {
		return nil, "", fmt.Errorf("open engine: %w", err)
	}
	return e, root, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	e, root, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := e.Ingest(ctx)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "ingest completed with errors: %v\n", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: +%d added  ~%d modified  -%d deleted  =%d unchanged  (%d processed, %d failed)\n",
		root, result.Added, result.Modified, result.Deleted, result.Unchanged, result.Processed, result.Failed)
	return err
}
