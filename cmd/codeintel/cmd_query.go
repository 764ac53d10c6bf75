package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"codeintel/internal/engine"
	"codeintel/internal/extract"
	"codeintel/internal/graph"
	"codeintel/internal/model"
	"codeintel/internal/vectorstore"
)

var (
	queryK        int
	queryPathGlob string
	queryLang     string
)

var searchCmd = &cobra.Command{
	Use:   "search <query text>",
	Short: "Find the k units semantically nearest to a text query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		e, _, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		filter := vectorstore.Filter{PathPrefix: queryPathGlob, Language: model.Language(queryLang)}
		results, err := e.Search(ctx, args[0], queryK, filter)
		if err != nil {
			return err
		}
		printResults(cmd, results)
		return nil
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar <unit-id>",
	Short: "Find the k units semantically nearest to an existing unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		e, _, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		results, err := e.FindSimilar(ctx, args[0], queryK)
		if err != nil {
			return err
		}
		printResults(cmd, results)
		return nil
	},
}

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Report duplicate and near-duplicate unit groups",
	Long: `duplicates re-extracts every indexed file's units and classifies
each against its stored embedding, grouping exact, semantic, and
structural duplicates with a suggested consolidation and an estimated
line-savings count per group.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		e, root, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		units, err := collectUnits(ctx, root)
		if err != nil {
			return fmt.Errorf("collect units: %w", err)
		}

		report, err := e.DuplicateReport(ctx, units)
		if err != nil {
			return err
		}

		if report.Degraded {
			fmt.Fprintln(cmd.OutOrStdout(), "warning: one or more units had no stored embedding; report is degraded to exact+structural matching")
		}
		for _, g := range report.Groups {
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %.2f sim, %d members, ~%d lines saved: %s\n",
				g.Type, g.Similarity, len(g.Members), g.EstimatedLinesSaved, g.ConsolidationHint)
			for _, m := range g.Members {
				marker := " "
				if m == g.RepresentativeUnit {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", marker, m)
			}
		}
		return nil
	},
}

var neighborsCmd = &cobra.Command{
	Use:   "neighbors <unit-id>",
	Short: "List a unit's graph relationships",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		e, _, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		edges, err := e.Neighbors(ctx, args[0], graph.Both)
		if err != nil {
			return err
		}
		for _, edge := range edges {
			fmt.Fprintf(cmd.OutOrStdout(), "%s --%s--> %s\n", edge.SrcUnitID, edge.Kind, edge.DstUnitID)
		}
		return nil
	},
}

var impactMaxDepth int

var impactCmd = &cobra.Command{
	Use:   "impact <unit-id>",
	Short: "Estimate the blast radius of changing a unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		e, _, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.Impact(ctx, args[0], impactMaxDepth)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "risk: %s (%d affected units)\n", result.Risk, len(result.AffectedUnits))
		for _, id := range result.AffectedUnits {
			fmt.Fprintln(cmd.OutOrStdout(), " ", id)
		}
		return nil
	},
}

var reachesCmd = &cobra.Command{
	Use:   "reaches <unit-id>",
	Short: "List every unit transitively reachable by calls edges, unbounded by depth",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		e, _, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		units, err := e.TransitiveReaches(args[0])
		if err != nil {
			return err
		}
		for _, id := range units {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, similarCmd} {
		c.Flags().IntVarP(&queryK, "k", "k", 10, "number of results to return")
	}
	searchCmd.Flags().StringVar(&queryPathGlob, "path-prefix", "", "restrict results to a path prefix")
	searchCmd.Flags().StringVar(&queryLang, "lang", "", "restrict results to a language")
	impactCmd.Flags().IntVar(&impactMaxDepth, "max-depth", 5, "maximum graph traversal depth")
}

func printResults(cmd *cobra.Command, results []engine.SearchResult) {
	for _, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%.4f  %-10s  %s  (%s)\n", r.Score, r.MatchType, r.UnitID, r.FilePath)
	}
}

// collectUnits re-walks the project and re-extracts every file's units.
// The vector store only persists each unit's embedding and file path,
// not its source text, so the duplicate report recomputes units fresh
// each run rather than keeping a second copy of them on disk.
func collectUnits(ctx context.Context, root string) ([]model.Unit, error) {
	var units []model.Unit
	err := walkDir(root, func(path string, content []byte, lang model.Language) error {
		extracted, _, err := extract.Extract(path, content, lang)
		if err != nil {
			return nil
		}
		units = append(units, extracted...)
		return nil
	})
	return units, err
}

func walkDir(root string, visit func(path string, content []byte, lang model.Language) error) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		full := filepath.Join(root, entry.Name())
		if entry.IsDir() {
			if entry.Name() == ".git" || entry.Name() == ".codeintel" || entry.Name() == "node_modules" || entry.Name() == "vendor" {
				continue
			}
			if err := walkDir(full, visit); err != nil {
				return err
			}
			continue
		}
		lang := detectLangByExt(entry.Name())
		if lang == model.LangUnknown {
			continue
		}
		content, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		if err := visit(full, content, lang); err != nil {
			return err
		}
	}
	return nil
}

var extToLang = map[string]model.Language{
	".go":   model.LangGo,
	".py":   model.LangPython,
	".js":   model.LangJavaScript,
	".ts":   model.LangTypeScript,
	".rs":   model.LangRust,
	".java": model.LangJava,
	".cpp":  model.LangCPP,
	".cc":   model.LangCPP,
	".h":    model.LangCPP,
	".cs":   model.LangCSharp,
}

func detectLangByExt(name string) model.Language {
	if lang, ok := extToLang[filepath.Ext(name)]; ok {
		return lang
	}
	return model.LangUnknown
}

