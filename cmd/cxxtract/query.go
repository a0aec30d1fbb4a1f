package main

import (
	"context"

	"github.com/spf13/cobra"

	"cxxtract/internal/engine"
	"cxxtract/internal/types"
)

var (
	queryMode      string
	queryContextID string
	queryPRID      string
	queryRepos     []string
	queryMaxHops   int
	queryMaxFiles  int
	queryDirection string
)

func queryScope() types.QueryScope {
	scope := baseScope()
	scope.Mode = types.AnalysisMode(queryMode)
	scope.ContextID = queryContextID
	scope.PRID = queryPRID
	scope.EntryRepos = queryRepos
	scope.MaxHops = queryMaxHops
	scope.MaxFiles = queryMaxFiles
	return scope
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run fact queries against the cache",
}

var queryReferencesCmd = &cobra.Command{
	Use:   "references [symbol]",
	Short: "Find references to a symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			res, err := eng.QueryReferences(ctx, queryScope(), args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var queryDefinitionCmd = &cobra.Command{
	Use:   "definition [symbol]",
	Short: "Find the definition of a symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			res, err := eng.QueryDefinition(ctx, queryScope(), args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var queryCallGraphCmd = &cobra.Command{
	Use:   "callgraph [symbol]",
	Short: "Walk the call graph around a symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			res, err := eng.QueryCallGraph(ctx, queryScope(), args[0], types.CallDirection(queryDirection))
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var queryFileSymbolsCmd = &cobra.Command{
	Use:   "file-symbols [file-key]",
	Short: "List the symbols a file defines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			res, err := eng.QueryFileSymbols(ctx, queryScope(), args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

func init() {
	queryCmd.PersistentFlags().StringVar(&queryMode, "mode", "baseline", "analysis mode: baseline or pr")
	queryCmd.PersistentFlags().StringVar(&queryContextID, "context", "", "explicit context id")
	queryCmd.PersistentFlags().StringVar(&queryPRID, "pr", "", "pr id for overlay derivation")
	queryCmd.PersistentFlags().StringSliceVar(&queryRepos, "repos", nil, "entry repos for the dependency walk")
	queryCmd.PersistentFlags().IntVar(&queryMaxHops, "max-hops", 2, "depends_on hops from the entry repos")
	queryCmd.PersistentFlags().IntVar(&queryMaxFiles, "max-files", 0, "candidate file cap (0 = config default)")
	queryCallGraphCmd.Flags().StringVar(&queryDirection, "direction", "outgoing", "outgoing, incoming, or both")

	queryCmd.AddCommand(queryReferencesCmd, queryDefinitionCmd, queryCallGraphCmd, queryFileSymbolsCmd)
	rootCmd.AddCommand(queryCmd)
}
