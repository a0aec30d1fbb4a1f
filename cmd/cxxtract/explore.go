package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cxxtract/internal/engine"
)

var (
	exploreMaxHits  int
	exploreStart    int
	exploreEnd      int
	exploreMaxBytes int
)

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Raw lexical exploration, cost-capped",
}

var exploreRgCmd = &cobra.Command{
	Use:   "rg [pattern]",
	Short: "Run a capped ripgrep search across candidate repos",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			scope := baseScope()
			scope.EntryRepos = queryRepos
			res, err := eng.RgSearch(ctx, scope, args[0], exploreMaxHits)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var exploreReadCmd = &cobra.Command{
	Use:   "read [file-key-or-path]",
	Short: "Read a file slice from inside the workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			res, err := eng.ReadFile(ctx, baseScope(), args[0], exploreStart, exploreEnd, exploreMaxBytes)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var exploreCandidatesCmd = &cobra.Command{
	Use:   "candidates [symbol]",
	Short: "Show the candidate funnel for a symbol without parsing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			res, err := eng.ListCandidates(ctx, queryScope(), args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report cache, tool, and writer health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			return printJSON(eng.Health(ctx))
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(engine.Version)
	},
}

func init() {
	exploreRgCmd.Flags().IntVar(&exploreMaxHits, "max-hits", 200, "hit cap")
	exploreRgCmd.Flags().StringSliceVar(&queryRepos, "repos", nil, "repos to search")
	exploreReadCmd.Flags().IntVar(&exploreStart, "start", 0, "1-based start line (0 = whole file)")
	exploreReadCmd.Flags().IntVar(&exploreEnd, "end", 0, "1-based end line, inclusive")
	exploreReadCmd.Flags().IntVar(&exploreMaxBytes, "max-bytes", 0, "byte cap (0 = config default)")

	exploreCmd.AddCommand(exploreRgCmd, exploreReadCmd, exploreCandidatesCmd)
	rootCmd.AddCommand(exploreCmd, statusCmd, versionCmd)
}
