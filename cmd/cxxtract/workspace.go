package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"cxxtract/internal/engine"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Register and inspect workspaces",
}

var workspaceRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Load the manifest and persist the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			ws, err := eng.ResolveWorkspace(ctx, workspaceID, manifestPath)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"workspace_id": ws.Manifest.WorkspaceID,
				"root_path":    ws.Manifest.RootPath,
				"repo_count":   len(ws.Manifest.Repos),
			})
		})
	},
}

var workspaceInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the stored workspace row and its active contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			row, err := eng.Store().GetWorkspace(ctx, workspaceID)
			if err != nil {
				return err
			}
			contexts, err := eng.Store().ListActiveContexts(ctx, workspaceID)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"workspace": row,
				"contexts":  contexts,
			})
		})
	},
}

var workspaceRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Drop the cached manifest and compile-command indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			path := manifestPath
			if path == "" {
				row, err := eng.Store().GetWorkspace(ctx, workspaceID)
				if err != nil {
					return err
				}
				path = row.ManifestPath
			}
			eng.RefreshManifest(workspaceID, path)
			return printJSON(map[string]string{"refreshed": path})
		})
	},
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage overlay contexts",
}

var contextPRID string

var contextCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a PR overlay context",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			contextID, err := eng.CreateOverlay(ctx, workspaceID, contextPRID)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"context_id": contextID})
		})
	},
}

var contextExpireCmd = &cobra.Command{
	Use:   "expire [context-id]",
	Short: "Expire a context so chain reads stop serving it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			if err := eng.ExpireOverlay(ctx, args[0]); err != nil {
				return err
			}
			return printJSON(map[string]string{"expired": args[0]})
		})
	},
}

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active contexts, least recently used first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			contexts, err := eng.Store().ListActiveContexts(ctx, workspaceID)
			if err != nil {
				return err
			}
			return printJSON(contexts)
		})
	},
}

var contextSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire idle and out-of-budget overlays",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			expired, err := eng.SweepExpired(ctx, time.Now())
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"expired": expired})
		})
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache maintenance",
}

var cacheContextID string

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate [file-key...]",
	Short: "Drop tracked files from a context; no keys clears it entirely",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			scope := baseScope()
			scope.ContextID = cacheContextID
			res, err := eng.InvalidateCache(ctx, scope, args)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print store row counts and file size",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			return printJSON(eng.Store().Metrics(ctx))
		})
	},
}

func init() {
	contextCreateCmd.Flags().StringVar(&contextPRID, "pr", "", "pr id (random when empty)")
	cacheInvalidateCmd.Flags().StringVar(&cacheContextID, "context", "", "context to invalidate (baseline when empty)")

	workspaceCmd.AddCommand(workspaceRegisterCmd, workspaceInfoCmd, workspaceRefreshCmd)
	contextCmd.AddCommand(contextCreateCmd, contextExpireCmd, contextListCmd, contextSweepCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd, cacheStatsCmd)
	rootCmd.AddCommand(workspaceCmd, contextCmd, cacheCmd)
}
