package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cxxtract/internal/engine"
	"cxxtract/internal/gitsync"
	"cxxtract/internal/logging"
	"cxxtract/internal/store"
	"cxxtract/internal/workspace"
)

var (
	syncRepoID      string
	syncBranch      string
	syncSHA         string
	syncMaxAttempts int
	eventType       string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Repo sync queue operations",
}

var syncEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a repo sync job",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			jobID, err := gitsync.EnqueueSync(ctx, eng.Store(), workspaceID, syncRepoID, syncBranch, syncSHA, syncMaxAttempts)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"job_id": jobID})
		})
	},
}

var syncStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the last sync outcome for a repo",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			state, err := eng.Store().GetRepoSyncState(ctx, workspaceID, syncRepoID)
			if err != nil {
				return err
			}
			if state == nil {
				return printJSON(map[string]string{"status": "never_synced"})
			}
			return printJSON(state)
		})
	},
}

// syncWorkCmd is the long-running mode: a worker pool draining the sync
// queue, with the manifest watched for edits so validation stays current.
var syncWorkCmd = &cobra.Command{
	Use:   "work",
	Short: "Run the sync worker pool until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if workspaceID == "" || manifestPath == "" {
			return fmt.Errorf("sync work requires --workspace and --manifest")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.DBPath, store.Options{
			RequireVector: cfg.EnableVectorFeatures,
			EmbeddingDim:  cfg.CommitEmbeddingDim,
		})
		if err != nil {
			return err
		}
		defer logging.CloseAll()
		defer st.Close()

		pool := gitsync.NewWorkerPool(st, gitsync.UnconfiguredSyncer{}, cfg.WorkerCount, cfg.SyncTimeout())
		pool.RegisterManifest(workspaceID, manifestPath)

		watcher, err := workspace.NewWatcher(func(path string) {
			logging.Sync("manifest changed: %s", path)
			pool.InvalidateManifest(path)
		})
		if err != nil {
			return fmt.Errorf("failed to start manifest watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Watch(manifestPath); err != nil {
			return fmt.Errorf("failed to watch manifest: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)
		defer pool.Stop()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		logging.Sync("received %s, shutting down", s)
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Record repo events",
}

var eventsPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Record a push or merge event against the baseline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			jobID, err := gitsync.RecordPushEvent(ctx, eng.Store(), workspaceID, syncRepoID, syncSHA, eventType)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"job_id": jobID})
		})
	},
}

func init() {
	syncCmd.PersistentFlags().StringVar(&syncRepoID, "repo", "", "repo id")
	syncCmd.PersistentFlags().StringVar(&syncBranch, "branch", "", "target branch")
	syncCmd.PersistentFlags().StringVar(&syncSHA, "sha", "", "target commit sha (40 hex)")
	syncEnqueueCmd.Flags().IntVar(&syncMaxAttempts, "max-attempts", 3, "attempts before dead-lettering")

	eventsPushCmd.Flags().StringVar(&syncRepoID, "repo", "", "repo id")
	eventsPushCmd.Flags().StringVar(&syncSHA, "sha", "", "commit sha (40 hex)")
	eventsPushCmd.Flags().StringVar(&eventType, "event", "push", "event type: push or merge")

	syncCmd.AddCommand(syncEnqueueCmd, syncStateCmd, syncWorkCmd)
	eventsCmd.AddCommand(eventsPushCmd)
	rootCmd.AddCommand(syncCmd, eventsCmd)
}
