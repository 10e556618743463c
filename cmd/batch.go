package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/skillrunner/api/schemas"
	"github.com/xkilldash9x/skillrunner/internal/config"
	"github.com/xkilldash9x/skillrunner/internal/engine"
	"github.com/xkilldash9x/skillrunner/internal/events"
	"github.com/xkilldash9x/skillrunner/internal/executor"
	"github.com/xkilldash9x/skillrunner/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// batchEntry is one line of the batch summary file.
type batchEntry struct {
	Skill        string `json:"skill"`
	RunID        string `json:"run_id,omitempty"`
	Status       string `json:"status"`
	FailureClass string `json:"failure_class,omitempty"`
	Error        string `json:"error,omitempty"`
	Report       string `json:"report,omitempty"`
}

func newBatchCmd(provider storeProvider) *cobra.Command {
	var concurrency int

	batchCmd := &cobra.Command{
		Use:   "batch <tasks.json>",
		Short: "Run many independent skill tasks through the worker pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if concurrency > 0 {
				cfg.SetEngineWorkerConcurrency(concurrency)
			}
			if err := cfg.EnsureStateDirs(); err != nil {
				return err
			}

			tasks, err := engine.LoadTasks(args[0])
			if err != nil {
				return err
			}

			sink := events.NewSink(cfg.Events(), logger)
			defer sink.Close()
			syncStore, closeStore := openSyncStore(ctx, provider, cfg, logger)
			defer closeStore()

			exec := executor.New(logger, cfg, newLauncher(logger, cfg), sink)
			eng, err := engine.New(cfg, logger, exec, syncStore)
			if err != nil {
				return err
			}

			results, runErr := eng.Run(ctx, tasks)
			out := cmd.OutOrStdout()
			for _, res := range results {
				if res.Report != nil {
					fmt.Fprintln(out, describe(res.Report))
				} else {
					fmt.Fprintf(out, "%s  not started: %v\n", res.Task.Skill, res.Err)
				}
			}

			if path, err := writeBatchSummary(cfg, results); err != nil {
				logger.Warn("Failed to write batch summary.", zap.Error(err))
			} else {
				fmt.Fprintln(out, "summary:", path)
			}

			succeeded, failed := engine.Summarize(results)
			fmt.Fprintf(out, "%d succeeded, %d failed\n", succeeded, failed)
			if runErr != nil {
				return fmt.Errorf("batch interrupted: %w", runErr)
			}
			if failed > 0 {
				return ErrRunFailed
			}
			return nil
		},
	}

	batchCmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "number of concurrent executions (overrides engine.worker_concurrency)")
	return batchCmd
}

// writeBatchSummary records the outcome of every task under state.runs_dir.
func writeBatchSummary(cfg config.Interface, results []engine.Result) (string, error) {
	dir := cfg.State().RunsDir
	if dir == "" {
		return "", fmt.Errorf("state.runs_dir is not configured")
	}
	entries := make([]batchEntry, 0, len(results))
	for _, res := range results {
		entry := batchEntry{Skill: res.Task.Skill, Status: "not_started"}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		if rep := res.Report; rep != nil {
			entry.RunID = rep.RunID
			entry.Status = string(rep.Status)
			entry.FailureClass = string(rep.FailureClass)
			entry.Error = rep.Error
			entry.Report = rep.Artifacts[schemas.ArtifactRunReport]
		}
		entries = append(entries, entry)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode batch summary: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create runs directory: %w", err)
	}
	path := filepath.Join(dir, "batch-"+time.Now().UTC().Format("20060102T150405.000000000")+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write batch summary: %w", err)
	}
	return path, nil
}
