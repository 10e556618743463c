package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/skillrunner/api/schemas"
	"github.com/xkilldash9x/skillrunner/internal/events"
	"github.com/xkilldash9x/skillrunner/internal/executor"
	"github.com/xkilldash9x/skillrunner/internal/observability"
	"github.com/xkilldash9x/skillrunner/internal/skillspec"
	"github.com/xkilldash9x/skillrunner/internal/slots"
)

// ErrRunFailed is returned when a run finished with status failed. The report
// has already been printed and persisted.
var ErrRunFailed = errors.New("skill run failed")

func newRunCmd(provider storeProvider) *cobra.Command {
	var inputPath, runID, account string

	runCmd := &cobra.Command{
		Use:   "run <skill-file>",
		Short: "Execute a skill against the configured application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if account != "" {
				cfg.SetAuthAccount(account)
			}
			if err := cfg.EnsureStateDirs(); err != nil {
				return err
			}

			spec, err := skillspec.Load(args[0], cfg.App().BaseURL)
			if err != nil {
				return err
			}
			for _, name := range slots.Undeclared(spec) {
				logger.Warn("Placeholder is not declared in slots_schema.", zap.String("slot", name))
			}

			slotValues, err := loadSlots(inputPath)
			if err != nil {
				return err
			}

			sink := events.NewSink(cfg.Events(), logger)
			defer sink.Close()
			syncStore, closeStore := openSyncStore(ctx, provider, cfg, logger)
			defer closeStore()

			exec := executor.New(logger, cfg, newLauncher(logger, cfg), sink)
			rep, err := exec.Execute(ctx, &spec, slotValues, runID)
			if err != nil {
				return err
			}
			syncReport(ctx, syncStore, rep, logger)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, describe(rep))
			fmt.Fprintln(out, "report:", rep.Artifacts[schemas.ArtifactRunReport])
			if rep.Failed() {
				return ErrRunFailed
			}
			return nil
		},
	}

	runCmd.Flags().StringVarP(&inputPath, "input", "i", "", "JSON or YAML file with slot values")
	runCmd.Flags().StringVar(&runID, "run-id", "", "run id to use instead of a generated one")
	runCmd.Flags().StringVar(&account, "account", "", "auth state account name (overrides auth.account)")
	return runCmd
}

// loadSlots reads a flat map of slot values. An empty path means no slots.
func loadSlots(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read slot file: %w", err)
	}
	values, err := skillspec.DecodeDocument(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse slot file %s: %w", path, err)
	}
	return values, nil
}
