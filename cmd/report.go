package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/skillrunner/api/schemas"
	"github.com/xkilldash9x/skillrunner/internal/config"
	"github.com/xkilldash9x/skillrunner/internal/observability"
	"github.com/xkilldash9x/skillrunner/internal/report"
)

// reportOptions are the flags of the report command.
type reportOptions struct {
	query      string
	outputPath string
	fromDB     bool
}

func newReportCmd(provider storeProvider) *cobra.Command {
	var opts reportOptions

	reportCmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Print the report of a finished run",
		Long: `Prints the persisted run report of <run-id> as JSON. With --query the
report is filtered through a jq expression and every result is printed on its
own line. With --db the report is read from the report database instead of the
artifact directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			// Delegate to the testable core logic function.
			return runReport(ctx, logger, cfg, args[0], opts, provider, cmd.OutOrStdout())
		},
	}

	reportCmd.Flags().StringVarP(&opts.query, "query", "q", "", "jq expression applied to the report")
	reportCmd.Flags().StringVarP(&opts.outputPath, "output", "o", "", "write the output to a file instead of stdout")
	reportCmd.Flags().BoolVar(&opts.fromDB, "db", false, "read the report from the database")
	return reportCmd
}

// runReport loads a report and renders it to out, or to opts.outputPath.
func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	runID string,
	opts reportOptions,
	provider storeProvider,
	out io.Writer,
) error {
	rep, err := loadReport(ctx, cfg, runID, opts.fromDB, provider)
	if err != nil {
		return err
	}

	if opts.outputPath != "" {
		f, err := os.Create(opts.outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				logger.Warn("Failed to close report output cleanly.", zap.Error(err))
			}
		}()
		out = f
	}

	if opts.query == "" {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to serialize report to JSON: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	values, err := report.Query(rep, opts.query)
	if err != nil {
		return err
	}
	for _, v := range values {
		if s, ok := v.(string); ok {
			fmt.Fprintln(out, s)
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to serialize query result: %w", err)
		}
		fmt.Fprintln(out, string(data))
	}
	return nil
}

func loadReport(ctx context.Context, cfg config.Interface, runID string, fromDB bool, provider storeProvider) (*schemas.RunReport, error) {
	if !fromDB {
		return report.Load(cfg.State().ArtifactDir, runID)
	}
	s, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}
	return s.GetReport(ctx, runID)
}
