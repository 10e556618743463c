package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/skillrunner/internal/skillspec"
	"github.com/xkilldash9x/skillrunner/internal/slots"
)

func newNormalizeCmd() *cobra.Command {
	var id, baseURL string

	normalizeCmd := &cobra.Command{
		Use:   "normalize <skill-file>",
		Short: "Print the normalized form of a skill file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = cfg.App().BaseURL
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read skill file: %w", err)
			}
			doc, err := skillspec.DecodeDocument(data, filepath.Ext(args[0]))
			if err != nil {
				return err
			}
			if id == "" {
				id = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			out, err := skillspec.Marshal(skillspec.Normalize(doc, id, baseURL))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	normalizeCmd.Flags().StringVar(&id, "id", "", "skill id used when the document has none (default: file name)")
	normalizeCmd.Flags().StringVar(&baseURL, "base-url", "", "base URL used when the document has none (default: app.base_url)")
	return normalizeCmd
}

func newLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <skill-file>",
		Short: "List placeholders that are not declared in slots_schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			spec, err := skillspec.Load(args[0], cfg.App().BaseURL)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			undeclared := slots.Undeclared(spec)
			if len(undeclared) == 0 {
				fmt.Fprintf(out, "%s: all placeholders are declared\n", spec.ID)
				return nil
			}
			for _, name := range undeclared {
				fmt.Fprintf(out, "%s: undeclared placeholder {{%s}}\n", spec.ID, name)
			}
			return fmt.Errorf("%d undeclared placeholders", len(undeclared))
		},
	}
}
