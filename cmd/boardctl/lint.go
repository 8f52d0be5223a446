package main

import (
	"fmt"

	"github.com/glassboard/glassboard/console-engine/internal/draft"
	"github.com/glassboard/glassboard/console-engine/pkg/models"
	"github.com/spf13/cobra"
)

var (
	lintKind     string
	lintBaseline string
)

var lintCmd = &cobra.Command{
	Use:   "lint [file]",
	Short: "Run assistant text through the full ingestion pipeline",
	Long: `Lint extracts JSON candidates from the input, normalizes the first
viable one as a draft envelope, and validates it against the rules for
the chosen kind. Reads stdin when no file is given.

Exits 1 when no candidate is accepted, printing the most specific
rejection the pipeline saw.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLint,
}

func init() {
	lintCmd.Flags().StringVarP(&lintKind, "kind", "k", "api_draft", "draft kind: api_draft or ui_draft")
	lintCmd.Flags().StringVar(&lintBaseline, "baseline", "", "baseline draft JSON file for patch-mode envelopes")
	rootCmd.AddCommand(lintCmd)
}

func runLint(cmd *cobra.Command, args []string) error {
	kind := models.DraftKind(lintKind)
	if kind != models.DraftKindAPI && kind != models.DraftKindUI {
		return fmt.Errorf("kind must be api_draft or ui_draft, got %q", lintKind)
	}

	input, err := readInput(argOrStdin(args))
	if err != nil {
		return err
	}

	var baseline map[string]interface{}
	if lintBaseline != "" {
		if err := readJSONFile(lintBaseline, &baseline); err != nil {
			return err
		}
	}

	accepted, err := draft.FromText(string(input), kind, baseline)
	if err != nil {
		return err
	}

	fmt.Printf("accepted %s (mode %s)\n", accepted.Kind, accepted.Mode)
	if accepted.Notes != "" {
		fmt.Printf("notes: %s\n", accepted.Notes)
	}
	for _, w := range accepted.Result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	return nil
}
