package main

import (
	"fmt"

	"github.com/glassboard/glassboard/console-engine/internal/diff"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff BEFORE AFTER",
	Short: "Line-diff two draft JSON files",
	Long: `Diff renders the line diff between two drafts by their canonical
indented JSON, the same rendering the authoring turn summaries use.`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)
}

func runDiff(cmd *cobra.Command, args []string) error {
	var before, after map[string]interface{}
	if err := readJSONFile(args[0], &before); err != nil {
		return err
	}
	if err := readJSONFile(args[1], &after); err != nil {
		return err
	}

	hunks := diff.Drafts(before, after)
	for _, h := range hunks {
		for _, l := range h.Lines {
			switch l.Type {
			case diff.LineAdded:
				fmt.Printf("+ %s\n", l.Text)
			case diff.LineRemoved:
				fmt.Printf("- %s\n", l.Text)
			default:
				fmt.Printf("  %s\n", l.Text)
			}
		}
	}

	added, removed := diff.Counts(hunks)
	log.Info().Int("added", added).Int("removed", removed).Msg("Diff complete")
	return nil
}
