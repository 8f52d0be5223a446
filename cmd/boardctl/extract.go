package main

import (
	"github.com/glassboard/glassboard/console-engine/internal/extract"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "List the balanced JSON candidates in assistant text",
	Long: `Extract scans the input for balanced JSON object spans and prints
them as a JSON array, in the order the pipeline would try them: objects
inside fenced blocks first, then the raw text, then every balanced
span. Reads stdin when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	input, err := readInput(argOrStdin(args))
	if err != nil {
		return err
	}

	candidates := extract.Candidates(string(input))
	if len(candidates) == 0 {
		return extract.ErrNoObject
	}

	log.Info().Int("candidates", len(candidates)).Msg("Extraction complete")
	return printJSON(candidates)
}
