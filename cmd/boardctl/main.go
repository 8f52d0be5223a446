// boardctl is the Glassboard draft toolbox: the ingestion pipeline as a
// command line, for linting assistant output and inspecting drafts
// without a running engine.
//
// Machine output (drafts, candidates, diffs) goes to stdout;
// diagnostics go to stderr.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "boardctl",
	Short: "Glassboard draft toolbox",
	Long: `boardctl runs the Glassboard draft ingestion pipeline from the
command line: extract JSON candidates from assistant text, lint them
against the draft rules, apply patch ops, and diff two drafts.`,
	SilenceUsage: true,
}

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// argOrStdin returns the single positional argument, or "-" when none
// was given.
func argOrStdin(args []string) string {
	if len(args) == 0 {
		return "-"
	}
	return args[0]
}

// readInput returns the contents of path; "-" means stdin.
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// readJSONFile decodes one JSON value from path into out.
func readJSONFile(path string, out interface{}) error {
	buf, err := readInput(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("%s does not parse as JSON: %w", path, err)
	}
	return nil
}

// printJSON pretty-prints v to stdout.
func printJSON(v interface{}) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(buf))
	return nil
}
