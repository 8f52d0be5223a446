package main

import (
	"github.com/glassboard/glassboard/console-engine/internal/patch"
	"github.com/glassboard/glassboard/console-engine/pkg/models"
	"github.com/spf13/cobra"
)

var (
	patchBaseline string
	patchOps      string
)

var patchCmd = &cobra.Command{
	Use:   "patch --ops ops.json [--baseline draft.json]",
	Short: "Apply replace ops to a baseline draft",
	Long: `Patch applies path-addressed replace ops to a baseline draft and
prints the result. Missing intermediate containers are created on the
way down, so ops never fail against an empty baseline. Op codes other
than "replace" are skipped.`,
	RunE: runPatch,
}

func init() {
	patchCmd.Flags().StringVar(&patchBaseline, "baseline", "", "baseline draft JSON file (default: empty draft)")
	patchCmd.Flags().StringVar(&patchOps, "ops", "", `ops JSON file: [{"op":"replace","path":"/a/b/0","value":1}, ...]`)
	patchCmd.MarkFlagRequired("ops")
	rootCmd.AddCommand(patchCmd)
}

func runPatch(cmd *cobra.Command, args []string) error {
	baseline := map[string]interface{}{}
	if patchBaseline != "" {
		if err := readJSONFile(patchBaseline, &baseline); err != nil {
			return err
		}
	}

	var ops []models.PatchOp
	if err := readJSONFile(patchOps, &ops); err != nil {
		return err
	}

	return printJSON(patch.Apply(baseline, ops))
}
