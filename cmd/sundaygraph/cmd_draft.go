package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chinmayajena/sundaygraph/internal/draft"
	"github.com/chinmayajena/sundaygraph/internal/odl"
)

var draftOutPath string

var draftCmd = &cobra.Command{
	Use:   "draft [brief]",
	Short: "Draft an ODL document from a natural-language brief",
	Long: `Asks the configured model to draft an ODL document from a business
brief, validates the result, and writes it out. The draft goes through the
same validation as any hand-written document; review it before storing a
version.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDraft,
}

func runDraft(cmd *cobra.Command, args []string) error {
	if cfg.Drafter.APIKey == "" {
		return fmt.Errorf("no drafter API key configured (set SUNDAYGRAPH_DRAFTER_API_KEY)")
	}

	ctx := cmd.Context()
	drafter, err := draft.NewGeminiDrafter(ctx, cfg.Drafter.APIKey, cfg.Drafter.Model)
	if err != nil {
		return err
	}

	brief := args[0]
	for _, extra := range args[1:] {
		brief += " " + extra
	}

	doc, err := drafter.Draft(ctx, brief)
	if err != nil {
		return err
	}
	if err := odl.Validate(doc); err != nil {
		fmt.Fprintf(os.Stderr, "warning: draft failed validation: %v\n", err)
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')

	if draftOutPath == "" {
		fmt.Print(string(out))
		return nil
	}
	if err := os.WriteFile(draftOutPath, out, 0644); err != nil {
		return err
	}
	fmt.Printf("Wrote draft to %s\n", draftOutPath)
	return nil
}

func init() {
	draftCmd.Flags().StringVar(&draftOutPath, "out", "", "write the draft to a file instead of stdout")
}
