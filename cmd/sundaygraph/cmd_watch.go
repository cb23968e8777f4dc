package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chinmayajena/sundaygraph/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Revalidate ODL documents in a directory as they change",
	Long: `Watches a directory and revalidates every .json ODL document on save,
printing validation results. Useful while authoring a model before storing
it as a version.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	w, err := watch.New(args[0], func(r watch.Report) {
		if r.Err != nil {
			fmt.Printf("INVALID %s\n  %v\n", r.Path, r.Err)
			return
		}
		fmt.Printf("OK      %s (%d objects, hash %.12s)\n", r.Path, len(r.IR.Objects), r.IR.Hash())
	})
	if err != nil {
		return err
	}
	if err := w.Start(cmd.Context()); err != nil {
		return err
	}

	fmt.Printf("Watching %s for ODL changes. Press Ctrl+C to stop.\n", args[0])
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	w.Stop()
	stats := w.GetStats()
	fmt.Printf("\nValidated %d changes (%d invalid)\n", stats.Validated, stats.Invalid)
	return nil
}
