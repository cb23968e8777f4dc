package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chinmayajena/sundaygraph/internal/compile"
	"github.com/chinmayajena/sundaygraph/internal/drift"
	"github.com/chinmayajena/sundaygraph/internal/store"
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Detect and manage schema drift",
}

var driftScanCmd = &cobra.Command{
	Use:   "scan [name]",
	Short: "Compare the deployed model against the live warehouse",
	Long: `Scans for two kinds of drift: mapped tables whose live columns no
longer match the model (added, dropped, renamed, retyped columns), and a
live view whose YAML no longer matches what the deployed version compiles
to. New findings are recorded as open drift events; a finding identical to
an already-open event is not duplicated.`,
	Args: cobra.ExactArgs(1),
	RunE: runDriftScan,
}

var driftListCmd = &cobra.Command{
	Use:   "list [name]",
	Short: "List open drift events",
	Args:  cobra.ExactArgs(1),
	RunE:  runDriftList,
}

var driftResolveCmd = &cobra.Command{
	Use:   "resolve [event-id]",
	Short: "Mark an open drift event as resolved",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setDriftStatus(args[0], store.DriftResolved) },
}

var driftIgnoreCmd = &cobra.Command{
	Use:   "ignore [event-id]",
	Short: "Mark an open drift event as ignored",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setDriftStatus(args[0], store.DriftIgnored) },
}

func runDriftScan(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	o, err := resolveOntology(s, args[0])
	if err != nil {
		return err
	}
	deployed, err := s.GetDeployedVersion(o.ID)
	if err != nil {
		return err
	}
	v, err := findVersionByID(s, o.ID, deployed.VersionID)
	if err != nil {
		return err
	}
	ir, err := v.IR()
	if err != nil {
		return err
	}

	adapter, err := openAdapter()
	if err != nil {
		return err
	}
	detector := drift.New(adapter)
	ctx := cmd.Context()

	events, err := detector.DetectMappingDrift(ctx, o.Name, ir)
	if err != nil {
		return err
	}

	// The expected YAML is what the deployed version compiles to.
	bundle, err := compile.Compile(ir, compile.Options{
		Ontology:      o.Name,
		VersionNumber: v.VersionNumber,
		ContentHash:   v.ContentHash,
	})
	if err != nil {
		return err
	}
	viewEvents, err := detector.DetectViewDrift(ctx, o.Name, deployed.ViewFQN, bundle.YAML())
	if err != nil {
		return err
	}
	events = append(events, viewEvents...)

	inserted, err := s.InsertDriftEvents(o.ID, events)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Printf("No drift detected for %s\n", o.Name)
		return nil
	}
	for _, e := range events {
		fmt.Printf("%-22s %s\n", e.Type, e.Subject)
	}
	fmt.Printf("\n%d findings, %d newly recorded\n", len(events), inserted)
	return nil
}

func runDriftList(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	o, err := resolveOntology(s, args[0])
	if err != nil {
		return err
	}
	events, err := s.ListOpenDriftEvents(o.ID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Printf("No open drift events for %s\n", o.Name)
		return nil
	}
	for _, e := range events {
		fmt.Printf("%-6d %-22s %-30s %s\n", e.ID, e.EventType, e.Subject,
			e.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func setDriftStatus(idArg, status string) error {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid event id %q", idArg)
	}
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.UpdateDriftEventStatus(id, status); err != nil {
		return err
	}
	fmt.Printf("Event %d marked %s\n", id, status)
	return nil
}
