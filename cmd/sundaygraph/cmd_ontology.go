package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chinmayajena/sundaygraph/internal/diff"
	"github.com/chinmayajena/sundaygraph/internal/store"
)

var (
	versionAuthor string
	versionNotes  string
)

var ontologyCmd = &cobra.Command{
	Use:   "ontology",
	Short: "Manage ontologies and their versions",
}

var ontologyCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a named ontology in the workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runOntologyCreate,
}

var ontologyVersionCmd = &cobra.Command{
	Use:   "version [name] [odl-file]",
	Short: "Validate, normalize, and store a new version",
	Long: `Reads an ODL JSON document, validates and normalizes it, and stores
the canonical form as the next version of the ontology. Content identical
to an existing version is rejected with DUPLICATE_CONTENT.`,
	Args: cobra.ExactArgs(2),
	RunE: runOntologyVersion,
}

var ontologyListCmd = &cobra.Command{
	Use:   "list [name]",
	Short: "List ontologies, or the versions of one ontology",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOntologyList,
}

var ontologyDiffCmd = &cobra.Command{
	Use:   "diff [name] [old-version] [new-version]",
	Short: "Diff two stored versions and classify the changes",
	Args:  cobra.ExactArgs(3),
	RunE:  runOntologyDiff,
}

func runOntologyCreate(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.CreateWorkspace(workspaceID, workspaceID); err != nil {
		return err
	}
	o, err := s.CreateOntology(workspaceID, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Created ontology %q (id %d) in workspace %s\n", o.Name, o.ID, o.WorkspaceID)
	return nil
}

func runOntologyVersion(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	o, err := resolveOntology(s, args[0])
	if err != nil {
		return err
	}
	payload, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}

	v, err := s.CreateVersion(o.ID, payload, versionAuthor, versionNotes)
	if err != nil {
		return err
	}
	fmt.Printf("Stored version %d of %q (hash %.12s)\n", v.VersionNumber, o.Name, v.ContentHash)
	return nil
}

func runOntologyList(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if len(args) == 0 {
		ontologies, err := s.ListOntologies(workspaceID)
		if err != nil {
			return err
		}
		if len(ontologies) == 0 {
			fmt.Println("No ontologies in workspace", workspaceID)
			return nil
		}
		for _, o := range ontologies {
			state := "active"
			if !o.IsActive {
				state = "inactive"
			}
			fmt.Printf("%-30s %-9s created %s\n", o.Name, state, o.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	}

	o, err := resolveOntology(s, args[0])
	if err != nil {
		return err
	}
	versions, err := s.ListVersions(o.ID)
	if err != nil {
		return err
	}
	for _, v := range versions {
		fmt.Printf("v%-4d %.12s  %-12s %s\n", v.VersionNumber, v.ContentHash, v.Author, v.Notes)
	}
	return nil
}

func runOntologyDiff(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	o, err := resolveOntology(s, args[0])
	if err != nil {
		return err
	}
	oldV, newV, err := loadVersionPair(s, o, args[1], args[2])
	if err != nil {
		return err
	}

	oldIR, err := oldV.IR()
	if err != nil {
		return err
	}
	newIR, err := newV.IR()
	if err != nil {
		return err
	}

	report := diff.Compare(oldIR, newIR)
	if _, err := s.WriteDiff(oldV.ID, newV.ID, report); err != nil {
		return err
	}

	for _, c := range report.Changes {
		fmt.Printf("[%-12s] %-28s %s", c.Severity, c.Kind, c.Path)
		if c.Detail != "" {
			fmt.Printf("  (%s)", c.Detail)
		}
		fmt.Println()
	}
	fmt.Printf("\n%d changes: %d breaking, %d non-breaking\n",
		len(report.Changes), report.Summary.Breaking, report.Summary.NonBreaking)
	return nil
}

func loadVersionPair(s *store.Store, o *store.Ontology, oldArg, newArg string) (*store.Version, *store.Version, error) {
	oldN, err := strconv.Atoi(oldArg)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid version number %q", oldArg)
	}
	newN, err := strconv.Atoi(newArg)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid version number %q", newArg)
	}
	oldV, err := s.GetVersion(o.ID, oldN)
	if err != nil {
		return nil, nil, err
	}
	newV, err := s.GetVersion(o.ID, newN)
	if err != nil {
		return nil, nil, err
	}
	return oldV, newV, nil
}

func init() {
	ontologyVersionCmd.Flags().StringVar(&versionAuthor, "author", "", "version author")
	ontologyVersionCmd.Flags().StringVar(&versionNotes, "notes", "", "version notes")
}
