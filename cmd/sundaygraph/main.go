package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chinmayajena/sundaygraph/internal/config"
	"github.com/chinmayajena/sundaygraph/internal/logging"
	"github.com/chinmayajena/sundaygraph/internal/store"
	"github.com/chinmayajena/sundaygraph/internal/warehouse"
)

var (
	// Global flags
	configPath  string
	workspaceID string
	useMock     bool

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sundaygraph",
	Short: "sundaygraph - semantic model lifecycle engine",
	Long: `sundaygraph manages the full lifecycle of semantic data models:

  ODL document -> validate -> normalize -> version -> diff -> evaluate
  -> compile -> verify -> deploy -> drift watch -> regression

Models are authored as ODL JSON, stored as immutable normalized versions,
and compiled into deployable semantic-view bundles.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		if err := logging.Initialize(wd); err != nil {
			fmt.Fprintf(os.Stderr, "warning: logging init failed: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

// openStore opens the configured version store.
func openStore() (*store.Store, error) {
	return store.New(cfg.Store.DatabasePath, store.Options{
		AllowDuplicateContent: cfg.Store.AllowDuplicateContent,
	})
}

// openAdapter builds the warehouse adapter from config. --mock forces the
// in-memory adapter, which is also the fallback when no account is
// configured.
func openAdapter() (warehouse.Adapter, error) {
	if useMock || cfg.Warehouse.AccountURL == "" {
		if !useMock {
			fmt.Fprintln(os.Stderr, "warning: no warehouse account configured, using the in-memory adapter")
		}
		return warehouse.NewMock(), nil
	}
	return warehouse.NewSnowflake(warehouse.SnowflakeOptions{
		AccountURL: cfg.Warehouse.AccountURL,
		Token:      cfg.Warehouse.APIKey,
		Warehouse:  cfg.Warehouse.Warehouse,
		Role:       cfg.Warehouse.Role,
	})
}

// resolveOntology fetches the named ontology in the active workspace.
func resolveOntology(s *store.Store, name string) (*store.Ontology, error) {
	return s.GetOntology(workspaceID, name)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config",
		filepath.Join(".sundaygraph", "config.yaml"), "config file path")
	rootCmd.PersistentFlags().StringVar(&workspaceID, "workspace", "default", "workspace id")
	rootCmd.PersistentFlags().BoolVar(&useMock, "mock", false, "use the in-memory warehouse adapter")

	ontologyCmd.AddCommand(ontologyCreateCmd)
	ontologyCmd.AddCommand(ontologyVersionCmd)
	ontologyCmd.AddCommand(ontologyListCmd)
	ontologyCmd.AddCommand(ontologyDiffCmd)

	driftCmd.AddCommand(driftScanCmd)
	driftCmd.AddCommand(driftListCmd)
	driftCmd.AddCommand(driftResolveCmd)
	driftCmd.AddCommand(driftIgnoreCmd)

	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskCancelCmd)

	rootCmd.AddCommand(ontologyCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(driftCmd)
	rootCmd.AddCommand(regressCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(draftCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
