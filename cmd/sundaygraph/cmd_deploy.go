package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chinmayajena/sundaygraph/internal/compile"
	"github.com/chinmayajena/sundaygraph/internal/deploy"
	"github.com/chinmayajena/sundaygraph/internal/eval"
	"github.com/chinmayajena/sundaygraph/internal/store"
	"github.com/chinmayajena/sundaygraph/internal/tasks"
)

var (
	deployVersion int
	deployViewArg string
	deployAsync   bool
	rollbackTo    int
)

var deployCmd = &cobra.Command{
	Use:   "deploy [name]",
	Short: "Compile, verify, and deploy a version as a semantic view",
	Long: `Runs the full deployment path for a stored version: gate evaluation,
compilation, pre-deploy export of the live view (the rollback capture),
verification with retry on transient failures, then the deploy itself.
Deploy is never auto-retried.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeploy,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback [name]",
	Short: "Redeploy an earlier version over the live view",
	Long: `Rolls the live semantic view back by deploying a previous stored
version (by default the one before the currently deployed version).`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

// deployVersionNumber compiles and deploys one stored version, recording
// the compile run and the resulting deployment.
func deployVersionNumber(ctx context.Context, s *store.Store, name string, number int) (*deploy.Result, error) {
	o, v, ir, err := loadVersionIR(s, name, number)
	if err != nil {
		return nil, err
	}
	if err := eval.Evaluate(ir, eval.ProfileStandard).Err(); err != nil {
		return nil, err
	}

	opts := compile.Options{
		Ontology:      o.Name,
		VersionNumber: v.VersionNumber,
		ContentHash:   v.ContentHash,
		ViewName:      deployViewArg,
	}
	runID, err := s.WriteCompileRun(v.ID, targetLabel(ir), opts)
	if err != nil {
		return nil, err
	}
	if err := s.MarkCompileRunRunning(runID); err != nil {
		return nil, err
	}

	bundle, err := compile.Compile(ir, opts)
	if err != nil {
		_ = s.CompleteCompileRun(runID, "", false, err)
		return nil, err
	}

	adapter, err := openAdapter()
	if err != nil {
		return nil, err
	}
	d := deploy.New(adapter, cfg.VerifyTimeout(), cfg.DeployTimeout())
	result, err := d.Run(ctx, bundle)
	if err != nil {
		_ = s.CompleteCompileRun(runID, bundle.Hash(), false, err)
		return result, err
	}
	if err := s.CompleteCompileRun(runID, bundle.Hash(), result.RollbackUnavailable, nil); err != nil {
		return result, err
	}
	if err := s.SetDeployedVersion(o.ID, v.ID, bundle.Target.FQN()); err != nil {
		return result, err
	}

	fmt.Printf("Deployed %s v%d as %s (verify attempts: %d)\n",
		o.Name, v.VersionNumber, bundle.Target.FQN(), result.VerifyAttempts)
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	return result, nil
}

func runDeploy(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if !deployAsync {
		_, err := deployVersionNumber(cmd.Context(), s, args[0], deployVersion)
		return err
	}

	// Async path: run as a tracked task; Ctrl-C requests cooperative
	// cancellation instead of killing the process mid-deploy.
	runner := sessionRunner()
	runner.Register("deploy", func(ctx context.Context, taskArgs map[string]interface{}) (interface{}, error) {
		return deployVersionNumber(ctx, s, taskArgs["name"].(string), taskArgs["version"].(int))
	})

	id, err := runner.Submit(workspaceID, "deploy", map[string]interface{}{
		"name": args[0], "version": deployVersion,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Submitted task %s\n", id)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCancellation requested, waiting for the next checkpoint...")
		_ = runner.Cancel(id)
	}()

	st, err := runner.Wait(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Printf("Task %s finished: %s\n", id, st.State)
	if st.State != tasks.StateSuccess {
		return fmt.Errorf("%s", st.Error)
	}
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
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

	target := rollbackTo
	if target == 0 {
		current, err := findVersionByID(s, o.ID, deployed.VersionID)
		if err != nil {
			return err
		}
		if current.VersionNumber <= 1 {
			return fmt.Errorf("version %d is the first version, nothing to roll back to", current.VersionNumber)
		}
		target = current.VersionNumber - 1
	}

	fmt.Printf("Rolling %s back to v%d\n", o.Name, target)
	_, err = deployVersionNumber(cmd.Context(), s, args[0], target)
	return err
}

// findVersionByID resolves a version row id back to its record.
func findVersionByID(s *store.Store, ontologyID, versionID int64) (*store.Version, error) {
	versions, err := s.ListVersions(ontologyID)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.ID == versionID {
			return v, nil
		}
	}
	return nil, fmt.Errorf("deployed version row %d not found", versionID)
}

func init() {
	deployCmd.Flags().IntVar(&deployVersion, "version", 0, "version number (default latest)")
	deployCmd.Flags().StringVar(&deployViewArg, "view", "", "override the target view name")
	deployCmd.Flags().BoolVar(&deployAsync, "async", false, "run as a tracked, cancelable task")

	rollbackCmd.Flags().IntVar(&rollbackTo, "to", 0, "version to roll back to (default: previous)")
}
