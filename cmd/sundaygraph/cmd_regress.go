package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chinmayajena/sundaygraph/internal/logging"
	"github.com/chinmayajena/sundaygraph/internal/regression"
)

var regressJUnitPath string

var regressCmd = &cobra.Command{
	Use:   "regress [name] [questions.yaml]",
	Short: "Run a natural-language regression set against the deployed view",
	Long: `Sends each question in the set to the analyst endpoint backed by the
ontology's deployed semantic view and checks the answers against the
expectations (tables referenced, SQL patterns, answer snippets). A failed
expectation is a test outcome; the run itself still succeeds.`,
	Args: cobra.ExactArgs(2),
	RunE: runRegress,
}

func runRegress(cmd *cobra.Command, args []string) error {
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

	set, err := regression.LoadQuestionSet(args[1])
	if err != nil {
		return err
	}
	if set.View == "" {
		set.View = deployed.ViewFQN
	}

	adapter, err := openAdapter()
	if err != nil {
		return err
	}

	var zlog *zap.Logger
	if logging.IsDebugMode() {
		zlog, _ = zap.NewDevelopment()
	}

	runID, err := s.WriteRegressionRun(deployed.VersionID, set.View)
	if err != nil {
		return err
	}
	if err := s.MarkRegressionRunRunning(runID); err != nil {
		return err
	}

	runner := regression.NewRunner(adapter, zlog, cfg.PerQuestionTimeout())
	result, err := runner.Run(cmd.Context(), set)
	if err != nil {
		_ = s.CompleteRegressionRun(runID, 0, 0, 0, false, nil, 0, "", err)
		return err
	}

	junitPath := regressJUnitPath
	if junitPath != "" {
		report, err := result.JUnitXML()
		if err != nil {
			return err
		}
		if err := os.WriteFile(junitPath, report, 0644); err != nil {
			return err
		}
	}
	if err := s.CompleteRegressionRun(runID, len(result.Questions), result.PassCount,
		result.FailCount, result.OverallPass, result, result.TotalLatencyMS, junitPath, nil); err != nil {
		return err
	}

	for _, q := range result.Questions {
		status := "PASS"
		if !q.Passed {
			status = "FAIL"
		}
		fmt.Printf("%-5s %s (%dms)\n", status, q.Question, q.LatencyMS)
		for _, f := range q.Failures {
			fmt.Printf("      - %s\n", f)
		}
	}
	fmt.Printf("\n%d passed, %d failed (%dms total)\n",
		result.PassCount, result.FailCount, result.TotalLatencyMS)

	if !result.OverallPass {
		return fmt.Errorf("regression set %q failed", set.Name)
	}
	return nil
}

func init() {
	regressCmd.Flags().StringVar(&regressJUnitPath, "junit", "", "write a JUnit XML report to this path")
}
