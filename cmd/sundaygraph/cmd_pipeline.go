package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chinmayajena/sundaygraph/internal/compile"
	"github.com/chinmayajena/sundaygraph/internal/eval"
	"github.com/chinmayajena/sundaygraph/internal/odl"
	"github.com/chinmayajena/sundaygraph/internal/store"
)

var (
	evalProfile    string
	evalVersion    int
	compileVersion int
	compileView    string
	compileOutDir  string
	compileZipPath string
	compileEnvs    []string
)

var evalCmd = &cobra.Command{
	Use:   "eval [name]",
	Short: "Run quality gates against a stored version",
	Long: `Evaluates a version against the gate registry: structural, semantic,
and deployability checks. The profile decides which failures block:
strict blocks everything, standard blocks errors, lenient blocks only
deployability errors.`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

var compileCmd = &cobra.Command{
	Use:   "compile [name]",
	Short: "Compile a version into a deployable artifact bundle",
	Long: `Compiles the semantic model YAML, verify/deploy/rollback SQL scripts,
and provenance metadata for a stored version. With --env flags the bundle
also carries per-environment script sets for promotion.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

// loadVersionIR fetches the requested (or latest) version with its IR.
func loadVersionIR(s *store.Store, name string, number int) (*store.Ontology, *store.Version, *odl.IR, error) {
	o, err := resolveOntology(s, name)
	if err != nil {
		return nil, nil, nil, err
	}
	var v *store.Version
	if number > 0 {
		v, err = s.GetVersion(o.ID, number)
	} else {
		v, err = s.GetLatest(o.ID)
	}
	if err != nil {
		return nil, nil, nil, err
	}
	ir, err := v.IR()
	if err != nil {
		return nil, nil, nil, err
	}
	return o, v, ir, nil
}

// targetLabel names the compile target for run records.
func targetLabel(ir *odl.IR) string {
	if ir.Target == nil {
		return ""
	}
	return ir.Target.Database + "." + ir.Target.Schema
}

func runEval(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	_, v, ir, err := loadVersionIR(s, args[0], evalVersion)
	if err != nil {
		return err
	}

	profile := eval.ParseProfile(evalProfile)
	runID, err := s.WriteEvalRun(v.ID, string(profile))
	if err != nil {
		return err
	}
	if err := s.MarkEvalRunRunning(runID); err != nil {
		return err
	}

	result := eval.Evaluate(ir, profile)
	if err := s.CompleteEvalRun(runID, result.Passed, result, nil); err != nil {
		return err
	}

	for _, gate := range eval.Gates() {
		gr := result.Categories[gate.Category][gate.ID]
		status := "PASS"
		if !gr.Passed {
			status = strings.ToUpper(string(gr.Level))
		}
		fmt.Printf("%-7s [%-13s] %s\n", status, gr.Category, gr.ID)
		for _, msg := range gr.Messages {
			fmt.Printf("        - %s\n", msg)
		}
	}
	fmt.Printf("\nprofile=%s errors=%d warnings=%d\n", profile, result.Errors, result.Warnings)
	return result.Err()
}

func runCompile(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	o, v, ir, err := loadVersionIR(s, args[0], compileVersion)
	if err != nil {
		return err
	}

	// Gate the compile with the standard profile.
	if err := eval.Evaluate(ir, eval.ProfileStandard).Err(); err != nil {
		return err
	}

	envs, err := parseEnvFlags(compileEnvs)
	if err != nil {
		return err
	}
	opts := compile.Options{
		Ontology:      o.Name,
		VersionNumber: v.VersionNumber,
		ContentHash:   v.ContentHash,
		ViewName:      compileView,
		Environments:  envs,
	}

	runID, err := s.WriteCompileRun(v.ID, targetLabel(ir), opts)
	if err != nil {
		return err
	}
	if err := s.MarkCompileRunRunning(runID); err != nil {
		return err
	}

	bundle, err := compile.Compile(ir, opts)
	if err != nil {
		_ = s.CompleteCompileRun(runID, "", false, err)
		return err
	}
	if err := s.CompleteCompileRun(runID, bundle.Hash(), false, nil); err != nil {
		return err
	}

	switch {
	case compileZipPath != "":
		f, err := os.Create(compileZipPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := bundle.WriteZip(f); err != nil {
			return err
		}
		fmt.Printf("Wrote bundle %.12s to %s\n", bundle.Hash(), compileZipPath)
	default:
		dir := compileOutDir
		if dir == "" {
			dir = fmt.Sprintf("%s-v%d", o.Name, v.VersionNumber)
		}
		if err := bundle.WriteDir(dir); err != nil {
			return err
		}
		fmt.Printf("Wrote bundle %.12s to %s/\n", bundle.Hash(), dir)
	}
	return nil
}

// parseEnvFlags parses --env name=db.schema[.view] values.
func parseEnvFlags(values []string) ([]compile.Environment, error) {
	var envs []compile.Environment
	for _, raw := range values {
		name, target, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --env %q, expected name=db.schema[.view]", raw)
		}
		parts := strings.Split(target, ".")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid --env target %q, expected db.schema[.view]", target)
		}
		env := compile.Environment{Name: name, Database: parts[0], Schema: parts[1]}
		if len(parts) == 3 {
			env.ViewName = parts[2]
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func init() {
	evalCmd.Flags().StringVar(&evalProfile, "profile", "standard", "gate profile: strict, standard, lenient")
	evalCmd.Flags().IntVar(&evalVersion, "version", 0, "version number (default latest)")

	compileCmd.Flags().IntVar(&compileVersion, "version", 0, "version number (default latest)")
	compileCmd.Flags().StringVar(&compileView, "view", "", "override the target view name")
	compileCmd.Flags().StringVar(&compileOutDir, "out", "", "output directory (default <name>-v<version>)")
	compileCmd.Flags().StringVar(&compileZipPath, "zip", "", "write a zip archive instead of a directory")
	compileCmd.Flags().StringArrayVar(&compileEnvs, "env", nil, "promotion environment name=db.schema[.view] (repeatable)")
}
