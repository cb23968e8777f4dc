package compile

import (
	"fmt"
	"strings"
)

// The warehouse procedures invoked by generated scripts. YAML payloads are
// embedded as dollar-quoted string literals so no escaping is needed.
const (
	createProcedure = "SYSTEM$CREATE_SEMANTIC_VIEW_FROM_YAML"
	exportProcedure = "SYSTEM$READ_YAML_FROM_SEMANTIC_VIEW"
)

// VerifySQL emits the verify-only script: the create procedure against
// database.schema with verify_only => TRUE, creating nothing.
func VerifySQL(yaml []byte, database, schema string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- Verify semantic model against %s.%s (no view is created)\n", database, schema)
	fmt.Fprintf(&b, "SELECT %s(\n", createProcedure)
	fmt.Fprintf(&b, "  '%s.%s',\n", database, schema)
	b.WriteString("  $yaml$\n")
	b.Write(yaml)
	b.WriteString("$yaml$,\n")
	b.WriteString("  verify_only => TRUE\n")
	b.WriteString(");\n")
	return b.String()
}

// DeploySQL emits the create-or-replace script for the target view.
func DeploySQL(yaml []byte, database, schema, viewName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- Deploy semantic view %s.%s.%s\n", database, schema, viewName)
	fmt.Fprintf(&b, "SELECT %s(\n", createProcedure)
	fmt.Fprintf(&b, "  '%s.%s.%s',\n", database, schema, viewName)
	b.WriteString("  $yaml$\n")
	b.Write(yaml)
	b.WriteString("$yaml$,\n")
	b.WriteString("  verify_only => FALSE\n")
	b.WriteString(");\n")
	return b.String()
}

// RollbackSQL emits the rollback script: a drop, followed by a re-create
// from the captured pre-deploy YAML when one exists.
func RollbackSQL(database, schema, viewName string, rollbackYAML []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- Roll back semantic view %s.%s.%s\n", database, schema, viewName)
	fmt.Fprintf(&b, "DROP SEMANTIC VIEW IF EXISTS %s.%s.%s;\n", database, schema, viewName)
	if len(rollbackYAML) == 0 {
		b.WriteString("-- No pre-deploy export was captured; rollback is drop-only.\n")
		return b.String()
	}
	b.WriteString("\n-- Restore the captured pre-deploy definition\n")
	fmt.Fprintf(&b, "SELECT %s(\n", createProcedure)
	fmt.Fprintf(&b, "  '%s.%s.%s',\n", database, schema, viewName)
	b.WriteString("  $yaml$\n")
	b.Write(rollbackYAML)
	b.WriteString("$yaml$,\n")
	b.WriteString("  verify_only => FALSE\n")
	b.WriteString(");\n")
	return b.String()
}

// ExportSQL emits the statement used to read a live view's YAML.
func ExportSQL(viewFQN string) string {
	return fmt.Sprintf("SELECT %s('%s');\n", exportProcedure, viewFQN)
}
