// Package warehouse defines the adapter surface between the pipeline and
// the target cloud warehouse: semantic-view verification and deployment,
// live-view export, catalog introspection, and the natural-language analyst
// endpoint. A mock implementation backs every test in the repo.
package warehouse

import "context"

// VerifyResult is the outcome of a verify-only semantic view check.
type VerifyResult struct {
	OK       bool     `json:"ok"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// DeployResult is the outcome of a create-or-replace deployment.
type DeployResult struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

// Column is one column of a catalog table.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Table is a catalog table with its columns in declaration order.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Answer is the analyst endpoint's response to one question.
type Answer struct {
	SQL    string `json:"sql"`
	Answer string `json:"answer"`
}

// Adapter is the warehouse integration surface. Implementations must be
// safe for concurrent use; every call honors context cancellation.
type Adapter interface {
	// Verify runs the semantic-view verification procedure in verify-only
	// mode against database.schema without creating anything.
	Verify(ctx context.Context, yaml, database, schema string) (*VerifyResult, error)

	// Deploy creates or replaces the semantic view at
	// database.schema.viewName from the given YAML.
	Deploy(ctx context.Context, yaml, database, schema, viewName string) (*DeployResult, error)

	// ExportExisting returns the YAML of a live semantic view. found is
	// false when the view does not exist; that is not an error.
	ExportExisting(ctx context.Context, viewFQN string) (yaml string, found bool, err error)

	// ListCatalog returns the tables under database.schema with their
	// columns and coarse column types, keyed by upper-cased table name.
	ListCatalog(ctx context.Context, database, schema string) (map[string]*Table, error)

	// Ask sends a natural-language question to the analyst endpoint
	// backed by the given semantic view.
	Ask(ctx context.Context, viewFQN, question string) (*Answer, error)
}
