package warehouse

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chinmayajena/sundaygraph/internal/oerrors"
)

// Mock is an in-memory Adapter with mutators that simulate schema changes
// and manual view edits, plus failure injection for retry-path tests.
type Mock struct {
	mu sync.Mutex

	// catalog maps "DB.SCHEMA.TABLE" (upper-cased) to table definitions.
	catalog map[string]*Table
	// views maps view FQNs to their live YAML.
	views map[string]string

	// VerifyErrors, when non-empty, makes Verify return a failed result.
	VerifyErrors []string
	// TransientVerifyFailures makes the next N Verify calls fail with a
	// retryable transport error before succeeding.
	TransientVerifyFailures int
	// DeployErrors, when non-empty, makes Deploy return a failed result.
	DeployErrors []string
	// Answerer handles Ask calls; nil yields a canned empty answer.
	Answerer func(viewFQN, question string) (*Answer, error)

	VerifyCalls int
	DeployCalls int
	ExportCalls int
	AskCalls    int
}

// NewMock creates an empty mock warehouse.
func NewMock() *Mock {
	return &Mock{
		catalog: make(map[string]*Table),
		views:   make(map[string]string),
	}
}

func tableKey(database, schema, table string) string {
	return strings.ToUpper(database + "." + schema + "." + table)
}

// AddTable installs or replaces a catalog table.
func (m *Mock) AddTable(database, schema string, t Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := t
	copied.Columns = append([]Column(nil), t.Columns...)
	m.catalog[tableKey(database, schema, t.Name)] = &copied
}

// DropTable removes a catalog table.
func (m *Mock) DropTable(database, schema, table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.catalog, tableKey(database, schema, table))
}

// AddColumn appends a column to an existing table.
func (m *Mock) AddColumn(database, schema, table string, c Column) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.catalog[tableKey(database, schema, table)]; ok {
		t.Columns = append(t.Columns, c)
	}
}

// DropColumn removes a column by name.
func (m *Mock) DropColumn(database, schema, table, column string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.catalog[tableKey(database, schema, table)]
	if !ok {
		return
	}
	cols := t.Columns[:0]
	for _, c := range t.Columns {
		if !strings.EqualFold(c.Name, column) {
			cols = append(cols, c)
		}
	}
	t.Columns = cols
}

// RenameColumn renames a column, keeping its type.
func (m *Mock) RenameColumn(database, schema, table, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.catalog[tableKey(database, schema, table)]
	if !ok {
		return
	}
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, from) {
			t.Columns[i].Name = to
		}
	}
}

// ChangeColumnType alters a column's declared type.
func (m *Mock) ChangeColumnType(database, schema, table, column, newType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.catalog[tableKey(database, schema, table)]
	if !ok {
		return
	}
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, column) {
			t.Columns[i].Type = newType
		}
	}
}

// SetSemanticView installs a live semantic view, as if someone edited it in
// the warehouse console.
func (m *Mock) SetSemanticView(viewFQN, yaml string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[strings.ToUpper(viewFQN)] = yaml
}

// RemoveSemanticView drops a live semantic view.
func (m *Mock) RemoveSemanticView(viewFQN string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.views, strings.ToUpper(viewFQN))
}

// Verify implements Adapter.
func (m *Mock) Verify(ctx context.Context, yaml, database, schema string) (*VerifyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VerifyCalls++

	if m.TransientVerifyFailures > 0 {
		m.TransientVerifyFailures--
		return nil, oerrors.Retryable(oerrors.CodeVerifyFailed, "transport error talking to warehouse")
	}
	if len(m.VerifyErrors) > 0 {
		return &VerifyResult{OK: false, Errors: append([]string(nil), m.VerifyErrors...)}, nil
	}
	if strings.TrimSpace(yaml) == "" {
		return &VerifyResult{OK: false, Errors: []string{"empty semantic model"}}, nil
	}
	return &VerifyResult{OK: true}, nil
}

// Deploy implements Adapter.
func (m *Mock) Deploy(ctx context.Context, yaml, database, schema, viewName string) (*DeployResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeployCalls++

	if len(m.DeployErrors) > 0 {
		return &DeployResult{OK: false, Errors: append([]string(nil), m.DeployErrors...)}, nil
	}
	fqn := strings.ToUpper(fmt.Sprintf("%s.%s.%s", database, schema, viewName))
	m.views[fqn] = yaml
	return &DeployResult{OK: true}, nil
}

// ExportExisting implements Adapter.
func (m *Mock) ExportExisting(ctx context.Context, viewFQN string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExportCalls++

	yaml, ok := m.views[strings.ToUpper(viewFQN)]
	return yaml, ok, nil
}

// ListCatalog implements Adapter.
func (m *Mock) ListCatalog(ctx context.Context, database, schema string) (map[string]*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := strings.ToUpper(database + "." + schema + ".")
	out := make(map[string]*Table)
	for key, t := range m.catalog {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		copied := *t
		copied.Columns = append([]Column(nil), t.Columns...)
		out[strings.ToUpper(t.Name)] = &copied
	}
	return out, nil
}

// Ask implements Adapter.
func (m *Mock) Ask(ctx context.Context, viewFQN, question string) (*Answer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	answerer := m.Answerer
	m.AskCalls++
	m.mu.Unlock()

	if answerer != nil {
		return answerer(viewFQN, question)
	}
	return &Answer{}, nil
}

var _ Adapter = (*Mock)(nil)
