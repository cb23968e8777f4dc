package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chinmayajena/sundaygraph/internal/compile"
	"github.com/chinmayajena/sundaygraph/internal/logging"
	"github.com/chinmayajena/sundaygraph/internal/oerrors"
)

// SnowflakeOptions configures the REST adapter.
type SnowflakeOptions struct {
	AccountURL string // e.g. https://acme-prod.snowflakecomputing.com
	Token      string
	Warehouse  string
	Role       string
	// HTTPClient overrides the default client (tests point it at a stub
	// server).
	HTTPClient *http.Client
}

// Snowflake talks to the Snowflake SQL API and the Cortex Analyst endpoint.
// Stateless per call; safe for concurrent use.
type Snowflake struct {
	accountURL string
	token      string
	warehouse  string
	role       string
	client     *http.Client
}

// NewSnowflake creates the adapter.
func NewSnowflake(opts SnowflakeOptions) (*Snowflake, error) {
	if opts.AccountURL == "" {
		return nil, fmt.Errorf("account URL is required")
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("API token is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Snowflake{
		accountURL: strings.TrimRight(opts.AccountURL, "/"),
		token:      opts.Token,
		warehouse:  opts.Warehouse,
		role:       opts.Role,
		client:     client,
	}, nil
}

var _ Adapter = (*Snowflake)(nil)

// statementRequest is the SQL API v2 submit body.
type statementRequest struct {
	Statement string `json:"statement"`
	Database  string `json:"database,omitempty"`
	Schema    string `json:"schema,omitempty"`
	Warehouse string `json:"warehouse,omitempty"`
	Role      string `json:"role,omitempty"`
}

// statementResponse is the subset of the SQL API response we read.
type statementResponse struct {
	Code    string     `json:"code"`
	Message string     `json:"message"`
	Data    [][]string `json:"data"`
}

// execute submits one statement synchronously.
func (s *Snowflake) execute(ctx context.Context, statement, database, schema string) (*statementResponse, error) {
	body, err := json.Marshal(statementRequest{
		Statement: statement,
		Database:  database,
		Schema:    schema,
		Warehouse: s.warehouse,
		Role:      s.role,
	})
	if err != nil {
		return nil, err
	}

	url := s.accountURL + "/api/v2/statements"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.CodeInternal, err, "warehouse request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read warehouse response: %w", err)
	}

	var sr statementResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("failed to parse warehouse response (HTTP %d): %w", resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return &sr, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, oerrors.Retryable(oerrors.CodeInternal,
			"warehouse unavailable (HTTP %d): %s", resp.StatusCode, sr.Message)
	default:
		// Statement-level failure; callers classify by stage.
		return &sr, &statementError{code: sr.Code, message: sr.Message, status: resp.StatusCode}
	}
}

// statementError is a non-transport statement failure.
type statementError struct {
	code    string
	message string
	status  int
}

func (e *statementError) Error() string {
	return fmt.Sprintf("statement failed (%s): %s", e.code, e.message)
}

// Verify runs the create procedure in verify-only mode. A statement-level
// rejection is a verification outcome, not a transport error.
func (s *Snowflake) Verify(ctx context.Context, yaml, database, schema string) (*VerifyResult, error) {
	_, err := s.execute(ctx, compile.VerifySQL([]byte(yaml), database, schema), database, schema)
	if err != nil {
		if se, ok := asStatementError(err); ok {
			return &VerifyResult{OK: false, Errors: []string{se.message}}, nil
		}
		return nil, err
	}
	return &VerifyResult{OK: true}, nil
}

// Deploy creates or replaces the semantic view.
func (s *Snowflake) Deploy(ctx context.Context, yaml, database, schema, viewName string) (*DeployResult, error) {
	_, err := s.execute(ctx, compile.DeploySQL([]byte(yaml), database, schema, viewName), database, schema)
	if err != nil {
		if se, ok := asStatementError(err); ok {
			return &DeployResult{OK: false, Errors: []string{se.message}}, nil
		}
		return nil, err
	}
	logging.Deploy("deployed semantic view %s.%s.%s", database, schema, viewName)
	return &DeployResult{OK: true}, nil
}

// ExportExisting reads a live view's YAML. An object-does-not-exist failure
// maps to found=false.
func (s *Snowflake) ExportExisting(ctx context.Context, viewFQN string) (string, bool, error) {
	sr, err := s.execute(ctx, compile.ExportSQL(viewFQN), "", "")
	if err != nil {
		if se, ok := asStatementError(err); ok && strings.Contains(strings.ToLower(se.message), "does not exist") {
			return "", false, nil
		}
		return "", false, err
	}
	if len(sr.Data) == 0 || len(sr.Data[0]) == 0 {
		return "", false, nil
	}
	return sr.Data[0][0], true, nil
}

// ListCatalog reads table and column metadata from information_schema.
func (s *Snowflake) ListCatalog(ctx context.Context, database, schema string) (map[string]*Table, error) {
	statement := fmt.Sprintf(
		"SELECT table_name, column_name, data_type FROM %s.INFORMATION_SCHEMA.COLUMNS "+
			"WHERE table_schema = '%s' ORDER BY table_name, ordinal_position;",
		database, strings.ToUpper(schema))

	sr, err := s.execute(ctx, statement, database, schema)
	if err != nil {
		return nil, err
	}

	tables := make(map[string]*Table)
	for _, row := range sr.Data {
		if len(row) < 3 {
			continue
		}
		name := strings.ToUpper(row[0])
		t, ok := tables[name]
		if !ok {
			t = &Table{Name: name}
			tables[name] = t
		}
		t.Columns = append(t.Columns, Column{Name: row[1], Type: row[2]})
	}
	return tables, nil
}

// analystRequest is the Cortex Analyst message body.
type analystRequest struct {
	Messages     []analystMessage `json:"messages"`
	SemanticView string           `json:"semantic_view"`
}

type analystMessage struct {
	Role    string           `json:"role"`
	Content []analystContent `json:"content"`
}

type analystContent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Statement string `json:"statement,omitempty"`
}

type analystResponse struct {
	Message analystMessage `json:"message"`
}

// Ask sends a question to the Cortex Analyst endpoint backed by the view.
func (s *Snowflake) Ask(ctx context.Context, viewFQN, question string) (*Answer, error) {
	body, err := json.Marshal(analystRequest{
		SemanticView: viewFQN,
		Messages: []analystMessage{
			{Role: "user", Content: []analystContent{{Type: "text", Text: question}}},
		},
	})
	if err != nil {
		return nil, err
	}

	url := s.accountURL + "/api/v2/cortex/analyst/message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.CodeInternal, err, "analyst request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, oerrors.Retryable(oerrors.CodeInternal, "analyst unavailable (HTTP %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyst rejected question (HTTP %d): %s", resp.StatusCode, string(raw))
	}

	var ar analystResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return nil, fmt.Errorf("failed to parse analyst response: %w", err)
	}

	answer := &Answer{}
	for _, c := range ar.Message.Content {
		switch c.Type {
		case "sql":
			answer.SQL = c.Statement
		case "text":
			if answer.Answer != "" {
				answer.Answer += "\n"
			}
			answer.Answer += c.Text
		}
	}
	return answer, nil
}

func asStatementError(err error) (*statementError, bool) {
	se, ok := err.(*statementError)
	return se, ok
}
