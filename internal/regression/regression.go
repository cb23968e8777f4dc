// Package regression replays a curated question set against the analyst
// endpoint of a deployed semantic view and scores the answers against
// expectations. A failing run is a normal outcome, not an error.
package regression

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/chinmayajena/sundaygraph/internal/oerrors"
	"github.com/chinmayajena/sundaygraph/internal/warehouse"
)

// Question is one regression case. Every given expectation must hold for
// the question to pass; absent expectations are not checked.
type Question struct {
	Question              string   `yaml:"question"`
	ExpectedTables        []string `yaml:"expected_tables,omitempty"`
	ExpectedSQLPatterns   []string `yaml:"expected_sql_patterns,omitempty"`
	ExpectedAnswerSnippet string   `yaml:"expected_answer_snippet,omitempty"`
}

// QuestionSet is a named list of regression questions for one view.
type QuestionSet struct {
	Name      string     `yaml:"name"`
	View      string     `yaml:"view"`
	Questions []Question `yaml:"questions"`
}

// ParseQuestionSet decodes a question-set YAML document.
func ParseQuestionSet(data []byte) (*QuestionSet, error) {
	var set QuestionSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse question set: %w", err)
	}
	if len(set.Questions) == 0 {
		return nil, fmt.Errorf("question set %q has no questions", set.Name)
	}
	return &set, nil
}

// LoadQuestionSet reads and decodes a question-set YAML file.
func LoadQuestionSet(path string) (*QuestionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question set: %w", err)
	}
	return ParseQuestionSet(data)
}

// QuestionResult is one question's assessment.
type QuestionResult struct {
	Question  string   `json:"question"`
	Passed    bool     `json:"passed"`
	Failures  []string `json:"failures,omitempty"`
	SQL       string   `json:"sql,omitempty"`
	Answer    string   `json:"answer,omitempty"`
	LatencyMS int64    `json:"latency_ms"`
}

// Result aggregates a full run.
type Result struct {
	Set            string           `json:"set"`
	View           string           `json:"view"`
	PassCount      int              `json:"pass_count"`
	FailCount      int              `json:"fail_count"`
	OverallPass    bool             `json:"overall_pass"`
	TotalLatencyMS int64            `json:"total_latency_ms"`
	Questions      []QuestionResult `json:"questions"`
}

// Runner executes question sets against the analyst endpoint.
type Runner struct {
	adapter     warehouse.Adapter
	log         *zap.Logger
	perQuestion time.Duration
}

// NewRunner creates a Runner. A nil logger is replaced with a no-op one;
// perQuestion <= 0 disables the per-question deadline.
func NewRunner(adapter warehouse.Adapter, log *zap.Logger, perQuestion time.Duration) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{adapter: adapter, log: log, perQuestion: perQuestion}
}

// Run executes every question in order. Running against a view that is not
// deployed is refused with REGRESSION_FAILED. Cancellation is observed
// between questions; an in-flight analyst call is not interrupted.
func (r *Runner) Run(ctx context.Context, set *QuestionSet) (*Result, error) {
	_, found, err := r.adapter.ExportExisting(ctx, set.View)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, oerrors.New(oerrors.CodeRegressionFailed,
			"view %s is not deployed; regression runs require a live view", set.View)
	}

	result := &Result{Set: set.Name, View: set.View}
	for i, q := range set.Questions {
		if err := ctx.Err(); err != nil {
			return result, oerrors.Wrap(oerrors.CodeCanceled, err,
				"regression canceled after %d of %d questions", i, len(set.Questions))
		}

		qr := r.runQuestion(ctx, set.View, q)
		result.Questions = append(result.Questions, qr)
		result.TotalLatencyMS += qr.LatencyMS
		if qr.Passed {
			result.PassCount++
		} else {
			result.FailCount++
		}

		r.log.Info("regression question assessed",
			zap.String("view", set.View),
			zap.String("question", q.Question),
			zap.Bool("passed", qr.Passed),
			zap.Int64("latency_ms", qr.LatencyMS))
	}

	result.OverallPass = result.FailCount == 0
	r.log.Info("regression run complete",
		zap.String("set", set.Name),
		zap.Int("passed", result.PassCount),
		zap.Int("failed", result.FailCount),
		zap.Bool("overall_pass", result.OverallPass))
	return result, nil
}

func (r *Runner) runQuestion(ctx context.Context, view string, q Question) QuestionResult {
	qr := QuestionResult{Question: q.Question}

	qctx := ctx
	if r.perQuestion > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, r.perQuestion)
		defer cancel()
	}

	start := time.Now()
	answer, err := r.adapter.Ask(qctx, view, q.Question)
	qr.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		qr.Failures = append(qr.Failures, fmt.Sprintf("analyst call failed: %v", err))
		return qr
	}
	qr.SQL = answer.SQL
	qr.Answer = answer.Answer
	qr.Failures = assess(q, answer)
	qr.Passed = len(qr.Failures) == 0
	return qr
}

// assess checks each given expectation. Table names match the SQL as
// case-insensitive substrings; SQL patterns and answer snippets are literal
// substrings.
func assess(q Question, answer *warehouse.Answer) []string {
	var failures []string

	upperSQL := strings.ToUpper(answer.SQL)
	for _, table := range q.ExpectedTables {
		if !strings.Contains(upperSQL, strings.ToUpper(table)) {
			failures = append(failures, fmt.Sprintf("expected table %q in SQL", table))
		}
	}
	for _, pattern := range q.ExpectedSQLPatterns {
		if !strings.Contains(answer.SQL, pattern) {
			failures = append(failures, fmt.Sprintf("expected SQL pattern %q", pattern))
		}
	}
	if q.ExpectedAnswerSnippet != "" && !strings.Contains(answer.Answer, q.ExpectedAnswerSnippet) {
		failures = append(failures, fmt.Sprintf("expected answer snippet %q", q.ExpectedAnswerSnippet))
	}
	return failures
}
