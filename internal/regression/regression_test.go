package regression

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinmayajena/sundaygraph/internal/oerrors"
	"github.com/chinmayajena/sundaygraph/internal/warehouse"
)

const viewFQN = "RETAIL_DB.PUBLIC.retail_view"

func deployedMock() *warehouse.Mock {
	m := warehouse.NewMock()
	m.SetSemanticView(viewFQN, "name: retail\n")
	return m
}

func smokeSet() *QuestionSet {
	return &QuestionSet{
		Name: "retail smoke",
		View: viewFQN,
		Questions: []Question{
			{
				Question:              "What was total revenue by region?",
				ExpectedTables:        []string{"orders", "customers"},
				ExpectedSQLPatterns:   []string{"SUM("},
				ExpectedAnswerSnippet: "revenue",
			},
			{
				Question:       "How many orders were placed?",
				ExpectedTables: []string{"orders"},
			},
		},
	}
}

func TestParseQuestionSet(t *testing.T) {
	data := []byte(`
name: retail smoke
view: RETAIL_DB.PUBLIC.retail_view
questions:
  - question: "What was total revenue?"
    expected_tables: [orders]
    expected_sql_patterns: ["SUM("]
  - question: "How many customers?"
    expected_answer_snippet: "customers"
`)
	set, err := ParseQuestionSet(data)
	require.NoError(t, err)
	assert.Equal(t, "retail smoke", set.Name)
	require.Len(t, set.Questions, 2)
	assert.Equal(t, []string{"orders"}, set.Questions[0].ExpectedTables)
	assert.Equal(t, "customers", set.Questions[1].ExpectedAnswerSnippet)
}

func TestParseQuestionSetRejectsEmpty(t *testing.T) {
	_, err := ParseQuestionSet([]byte("name: empty\nview: x\n"))
	require.Error(t, err)
}

func TestRunAllPass(t *testing.T) {
	m := deployedMock()
	m.Answerer = func(view, question string) (*warehouse.Answer, error) {
		return &warehouse.Answer{
			SQL:    "SELECT SUM(total_amount) FROM ORDERS JOIN CUSTOMERS USING (customer_id)",
			Answer: "Total revenue by region was ...",
		}, nil
	}

	r := NewRunner(m, nil, 0)
	res, err := r.Run(context.Background(), smokeSet())
	require.NoError(t, err)

	assert.True(t, res.OverallPass)
	assert.Equal(t, 2, res.PassCount)
	assert.Zero(t, res.FailCount)
	assert.Equal(t, 2, m.AskCalls)
	require.Len(t, res.Questions, 2)
	assert.True(t, res.Questions[0].Passed)
}

func TestRunFailuresAreOutcomesNotErrors(t *testing.T) {
	m := deployedMock()
	m.Answerer = func(view, question string) (*warehouse.Answer, error) {
		// SQL misses the customers table and the SUM( pattern.
		return &warehouse.Answer{SQL: "SELECT 1 FROM ORDERS", Answer: "n/a"}, nil
	}

	r := NewRunner(m, nil, 0)
	res, err := r.Run(context.Background(), smokeSet())
	require.NoError(t, err)

	assert.False(t, res.OverallPass)
	assert.Equal(t, 1, res.PassCount)
	assert.Equal(t, 1, res.FailCount)

	first := res.Questions[0]
	assert.False(t, first.Passed)
	assert.Len(t, first.Failures, 3)
	assert.Contains(t, first.Failures[0], "customers")
}

func TestRunRefusesNonDeployedView(t *testing.T) {
	r := NewRunner(warehouse.NewMock(), nil, 0)
	_, err := r.Run(context.Background(), smokeSet())
	require.Error(t, err)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeRegressionFailed))
}

func TestRunCancelsBetweenQuestions(t *testing.T) {
	m := deployedMock()
	ctx, cancel := context.WithCancel(context.Background())
	m.Answerer = func(view, question string) (*warehouse.Answer, error) {
		cancel() // canceled mid-run; the next checkpoint observes it
		return &warehouse.Answer{SQL: "SELECT 1 FROM ORDERS"}, nil
	}

	r := NewRunner(m, nil, 0)
	res, err := r.Run(ctx, smokeSet())
	require.Error(t, err)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeCanceled))
	assert.Len(t, res.Questions, 1)
	assert.Equal(t, 1, m.AskCalls)
}

func TestRunAnalystErrorFailsQuestion(t *testing.T) {
	m := deployedMock()
	m.Answerer = func(view, question string) (*warehouse.Answer, error) {
		return nil, fmt.Errorf("analyst unavailable")
	}

	r := NewRunner(m, nil, 0)
	res, err := r.Run(context.Background(), smokeSet())
	require.NoError(t, err)
	assert.False(t, res.OverallPass)
	assert.Equal(t, 2, res.FailCount)
}

func TestJUnitXML(t *testing.T) {
	res := &Result{
		Set:            "retail smoke",
		View:           viewFQN,
		PassCount:      1,
		FailCount:      1,
		TotalLatencyMS: 1500,
		Questions: []QuestionResult{
			{Question: "q1", Passed: true, LatencyMS: 500},
			{Question: "q2", Passed: false, Failures: []string{"expected table \"orders\" in SQL"}, LatencyMS: 1000},
		},
	}

	out, err := res.JUnitXML()
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, `<testsuite name="retail smoke" tests="2" failures="1" time="1.500">`)
	assert.Contains(t, text, `<testcase name="q1"`)
	assert.Contains(t, text, `<failure message="expectations not met">`)
	assert.Contains(t, text, "expected table")
}
