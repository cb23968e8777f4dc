// Package draft generates ODL documents from natural-language briefs. It is
// an out-of-core collaborator: the pipeline never depends on a drafter, and
// every generated document still passes through validation like any other
// input.
package draft

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/chinmayajena/sundaygraph/internal/odl"
)

// Drafter produces an ODL document from a free-form brief.
type Drafter interface {
	Draft(ctx context.Context, brief string) (*odl.Document, error)
}

const systemPrompt = `You design semantic data models. Given a business brief,
produce a single ODL JSON document and nothing else.

The document shape:
{
  "version": "1.0",
  "name": "<model name>",
  "objects": [
    {
      "name": "PascalCaseObject",
      "identifiers": ["key_property"],
      "properties": [{"name": "snake_case", "type": "string|number|integer|decimal|boolean|date|timestamp|time"}]
    }
  ],
  "relationships": [
    {"name": "verb_phrase", "from": "Object", "to": "Object",
     "joinKeys": [["from_prop", "to_prop"]],
     "cardinality": "one_to_one|one_to_many|many_to_one|many_to_many"}
  ],
  "metrics": [{"name": "metric_name", "expression": "SUM(Object.property)", "grain": ["Object"], "type": "sum"}],
  "dimensions": [{"name": "dim_name", "sourceProperty": "Object.property"}],
  "targetMapping": {"database": "", "schema": "", "tableMappings": {}}
}

Rules: every identifier must name a declared property; every joinKeys pair
must reference existing properties with compatible types; every grain entry
must be a declared object. Leave targetMapping fields empty when the brief
does not name warehouse locations.`

// GeminiDrafter drafts ontologies with the Gemini API.
type GeminiDrafter struct {
	client *genai.Client
	model  string
}

// NewGeminiDrafter creates a drafter. Model defaults to gemini-2.0-flash.
func NewGeminiDrafter(ctx context.Context, apiKey, model string) (*GeminiDrafter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiDrafter{client: client, model: model}, nil
}

// Draft generates a document from the brief. The result is parsed but not
// validated; callers run it through the normal validation path.
func (d *GeminiDrafter) Draft(ctx context.Context, brief string) (*odl.Document, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(brief, genai.RoleUser),
	}

	result, err := d.client.Models.GenerateContent(ctx, d.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("draft generation failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return nil, fmt.Errorf("draft generation returned no content")
	}
	return odl.Parse([]byte(StripFences(text)))
}

// StripFences removes a markdown code fence if the model wrapped its JSON
// despite the response MIME type.
func StripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
