// Package analysis turns a document into a structured legal analysis using a
// page-summary pass followed by tree summarization.
package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Common analysis errors
var (
	ErrInvalidOutput = errors.New("model output does not match the analysis schema")
	ErrNoContent     = errors.New("no page summaries were produced")
)

// Analysis is the structured result returned to clients
type Analysis struct {
	Summary           string   `json:"summary"`
	ComplexityRating  int      `json:"complexity_rating"`
	RedFlagDetection  []string `json:"red_flag_detection"`
	FiguresExtraction []string `json:"figures_extraction"`
	Loopholes         []string `json:"loopholes"`
}

// Validate checks the invariants the schema promises
func (a *Analysis) Validate() error {
	if strings.TrimSpace(a.Summary) == "" {
		return fmt.Errorf("%w: summary is empty", ErrInvalidOutput)
	}
	if a.ComplexityRating < 1 || a.ComplexityRating > 10 {
		return fmt.Errorf("%w: complexity_rating %d is outside 1..10", ErrInvalidOutput, a.ComplexityRating)
	}
	// Lists are required; an absent or null list decodes to nil, while [] does not.
	lists := []struct {
		name  string
		items []string
	}{
		{"red_flag_detection", a.RedFlagDetection},
		{"figures_extraction", a.FiguresExtraction},
		{"loopholes", a.Loopholes},
	}
	for _, l := range lists {
		if l.items == nil {
			return fmt.Errorf("%w: %s is missing", ErrInvalidOutput, l.name)
		}
	}
	return nil
}

type fieldSpec struct {
	name        string
	description string
}

var fields = []fieldSpec{
	{"summary", "Comprehensive summary of the content"},
	{"complexity_rating", "Complexity score from 1-10"},
	{"red_flag_detection", "List of potential risky clauses"},
	{"figures_extraction", "Financial amounts/deadlines extracted"},
	{"loopholes", "Vague or ambiguous terms flagged"},
}

// ResponseSchema describes Analysis for the model's JSON mode
func ResponseSchema() *genai.Schema {
	lo, hi := 1.0, 10.0
	list := func(desc string) *genai.Schema {
		return &genai.Schema{
			Type:        genai.TypeArray,
			Description: desc,
			Items:       &genai.Schema{Type: genai.TypeString},
		}
	}

	required := make([]string, 0, len(fields))
	for _, f := range fields {
		required = append(required, f.name)
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary":            {Type: genai.TypeString, Description: fields[0].description},
			"complexity_rating":  {Type: genai.TypeInteger, Description: fields[1].description, Minimum: &lo, Maximum: &hi},
			"red_flag_detection": list(fields[2].description),
			"figures_extraction": list(fields[3].description),
			"loopholes":          list(fields[4].description),
		},
		Required:         required,
		PropertyOrdering: required,
	}
}

// FormatInstructions is the schema description embedded in prompts
func FormatInstructions() string {
	type property struct {
		Description string         `json:"description"`
		Type        string         `json:"type"`
		Minimum     *int           `json:"minimum,omitempty"`
		Maximum     *int           `json:"maximum,omitempty"`
		Items       map[string]any `json:"items,omitempty"`
	}
	lo, hi := 1, 10
	props := map[string]property{
		"summary":           {Description: fields[0].description, Type: "string"},
		"complexity_rating": {Description: fields[1].description, Type: "integer", Minimum: &lo, Maximum: &hi},
	}
	for _, f := range fields[2:] {
		props[f.name] = property{Description: f.description, Type: "array", Items: map[string]any{"type": "string"}}
	}
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		required = append(required, f.name)
	}

	schema, _ := json.Marshal(map[string]any{
		"properties": props,
		"required":   required,
	})

	return "The output should be formatted as a JSON instance that conforms to the JSON schema below.\n\n" +
		"Here is the output schema:\n```\n" + string(schema) + "\n```\n"
}

// Parse extracts and validates an Analysis from raw model output
func Parse(text string) (*Analysis, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}") + 1
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in output", ErrInvalidOutput)
	}

	var result Analysis
	if err := json.Unmarshal([]byte(text[start:end]), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}
