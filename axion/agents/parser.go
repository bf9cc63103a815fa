package agents

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const subtasksSchema = `{
	"type": "object",
	"required": ["subtasks"],
	"properties": {
		"subtasks": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "string", "minLength": 1}
		}
	}
}`

var (
	jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)
	trailingComma     = regexp.MustCompile(`,\s*([}\]])`)
)

// subtaskParser extracts a schema-checked subtask list from model output.
type subtaskParser struct {
	schema *gojsonschema.Schema
}

func newSubtaskParser() (*subtaskParser, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(subtasksSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile subtask schema: %w", err)
	}
	return &subtaskParser{schema: schema}, nil
}

// Parse returns the subtasks in text.
func (p *subtaskParser) Parse(text string) ([]string, error) {
	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return nil, fmt.Errorf("no JSON found in response")
	}

	data := []byte(fixJSON(match))
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON in response")
	}

	result, err := p.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return nil, fmt.Errorf("schema validation errors: %s", strings.Join(errs, "; "))
	}

	var doc struct {
		Subtasks []string `json:"subtasks"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode subtasks: %w", err)
	}
	return doc.Subtasks, nil
}

// fixJSON repairs the single-quoted, trailing-comma JSON small models emit.
func fixJSON(s string) string {
	s = trailingComma.ReplaceAllString(s, "$1")
	if !json.Valid([]byte(s)) {
		s = strings.ReplaceAll(s, "'", "\"")
	}
	return s
}
