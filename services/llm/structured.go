package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
)

// schemaInstruction builds the system suffix that coerces a backend
// without native schema support into emitting bare JSON.
func schemaInstruction(schema json.RawMessage) string {
	return fmt.Sprintf(
		"Respond with a single JSON object matching this JSON Schema and nothing else. "+
			"No markdown fences, no commentary.\nSchema:\n%s", string(schema))
}

// withSchemaPrompt appends the schema instruction to the last system
// message, or prepends a new system message when none exists.
func withSchemaPrompt(messages []datatypes.Message, schema json.RawMessage) []datatypes.Message {
	out := make([]datatypes.Message, len(messages))
	copy(out, messages)
	for i := range out {
		if strings.EqualFold(out[i].Role, "system") {
			out[i].Content = out[i].Content + "\n\n" + schemaInstruction(schema)
			return out
		}
	}
	return append([]datatypes.Message{{Role: "system", Content: schemaInstruction(schema)}}, out...)
}

// ExtractJSON pulls the first top-level JSON object out of a completion.
// Models occasionally wrap output in markdown fences or prose despite
// instructions; scanning for balanced braces is more robust than trusting
// the raw text.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in completion")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case c == '{' && !inString:
			depth++
		case c == '}' && !inString:
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in completion")
}

// decodeStructured extracts and unmarshals a schema-constrained completion.
func decodeStructured(text string, out any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("completion did not match schema: %w", err)
	}
	return nil
}
