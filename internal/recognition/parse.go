package recognition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
)

// stripFences removes markdown code fences providers sometimes wrap around
// JSON, e.g. "```json\n{...}\n```".
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```JSON")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// extractObject returns the outermost JSON object in text.
func extractObject(text string) (string, error) {
	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[start : end+1], nil
}

// decodeStructured turns a raw provider reply into JSON conforming to schema.
func decodeStructured(text string, schema *Schema) (json.RawMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewParseError(text, fmt.Errorf("empty response"))
	}

	body, err := extractObject(stripFences(text))
	if err != nil {
		return nil, apperrors.NewParseError(text, err)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, apperrors.NewParseError(text, fmt.Errorf("unmarshaling json: %w", err))
	}

	if err := schema.conform("", doc, false); err != nil {
		return nil, apperrors.NewParseError(text, err)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(body)); err != nil {
		return nil, apperrors.NewParseError(text, err)
	}
	return json.RawMessage(compact.Bytes()), nil
}

// conform checks v against s. Only fields declared in Properties are checked;
// unknown fields are tolerated. The enum of an optional field is a hint to
// the provider only: an unlisted value is passed on for the caller to judge.
func (s *Schema) conform(path string, v any, optional bool) error {
	if v == nil {
		if s.Nullable {
			return nil
		}
		return fmt.Errorf("%s: value is null", pathOrRoot(path))
	}

	switch s.Type {
	case TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object", pathOrRoot(path))
		}
		for _, name := range s.Required {
			if _, ok := obj[name]; !ok {
				return fmt.Errorf("%s: missing required field", join(path, name))
			}
		}
		for name, prop := range s.Properties {
			fv, ok := obj[name]
			if !ok {
				continue
			}
			if err := prop.conform(join(path, name), fv, !slices.Contains(s.Required, name)); err != nil {
				return err
			}
		}
	case TypeString:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s: expected string", pathOrRoot(path))
		}
		if len(s.Enum) > 0 && !optional && !slices.Contains(s.Enum, str) {
			return fmt.Errorf("%s: %q is not one of %v", pathOrRoot(path), str, s.Enum)
		}
	case TypeInteger:
		n, ok := v.(json.Number)
		if !ok {
			return fmt.Errorf("%s: expected integer", pathOrRoot(path))
		}
		if _, err := n.Int64(); err != nil {
			return fmt.Errorf("%s: %s is not an integer", pathOrRoot(path), n)
		}
	case TypeNumber:
		n, ok := v.(json.Number)
		if !ok {
			return fmt.Errorf("%s: expected number", pathOrRoot(path))
		}
		if _, err := n.Float64(); err != nil {
			return fmt.Errorf("%s: %s is not a number", pathOrRoot(path), n)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%s: expected boolean", pathOrRoot(path))
		}
	}
	return nil
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func pathOrRoot(path string) string {
	if path == "" {
		return "response"
	}
	return path
}

// jsonSchema renders s as a JSON Schema document.
func (s *Schema) jsonSchema() map[string]any {
	out := map[string]any{"type": string(s.Type)}
	if s.Nullable {
		out["type"] = []string{string(s.Type), "null"}
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = prop.jsonSchema()
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}
