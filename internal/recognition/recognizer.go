package recognition

import (
	"context"
	"encoding/json"
)

// Type is the JSON type of a schema node.
type Type string

const (
	TypeObject  Type = "object"
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
)

// Schema is a provider-neutral description of the structured output a
// recognition call must return. Backends translate it into their own form.
type Schema struct {
	Type        Type
	Description string
	Properties  map[string]*Schema
	Required    []string
	Enum        []string
	Nullable    bool
}

// Request is a single recognition call: one image plus the instructions and
// output schema it must be read against.
type Request struct {
	Image        []byte
	MIMEType     string
	Instructions string
	Schema       *Schema
}

// Recognizer analyzes an image and returns JSON conforming to the request
// schema. Implementations must be safe for concurrent use.
type Recognizer interface {
	Analyze(ctx context.Context, req Request) (json.RawMessage, error)
}

// Backend sends a normalized request to a provider and returns its raw text
// reply, which may still carry formatting around the JSON payload.
type Backend interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// Generate performs the provider call
	Generate(ctx context.Context, req Request) (string, error)

	// Close releases provider resources
	Close() error
}
