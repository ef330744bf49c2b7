package recognition

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
)

// VertexConfig selects the backend of the unified GenAI SDK. With a project
// the Vertex AI backend is used with Application Default Credentials;
// otherwise an API key selects the Gemini API backend.
type VertexConfig struct {
	Project  string
	Location string
	APIKey   string
	Model    string
}

// Vertex implements Backend using google.golang.org/genai
type Vertex struct {
	client *genai.Client
	model  string
}

// NewVertex creates a new Vertex backend
func NewVertex(ctx context.Context, cfg VertexConfig) (*Vertex, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}

	var config *genai.ClientConfig
	switch {
	case cfg.Project != "":
		if cfg.Location == "" {
			cfg.Location = "us-central1"
		}
		config = &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  cfg.Project,
			Location: cfg.Location,
		}
	case cfg.APIKey != "":
		config = &genai.ClientConfig{
			Backend: genai.BackendGeminiAPI,
			APIKey:  cfg.APIKey,
		}
	default:
		return nil, apperrors.NewConfigError("vertex", "project ID or API key is required", nil)
	}

	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, apperrors.NewConfigError("vertex", "creating client", err)
	}

	return &Vertex{client: client, model: cfg.Model}, nil
}

// Name implements Backend
func (v *Vertex) Name() string { return "vertex" }

// Generate implements Backend
func (v *Vertex) Generate(ctx context.Context, req Request) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.Image, req.MIMEType),
			genai.NewPartFromText(req.Instructions),
		}, genai.RoleUser),
	}

	resp, err := v.client.Models.GenerateContent(ctx, v.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenAISchema(req.Schema),
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", apperrors.NewTransportError(v.Name(), apiErr.Code, fmt.Errorf("generating content: %w", err))
		}
		return "", apperrors.NewTransportError(v.Name(), 0, fmt.Errorf("generating content: %w", err))
	}

	text := resp.Text()
	if text == "" {
		return "", apperrors.NewParseError("", fmt.Errorf("no response from vertex"))
	}
	return text, nil
}

// Close is a no-op; the GenAI client holds no resources to release.
func (v *Vertex) Close() error {
	return nil
}

func toGenAISchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
	}
	switch s.Type {
	case TypeObject:
		out.Type = genai.TypeObject
	case TypeString:
		out.Type = genai.TypeString
	case TypeInteger:
		out.Type = genai.TypeInteger
	case TypeNumber:
		out.Type = genai.TypeNumber
	case TypeBoolean:
		out.Type = genai.TypeBoolean
	}
	if s.Nullable {
		out.Nullable = genai.Ptr(true)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenAISchema(prop)
		}
	}
	return out
}
