// Package recognition wraps calls to an external image-understanding
// capability. A Client normalizes the image, applies a timeout, strips the
// formatting providers wrap around JSON and checks the reply against the
// requested schema before handing it back.
package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
	"github.com/grafostech/fleet-console/internal/metrics"
)

// DefaultTimeout bounds a single recognition call.
const DefaultTimeout = 30 * time.Second

// Client implements Recognizer on top of a Backend.
type Client struct {
	backend Backend
	timeout time.Duration
	metrics *metrics.Metrics
}

// Option configures a Client
type Option func(*Client)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics records every call on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a new Client for backend
func NewClient(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Analyze performs one recognition call. Errors are always one of
// ConfigError, TransportError, ParseError or ValidationError.
func (c *Client) Analyze(ctx context.Context, req Request) (json.RawMessage, error) {
	start := time.Now()
	data, err := c.analyze(ctx, req)
	c.metrics.ObserveRecognition(c.backend.Name(), Outcome(err), time.Since(start))
	if err != nil {
		slog.Warn("Recognition call failed",
			"backend", c.backend.Name(),
			"content_type", req.MIMEType,
			"image_size", len(req.Image),
			"outcome", Outcome(err),
			"error", err,
		)
	}
	return data, err
}

func (c *Client) analyze(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.Schema == nil {
		return nil, fmt.Errorf("recognition request has no schema")
	}

	image, mimeType, err := prepareImageData(req.Image, req.MIMEType)
	if err != nil {
		return nil, apperrors.NewValidationError("image", err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.backend.Generate(ctx, Request{
		Image:        image,
		MIMEType:     mimeType,
		Instructions: req.Instructions,
		Schema:       req.Schema,
	})
	if err != nil {
		return nil, c.classify(ctx, err)
	}

	return decodeStructured(text, req.Schema)
}

// classify maps a backend failure onto the error taxonomy. Anything that is
// not already a config or parse failure is a transport failure.
func (c *Client) classify(ctx context.Context, err error) error {
	switch {
	case apperrors.Is(err, apperrors.ErrConfig), apperrors.Is(err, apperrors.ErrParse):
		return err
	case apperrors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.NewTransportError(c.backend.Name(), 0,
			fmt.Errorf("timed out after %s: %w", c.timeout, err))
	case apperrors.Is(err, apperrors.ErrTransport):
		return err
	default:
		return apperrors.NewTransportError(c.backend.Name(), 0, err)
	}
}

// Close closes the underlying backend
func (c *Client) Close() error {
	return c.backend.Close()
}

// Outcome returns the metrics label for a recognition result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case apperrors.Is(err, apperrors.ErrConfig):
		return "config_error"
	case apperrors.Is(err, apperrors.ErrParse):
		return "parse_error"
	case apperrors.Is(err, apperrors.ErrInvalidInput):
		return "invalid_input"
	default:
		return "transport_error"
	}
}
