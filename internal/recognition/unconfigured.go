package recognition

import (
	"context"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
)

// Unconfigured is the Backend used when no credential is available. The
// console still starts; every recognition call fails with a ConfigError.
type Unconfigured struct {
	Reason string
}

// Name implements Backend
func (u Unconfigured) Name() string { return "unconfigured" }

// Generate implements Backend
func (u Unconfigured) Generate(context.Context, Request) (string, error) {
	return "", apperrors.NewConfigError("recognition", u.Reason, nil)
}

// Close implements Backend
func (u Unconfigured) Close() error { return nil }
