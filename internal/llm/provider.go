// Package llm adapts chat-completion providers to a single Provider contract.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/storytime/internal/domain"
	"github.com/ashureev/storytime/internal/tools"
)

// Provider completes a conversation and reports model availability.
type Provider interface {
	// Name is a short provider label used in logs and health output.
	Name() string

	// Complete sends the messages (and, if non-empty, the tool definitions)
	// and returns the assistant reply.
	Complete(ctx context.Context, messages []domain.Message, defs []tools.Definition) (domain.Message, error)

	// ListModels returns how many models the provider exposes to this key.
	ListModels(ctx context.Context) (int, error)
}

// ErrEmptyResponse is returned when the provider answers without choices.
var ErrEmptyResponse = errors.New("provider returned no choices")

// UpstreamError reports a failed provider call.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: upstream status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstream reports whether err came from a provider call.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

func upstream(provider string, status int, err error) error {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Provider: provider, StatusCode: status, Err: err}
}
