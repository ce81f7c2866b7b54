// Package llm is the boundary to the external text-generation service. Every
// call is stateless: the request carries all context the model needs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Format string

const (
	FormatText Format = "free_text"
	FormatJSON Format = "structured_json"
)

// Request is one self-contained call to the text service.
type Request struct {
	System      string
	User        string
	Temperature float64
	Format      Format
	// Schema lists the keys a FormatJSON response must be restricted to.
	Schema []string
}

// Client performs one synchronous call and returns the raw response text.
type Client interface {
	Call(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (string, error)

func (f ClientFunc) Call(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

var (
	// ErrServiceFailure covers network, upstream and empty-response failures.
	ErrServiceFailure = errors.New("text service failure")
	// ErrMalformedResponse is returned when a structured response cannot be used.
	ErrMalformedResponse = errors.New("malformed structured response")
	ErrRateLimited       = errors.New("rate limited")
	ErrInvalidInput      = errors.New("invalid input")
)

// UpstreamError carries the HTTP status of a failed upstream call.
type UpstreamError struct {
	Status int
	Msg    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %d: %s", e.Status, e.Msg)
}

func (e *UpstreamError) Unwrap() error { return ErrServiceFailure }

// Retryable reports whether the status is worth another attempt.
func (e *UpstreamError) Retryable() bool {
	return e.Status == 408 || e.Status/100 == 5
}

// CleanMarkdownOutput strips a wrapping code fence from model output.
func CleanMarkdownOutput(text string) string {
	text = strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(text, "```markdown"):
		text = strings.TrimPrefix(text, "```markdown")
		text = strings.TrimSuffix(text, "```")
	case strings.HasPrefix(text, "```json"):
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimSuffix(text, "```")
	case strings.HasPrefix(text, "```"):
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}
