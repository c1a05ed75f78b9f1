// Package secrets resolves LLM/OCR provider credentials that may be
// given directly or as a parameter-store reference, per spec §9
// ("Secret resolution"). Resolution is lazy and cached for the process
// lifetime, mirroring the teacher's lazy-initialization idiom for its
// own API clients (e.g. internal/compact.NewHaikuClient reading
// ANTHROPIC_API_KEY once at construction).
package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// referencePrefix marks a configuration value as a parameter-store
// reference rather than a literal secret. Real deployments name actual
// SSM parameter paths with a leading slash; a bare value never starts
// with one, so this is the same free "recognizable prefix" heuristic
// spec §9 describes.
const referencePrefix = "/"

// Resolver lazily resolves a direct-value-or-parameter-reference pair,
// caching the resolved value for the process lifetime.
type Resolver struct {
	ssm *ssm.Client

	mu    sync.Mutex
	cache map[string]string
}

// NewResolver loads the default AWS config for SSM parameter lookups.
// A Resolver with no SSM client still works for direct values.
func NewResolver(ctx context.Context) (*Resolver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Resolver{ssm: ssm.NewFromConfig(cfg), cache: map[string]string{}}, nil
}

// Resolve returns directValue if non-empty; otherwise, if
// parameterName is set, fetches (and caches) it from SSM Parameter
// Store as a SecureString. A value already recognized as a reference
// (see referencePrefix) is never cached as-is — it is re-resolved each
// time Resolve sees a new parameterName, but a given parameterName
// resolves only once per process.
func (r *Resolver) Resolve(ctx context.Context, directValue, parameterName string) (string, error) {
	if directValue != "" && !strings.HasPrefix(directValue, referencePrefix) {
		return directValue, nil
	}
	if parameterName == "" {
		if directValue != "" {
			parameterName = directValue
		} else {
			return "", fmt.Errorf("secrets: neither a direct value nor a parameter name was configured")
		}
	}

	r.mu.Lock()
	if v, ok := r.cache[parameterName]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	out, err := r.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(parameterName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("resolve secret %s: %w", parameterName, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %s has no value", parameterName)
	}

	value := *out.Parameter.Value
	r.mu.Lock()
	r.cache[parameterName] = value
	r.mu.Unlock()
	return value, nil
}
