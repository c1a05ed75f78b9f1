// Package llm wraps the Anthropic API for every LLM-driven component in
// the pipeline (Structured Extraction, Meeting Notes, Missing-Info
// Review, Translation), providing a single tool-use loop with
// retry/backoff and best-effort audit logging. Grounded on the
// teacher's internal/compact.HaikuClient: the same exponential-backoff
// retry shape, the same err-classification function, generalized here
// from a single-shot call to a multi-turn tool-use loop.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/audit"
)

const (
	// Temperature is fixed at 0 across every LLM call in the pipeline,
	// per spec §6 ("Temperature 0 for determinism").
	Temperature    = 0.0
	defaultModel   = "claude-sonnet-4-5-20250929"
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxTokens      = 8192
)

// ErrAPIKeyRequired is returned when no API key was supplied.
var ErrAPIKeyRequired = errors.New("llm: API key required")

// ErrMaxToolTurnsExceeded is returned when a tool-use loop exceeds its
// configured turn cap without producing a final text response.
var ErrMaxToolTurnsExceeded = errors.New("llm: max tool turns exceeded")

// Tool is one function-calling tool exposed to an agent loop.
type Tool struct {
	Name        string
	Description string
	InputSchema anthropic.ToolInputSchemaParam
	Handler     func(ctx context.Context, input []byte) (string, error)
}

// ObjectSchema builds a JSON-schema "object" tool input schema from a
// property map and a required-field list, the shape every tool in this
// pipeline needs (none take a schema more exotic than flat properties).
func ObjectSchema(properties map[string]any, required []string) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{
		Type:       "object",
		Properties: properties,
	}
	if len(required) > 0 {
		schema.ExtraFields = map[string]any{"required": required}
	}
	return schema
}

// Client is a shared, retrying Anthropic chat-completions client.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClient constructs a Client against apiKey.
func NewClient(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  defaultModel,
	}, nil
}

// Request is one agent-loop invocation.
type Request struct {
	Step         string // audit/log label, e.g. "extract_structured"
	IepID        string
	ChildID      string
	System       string
	UserMessage  string
	Tools        []Tool
	MaxToolTurns int // 0 means a single-shot call with no tool loop
}

// Run drives the tool-use loop to completion and returns the final
// text response. Every underlying API call goes through callWithRetry;
// a tool-use loop that never terminates in a text response within
// MaxToolTurns fails with ErrMaxToolTurnsExceeded.
func (c *Client) Run(ctx context.Context, req Request) (string, error) {
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserMessage)),
	}

	tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
	handlers := map[string]func(ctx context.Context, input []byte) (string, error){}
	for _, t := range req.Tools {
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: t.InputSchema,
			},
		})
		handlers[t.Name] = t.Handler
	}

	maxTurns := req.MaxToolTurns
	if maxTurns == 0 {
		maxTurns = 1
	}

	var finalText string
	var lastErr error

	for turn := 0; turn < maxTurns; turn++ {
		params := anthropic.MessageNewParams{
			Model:       c.model,
			MaxTokens:   maxTokens,
			Temperature: anthropic.Float(Temperature),
			Messages:    messages,
		}
		if req.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.System}}
		}
		if len(tools) > 0 {
			params.Tools = tools
		}

		message, err := c.callWithRetry(ctx, params)
		c.audit(req, message, err)
		if err != nil {
			return "", err
		}
		lastErr = nil

		messages = append(messages, message.ToParam())

		var toolUses []anthropic.ToolUseBlock
		for _, block := range message.Content {
			if block.Type == "text" {
				finalText += block.Text
			}
			if block.Type == "tool_use" {
				toolUses = append(toolUses, block.AsToolUse())
			}
		}

		if len(toolUses) == 0 {
			return finalText, nil
		}

		results := make([]anthropic.ContentBlockParamUnion, 0, len(toolUses))
		for _, use := range toolUses {
			handler, ok := handlers[use.Name]
			var output string
			if !ok {
				output = fmt.Sprintf("unknown tool %q", use.Name)
			} else {
				out, herr := handler(ctx, use.Input)
				if herr != nil {
					output = fmt.Sprintf("tool error: %v", herr)
				} else {
					output = out
				}
			}
			results = append(results, anthropic.NewToolResultBlock(use.ID, output, false))
		}
		messages = append(messages, anthropic.NewUserMessage(results...))
		finalText = "" // reset: only the turn that stops tool use carries the answer
	}

	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("%w: step=%s after %d turns", ErrMaxToolTurnsExceeded, req.Step, maxTurns)
}

func (c *Client) callWithRetry(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		message, err := c.client.Messages.New(ctx, params)
		if err == nil {
			return message, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			return nil, fmt.Errorf("non-retryable error: %w", err)
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func (c *Client) audit(req Request, message *anthropic.Message, callErr error) {
	entry := &audit.Entry{
		Kind:    "llm_call",
		IepID:   req.IepID,
		ChildID: req.ChildID,
		Step:    req.Step,
		Model:   string(c.model),
		Prompt:  req.UserMessage,
	}
	if message != nil {
		for _, block := range message.Content {
			if block.Type == "text" {
				entry.Response += block.Text
			}
		}
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	// Best-effort: never fail a pipeline step because audit logging failed.
	_, _ = audit.Append(entry)
}
