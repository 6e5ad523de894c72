package openrouter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	defaultModel   = "z-ai/glm-4.5-air:free"
	requestTimeout = 90 * time.Second
)

// Adapter is a text-generation client for OpenRouter's OpenAI-compatible
// chat completions API.
type Adapter struct {
	client  openai.Client
	key     string
	model   string
	timeout time.Duration
}

type Option func(*options)

type options struct {
	timeout    time.Duration
	maxRetries int
	rawBaseURL string
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxRetries sets the client's own retry count for 429/5xx responses.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithRawBaseURL points the client at an exact API root, bypassing the
// OpenRouter path convention. Used against local test servers.
func WithRawBaseURL(u string) Option {
	return func(o *options) { o.rawBaseURL = u }
}

func New(apiKey, model, baseURL string, opts ...Option) *Adapter {
	o := options{timeout: requestTimeout, maxRetries: 2}
	for _, opt := range opts {
		opt(&o)
	}
	if model == "" {
		model = defaultModel
	}
	api := o.rawBaseURL
	if api == "" {
		api = apiBaseURL(baseURL)
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(api),
		option.WithMaxRetries(o.maxRetries),
		option.WithHeader("X-Title", "clipper"),
	)
	return &Adapter{client: client, key: apiKey, model: model, timeout: o.timeout}
}

// Complete sends one system+user exchange in JSON mode and returns the JSON
// object found in the reply.
func (a *Adapter) Complete(ctx context.Context, system, user string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Chat.Completions.New(reqCtx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model:       a.model,
		Temperature: openai.Float(0.2),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	})
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("openrouter timeout after %s (model=%s)", a.timeout, a.model)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("openrouter: %s", truncate(redactSecrets(err.Error(), a.key), 400))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openrouter: no choices in response")
	}
	return extractJSONObject(resp.Choices[0].Message.Content)
}

func extractJSONObject(s string) (string, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", errors.New("openrouter: empty content")
	}

	// Strip markdown code fences.
	if strings.HasPrefix(t, "```") {
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}

	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		return t[start : end+1], nil
	}
	return "", fmt.Errorf("openrouter: could not locate JSON object in: %q", truncate(t, 200))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	authHeaderRE  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)([^\n\r,;]+)`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;]+)`)
)

func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "[REDACTED]")
	}
	out = bearerTokenRE.ReplaceAllString(out, "Bearer [REDACTED]")
	out = authHeaderRE.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}
