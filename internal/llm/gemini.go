package llm

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// Default models for the two chat surfaces.
const (
	DefaultPublicModel = "gemini-2.0-flash"
	DefaultAdminModel  = "gemini-2.5-flash"
)

type GeminiOptions struct {
	APIKey string
	Model  string

	// BaseURL overrides the API endpoint, used by tests
	BaseURL string

	// HTTPClient defaults to a client with an otelhttp transport
	HTTPClient *http.Client
}

// Gemini is a Generator backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	tracer trace.Tracer
}

func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, xerrors.New("gemini API key is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultPublicModel
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, xerrors.Wrap(err, "create gemini client")
	}
	return &Gemini{
		client: client,
		model:  opts.Model,
		tracer: otel.Tracer("github.com/keithlinneman/linnemanlabs-portfolio/internal/llm"),
	}, nil
}

// Model returns the model name requests are sent to.
func (g *Gemini) Model() string { return g.model }

func (g *Gemini) Generate(ctx context.Context, messages []Message) (string, error) {
	ctx, span := g.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.model", g.model),
		attribute.Int("llm.messages", len(messages)),
	))
	defer span.End()

	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		var role genai.Role = genai.RoleModel
		if m.Role == RoleUser {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate content failed")
		return "", xerrors.Wrapf(err, "gemini generate (%s)", g.model)
	}
	text := ExtractText(resp)
	span.SetAttributes(attribute.Int("llm.reply_chars", len(text)))
	return text, nil
}

// ExtractText returns the text of the first candidate that has any, skipping
// thought parts.
func ExtractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p != nil && p.Text != "" && !p.Thought {
				b.WriteString(p.Text)
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}

var _ Generator = (*Gemini)(nil)
