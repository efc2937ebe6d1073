package enrich

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-enrich/pkg/anthropic"
	"github.com/sells-group/listing-enrich/pkg/perplexity"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-haiku-4-5"

// AnthropicProvider answers enrichment lookups with a Claude model.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicProvider creates an AnthropicProvider. An empty model selects
// DefaultAnthropicModel.
func NewAnthropicProvider(client anthropic.Client, model string) *AnthropicProvider {
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicProvider{client: client, model: model, maxTokens: 256}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Lookup implements Provider.
func (p *AnthropicProvider) Lookup(ctx context.Context, street, city, county string) (*Enrichment, error) {
	temp := 0.0
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		System:      []anthropic.SystemBlock{{Text: systemPrompt, CacheControl: &anthropic.CacheControl{}}},
		Messages:    []anthropic.Message{{Role: "user", Content: buildPrompt(street, city, county)}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "enrich: anthropic lookup")
	}
	resp.Usage.LogCost(p.model, "enrich")
	return parseEnrichment(resp.Text(), p.Name())
}

// PerplexityProvider answers enrichment lookups with a Perplexity search model.
type PerplexityProvider struct {
	client perplexity.Client
	model  string
}

// NewPerplexityProvider creates a PerplexityProvider. An empty model uses the
// client default.
func NewPerplexityProvider(client perplexity.Client, model string) *PerplexityProvider {
	return &PerplexityProvider{client: client, model: model}
}

// Name implements Provider.
func (p *PerplexityProvider) Name() string { return "perplexity" }

// Lookup implements Provider.
func (p *PerplexityProvider) Lookup(ctx context.Context, street, city, county string) (*Enrichment, error) {
	temp := 0.0
	maxTokens := 256
	resp, err := p.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: p.model,
		Messages: []perplexity.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(street, city, county)},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return nil, eris.Wrap(err, "enrich: perplexity lookup")
	}
	return parseEnrichment(resp.Content(), p.Name())
}
