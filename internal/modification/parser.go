package modification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/budgetrag/internal/config"
	"github.com/hyperjump/budgetrag/internal/models"
	"github.com/hyperjump/budgetrag/internal/retry"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// Catalog lists the known budget categories.
type Catalog interface {
	CategoryNames(ctx context.Context) ([]string, error)
}

// Parser turns a free-text change request into a ModificationIntent with a
// single LLM call.
type Parser struct {
	model       llms.Model
	catalog     Catalog
	temperature float64
	timeout     time.Duration
	policy      retry.Policy
	logger      *zap.Logger
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithParserLogger sets the parser logger.
func WithParserLogger(l *zap.Logger) ParserOption {
	return func(p *Parser) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) ParserOption {
	return func(p *Parser) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithTransportRetry retries failed model calls. Malformed output is never retried.
func WithTransportRetry(pol retry.Policy) ParserOption {
	return func(p *Parser) { p.policy = pol }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ParserOption {
	return func(p *Parser) { p.temperature = t }
}

// NewParser creates a parser. catalog may be nil to skip category checks.
func NewParser(model llms.Model, catalog Catalog, opts ...ParserOption) *Parser {
	p := &Parser{
		model:       model,
		catalog:     catalog,
		temperature: 0.1,
		timeout:     30 * time.Second,
		policy:      retry.Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAIModel creates a chat model for an OpenAI-compatible endpoint.
func NewOpenAIModel(cfg config.LLMConfig) (llms.Model, error) {
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return client, nil
}

// NewParserFromConfig wires a Parser to the configured LLM endpoint.
func NewParserFromConfig(cfg config.LLMConfig, catalog Catalog, logger *zap.Logger) (*Parser, error) {
	model, err := NewOpenAIModel(cfg)
	if err != nil {
		return nil, err
	}
	return NewParser(model, catalog,
		WithParserLogger(logger),
		WithTemperature(cfg.Temperature),
		WithTimeout(cfg.Timeout),
		WithTransportRetry(retry.Policy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay, MaxDelay: 30 * time.Second}),
	), nil
}

func buildSystemPrompt(categories []string) string {
	var b strings.Builder
	b.WriteString("You extract structured data from budget modification requests.\n")
	b.WriteString("Return one JSON object with exactly these fields:\n")
	b.WriteString(`- action: "increase", "decrease" or "set"` + "\n")
	b.WriteString("- category: the budget category to modify\n")
	b.WriteString("- line_item: the specific line item, or null\n")
	b.WriteString("- amount: the absolute amount in dollars, or null\n")
	b.WriteString("- percent: the percentage, or null\n")
	b.WriteString("- justification: the business reason, or an empty string\n")
	b.WriteString("Exactly one of amount and percent must be set. Do not guess missing values.\n")
	if len(categories) > 0 {
		b.WriteString("Known categories: ")
		b.WriteString(strings.Join(categories, ", "))
		b.WriteString("\n")
	}
	return b.String()
}

// Parse sends text to the model and decodes the reply. Malformed replies
// fail with *IntentParseError naming the offending field.
func (p *Parser) Parse(ctx context.Context, text string) (*models.ModificationIntent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &IntentParseError{Field: "text", Reason: "request is empty"}
	}

	var categories []string
	if p.catalog != nil {
		var err error
		if categories, err = p.catalog.CategoryNames(ctx); err != nil {
			return nil, fmt.Errorf("load categories: %w", err)
		}
	}

	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(buildSystemPrompt(categories))},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(text)},
		},
	}

	var reply string
	err := retry.Do(ctx, p.policy, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		resp, err := p.model.GenerateContent(callCtx, content,
			llms.WithTemperature(p.temperature),
			llms.WithJSONMode(),
		)
		if err != nil {
			p.logger.Warn("intent model call failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		if len(resp.Choices) == 0 {
			return retry.Permanent(&IntentParseError{Field: "body", Reason: "model returned no choices"})
		}
		reply = resp.Choices[0].Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("call intent model: %w", err)
	}

	intent, err := ParseIntentJSON(reply, categories)
	if err != nil {
		p.logger.Info("could not parse intent", zap.String("reply", reply), zap.Error(err))
		return nil, err
	}
	return intent, nil
}
