package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("kestrel-llm")

// Purposes label metrics and spans per report format.
const (
	PurposeAnalysis  = "analysis"
	PurposeNarrative = "narrative"
)

// NewClient creates the client for the named provider.
func NewClient(provider string, cfg domain.LLMConfig) (Client, error) {
	switch provider {
	case domain.ProviderOpenAI:
		return newOpenAIClient(cfg.OpenAI), nil
	case domain.ProviderGemini:
		return newGeminiClient(cfg.Gemini), nil
	default:
		return nil, fmt.Errorf("%w: unsupported llm provider %q", domain.ErrInvalidInput, provider)
	}
}

// Instrument wraps c so every call is traced and counted under purpose.
func Instrument(c Client, purpose string) Client {
	return &instrumented{next: c, purpose: purpose}
}

type instrumented struct {
	next    Client
	purpose string
}

func (i *instrumented) Provider() string {
	return i.next.Provider()
}

func (i *instrumented) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, span := tracer.Start(ctx, "llm.Complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.provider", i.next.Provider()),
		attribute.String("llm.purpose", i.purpose),
		attribute.Bool("llm.json", req.JSON),
	)

	start := time.Now()
	resp, err := i.next.Complete(ctx, req)
	metrics.ObserveLLM(i.next.Provider(), i.purpose, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}

	span.SetAttributes(
		attribute.String("llm.model", resp.Model),
		attribute.Int("llm.completion_tokens", resp.CompletionTokens),
	)
	return resp, nil
}
