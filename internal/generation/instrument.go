package generation

import (
	"context"
	"log/slog"
	"time"
)

// Observer receives one observation per generation call.
type Observer interface {
	ObserveGeneration(model, outcome string, d time.Duration)
}

type instrumented struct {
	next     Client
	observer Observer
	fallback string
}

// Instrument reports every call made through next to observer. defaultModel
// labels requests that leave Model empty.
func Instrument(next Client, observer Observer, defaultModel string) Client {
	return &instrumented{next: next, observer: observer, fallback: defaultModel}
}

func (i *instrumented) Generate(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = i.fallback
	}
	start := time.Now()
	out, err := i.next.Generate(ctx, req)
	elapsed := time.Since(start)
	outcome := Outcome(err)

	i.observer.ObserveGeneration(model, outcome, elapsed)
	if err != nil && outcome != "canceled" {
		slog.Warn("generation failed", "model", model, "outcome", outcome, "duration", elapsed, "error", err)
	}
	return out, err
}
