package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
)

// ErrAllModelsFailed is returned when the primary model and every fallback
// model failed. It wraps the last attempt's error.
var ErrAllModelsFailed = errors.New("all models failed")

/*
FallbackPolicy retries a single structured-output call across an ordered
model list: primary first, then each fallback in order, stopping at the
first success. One attempt per model — breadth of models is the retry
strategy, not repetition. Attempts are strictly sequential to bound cost,
and each attempt is capped by CallTimeout.

UseFallback=false means a primary failure is final regardless of the list;
an empty list behaves the same way. Neither is an error in the policy.
*/
type FallbackPolicy struct {
	Primary     string
	Fallbacks   []string
	UseFallback bool
	CallTimeout time.Duration

	log *logger.Logger
}

func NewFallbackPolicy(log *logger.Logger, primary string, fallbacks []string, useFallback bool, callTimeout time.Duration) *FallbackPolicy {
	if callTimeout <= 0 {
		callTimeout = 3 * time.Minute
	}
	return &FallbackPolicy{
		Primary:     primary,
		Fallbacks:   fallbacks,
		UseFallback: useFallback,
		CallTimeout: callTimeout,
		log:         log.With("service", "ModelFallback"),
	}
}

// Generate runs req through gen, walking the model list. It returns the
// first successful output along with the model that produced it.
func (p *FallbackPolicy) Generate(ctx context.Context, gen Generator, req Request) (map[string]any, string, error) {
	if p.Primary == "" {
		return nil, "", fmt.Errorf("fallback policy: missing primary model")
	}

	models := []string{p.Primary}
	if p.UseFallback {
		models = append(models, p.Fallbacks...)
	}

	var lastErr error
	for i, model := range models {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}

		attempt := req
		attempt.Model = model

		callCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
		out, err := gen.GenerateObject(callCtx, attempt)
		cancel()

		if err == nil {
			if i > 0 {
				p.log.Info("fallback model succeeded",
					"schema", req.SchemaName,
					"model", model,
					"attempt", i+1,
				)
			}
			return out, model, nil
		}

		lastErr = err
		p.log.Warn("model attempt failed",
			"schema", req.SchemaName,
			"model", model,
			"attempt", i+1,
			"of", len(models),
			"error", err.Error(),
		)
	}

	return nil, "", fmt.Errorf("%w: %v", ErrAllModelsFailed, lastErr)
}
