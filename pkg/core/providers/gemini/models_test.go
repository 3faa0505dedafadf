package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/vango-go/vai-coach/pkg/core"
)

func TestRankModels(t *testing.T) {
	gen := []string{"generateContent", "countTokens"}
	got := RankModels([]ModelInfo{
		{Name: "models/gemini-2.0-flash-lite", Actions: gen},
		{Name: "models/embedding-001", Actions: []string{"embedContent"}},
		{Name: "models/gemini-1.5-pro", Actions: gen},
		{Name: "models/gemini-2.5-flash", Actions: gen},
		{Name: "models/gemini-2.5-flash-lite", Actions: gen},
		{Name: "models/gemini-exp-embed", Actions: []string{"embedContent"}},
		{Name: "models/gemini-2.0-flash", Actions: gen},
		{Name: "tunedModels/gemini-custom", Actions: gen},
	})
	assert.Equal(t, []string{
		"models/gemini-2.5-flash",
		"models/gemini-2.5-flash-lite",
		"models/gemini-2.0-flash",
		"models/gemini-2.0-flash-lite",
		"models/gemini-1.5-pro",
	}, got)
}

func TestRankModels_EmptyWhenNothingUsable(t *testing.T) {
	assert.Empty(t, RankModels([]ModelInfo{{Name: "models/text-bison", Actions: []string{"generateText"}}}))
}

func TestModels_DiscoveryFailureUsesFallback(t *testing.T) {
	c := newTestClient(t, &fakeGemini{})
	assert.Equal(t, FallbackModels, c.Models(context.Background()))
}

func TestNormalizeModelNames(t *testing.T) {
	assert.Equal(t, []string{"models/gemini-2.5-flash", "models/x"}, normalizeModelNames([]string{" gemini-2.5-flash ", "", "models/x"}))
}

func TestMapError(t *testing.T) {
	t.Run("rate limit with retry info", func(t *testing.T) {
		err := mapError(genai.APIError{
			Code:    429,
			Message: "quota exceeded",
			Status:  "RESOURCE_EXHAUSTED",
			Details: []map[string]any{
				{"@type": "type.googleapis.com/google.rpc.QuotaFailure"},
				{"@type": retryInfoType, "retryDelay": "31s"},
			},
		}, "models/gemini-2.5-flash")

		assert.Equal(t, core.ClassRateLimit, core.Classify(err))
		assert.Equal(t, 31*time.Second, core.RetryDelay(err))
		var ce *core.Error
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "models/gemini-2.5-flash", ce.Model)
		assert.Equal(t, "RESOURCE_EXHAUSTED", ce.Code)
	})

	t.Run("wrapped api error", func(t *testing.T) {
		err := mapError(fmt.Errorf("call: %w", genai.APIError{Code: 403, Message: "denied"}), "m")
		assert.Equal(t, 403, core.StatusOf(err))
		assert.Equal(t, core.ClassFatal, core.Classify(err))
	})

	t.Run("status only", func(t *testing.T) {
		err := mapError(genai.APIError{Status: "UNAVAILABLE", Message: "busy"}, "m")
		var ce *core.Error
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, core.ErrOverloaded, ce.Type)
		assert.Equal(t, core.ClassTransient, core.Classify(err))
	})

	t.Run("network error", func(t *testing.T) {
		base := errors.New("dial tcp: connection refused")
		err := mapError(base, "m")
		assert.ErrorIs(t, err, base)
		assert.Equal(t, 0, core.StatusOf(err))
		assert.Equal(t, core.ClassTransient, core.Classify(err))
	})

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, mapError(nil, "m"))
	})
}
