package gemini

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// FallbackModels is the candidate list used when discovery fails or returns
// nothing usable. Order is preference order.
var FallbackModels = []string{
	"models/gemini-2.5-flash",
	"models/gemini-2.5-flash-lite",
	"models/gemini-2.0-flash",
	"models/gemini-2.0-flash-lite",
}

const generateContentAction = "generateContent"

// Models returns the candidate models in preference order. Discovery runs at
// most once per client; pinned models skip it.
func (c *Client) Models(ctx context.Context) []string {
	if len(c.pinned) > 0 {
		return c.pinned
	}
	c.once.Do(func() {
		c.models = c.discover(ctx)
	})
	if len(c.models) == 0 {
		return FallbackModels
	}
	return c.models
}

func (c *Client) discover(ctx context.Context) []string {
	page, err := c.api.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1000})
	if err != nil {
		c.logger.Warn("gemini model discovery failed, using fallback list", zap.Error(err))
		return nil
	}
	found := make([]ModelInfo, 0, len(page.Items))
	for _, m := range page.Items {
		if m == nil {
			continue
		}
		found = append(found, ModelInfo{Name: m.Name, Actions: m.SupportedActions})
	}
	usable := RankModels(found)
	c.logger.Debug("gemini models discovered", zap.Strings("models", usable))
	return usable
}

// ModelInfo is the subset of a listed model the ranking needs.
type ModelInfo struct {
	Name    string
	Actions []string
}

// RankModels keeps gemini models that support generateContent and orders them
// by the FallbackModels preference, unknown names last in listing order.
func RankModels(models []ModelInfo) []string {
	usable := make([]string, 0, len(models))
	for _, m := range models {
		name := m.Name
		if !strings.HasPrefix(name, "models/gemini-") {
			continue
		}
		if !slices.Contains(m.Actions, generateContentAction) {
			continue
		}
		usable = append(usable, name)
	}
	slices.SortStableFunc(usable, func(a, b string) int {
		return rankModelName(a) - rankModelName(b)
	})
	return usable
}

func rankModelName(name string) int {
	idx := slices.Index(FallbackModels, strings.ToLower(name))
	if idx == -1 {
		return len(FallbackModels) + 1
	}
	return idx
}

func normalizeModelNames(models []string) []string {
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if !strings.HasPrefix(m, "models/") {
			m = "models/" + m
		}
		out = append(out, m)
	}
	return out
}
