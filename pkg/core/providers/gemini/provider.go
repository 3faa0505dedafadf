package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/vango-go/vai-coach/pkg/core"
)

const (
	// DefaultBaseURL is the default Gemini API origin.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultAPIVersion is the API version used for REST calls.
	DefaultAPIVersion = "v1beta"

	jsonMIME  = "application/json"
	plainMIME = "text/plain"
	jpegMIME  = "image/jpeg"
)

var _ core.ModelClient = (*Client)(nil)

// Client issues generateContent calls with ordered model fallback.
type Client struct {
	apiKey     string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *zap.Logger
	observe    Observer

	pinned []string

	once   sync.Once
	models []string

	api *genai.Client
}

// New creates a Gemini client.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, core.NewAuthenticationError("gemini API key is required")
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		apiVersion: DefaultAPIVersion,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     c.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimRight(c.baseURL, "/") + "/",
			APIVersion: c.apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	c.api = api
	return c, nil
}

// GenerateText sends a text-only request.
func (c *Client) GenerateText(ctx context.Context, systemPrompt, userMessage string, opts core.GenerateOptions) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(userMessage)}
	cfg := buildConfig(systemPrompt, opts, 0.4, 2048)
	return c.generate(ctx, "generate_text", parts, cfg, "")
}

// AnalyzeImage sends a text prompt with one JPEG frame.
func (c *Client) AnalyzeImage(ctx context.Context, systemPrompt, userMessage string, image []byte, opts core.GenerateOptions) (string, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(userMessage),
		genai.NewPartFromBytes(image, jpegMIME),
	}
	cfg := buildConfig(systemPrompt, opts, 0.3, 150)
	return c.generate(ctx, "analyze_image", parts, cfg, "")
}

// AnalyzeImages sends a text prompt followed by several JPEG frames.
func (c *Client) AnalyzeImages(ctx context.Context, systemPrompt, userMessage string, images [][]byte, opts core.GenerateOptions) (string, error) {
	parts := make([]*genai.Part, 0, len(images)+1)
	parts = append(parts, genai.NewPartFromText(userMessage))
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img, jpegMIME))
	}
	cfg := buildConfig(systemPrompt, opts, 0.3, 2048)
	return c.generate(ctx, "analyze_images", parts, cfg, "")
}

// AnalyzeAudio classifies an audio clip into a short plain-text answer.
func (c *Client) AnalyzeAudio(ctx context.Context, prompt string, audio []byte, mimeType string) (string, error) {
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	parts := []*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromBytes(audio, mimeType),
	}
	cfg := buildConfig("", core.GenerateOptions{
		Temperature: core.Temperature(0),
		MaxTokens:   10,
		MIMEType:    plainMIME,
	}, 0, 10)
	return c.generate(ctx, "analyze_audio", parts, cfg, "none")
}

func buildConfig(systemPrompt string, opts core.GenerateOptions, defTemp float32, defMax int32) *genai.GenerateContentConfig {
	temp := defTemp
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	maxTokens := defMax
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	mime := jsonMIME
	if opts.MIMEType != "" {
		mime = opts.MIMEType
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temp,
		MaxOutputTokens:  maxTokens,
		ResponseMIMEType: mime,
	}
	if strings.TrimSpace(systemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	return cfg
}

// generate walks the candidate models in order. A 400, 403 or 404 moves on to
// the next model; any other failure aborts immediately.
func (c *Client) generate(ctx context.Context, op string, parts []*genai.Part, cfg *genai.GenerateContentConfig, empty string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	var lastErr error
	for _, model := range c.Models(ctx) {
		start := time.Now()
		resp, err := c.api.Models.GenerateContent(ctx, model, contents, cfg)
		if err == nil {
			c.record(model, op, "ok", start)
			text := strings.TrimSpace(resp.Text())
			if text == "" {
				text = empty
			}
			return text, nil
		}

		mapped := mapError(err, model)
		status := core.StatusOf(mapped)
		c.record(model, op, statusLabel(status), start)
		lastErr = mapped
		if !tryNextModel(status) {
			return "", mapped
		}
		c.logger.Debug("gemini model rejected request, trying next",
			zap.String("model", model),
			zap.String("op", op),
			zap.Int("status", status),
		)
	}
	if lastErr == nil {
		lastErr = core.NewNotFoundError("gemini: no models available")
	}
	return "", lastErr
}

func tryNextModel(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
		return true
	default:
		return false
	}
}

func (c *Client) record(model, op, status string, start time.Time) {
	if c.observe != nil {
		c.observe(model, op, status, time.Since(start))
	}
}

func statusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}
