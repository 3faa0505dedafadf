package core

import "context"

// ModelClient is the multimodal request/response surface the coach consumes.
// Implementations handle model selection and fallback internally.
type ModelClient interface {
	// GenerateText sends a text-only request.
	GenerateText(ctx context.Context, systemPrompt, userMessage string, opts GenerateOptions) (string, error)

	// AnalyzeImage sends a text prompt with one JPEG frame.
	AnalyzeImage(ctx context.Context, systemPrompt, userMessage string, image []byte, opts GenerateOptions) (string, error)

	// AnalyzeImages sends a text prompt with several JPEG frames in order.
	AnalyzeImages(ctx context.Context, systemPrompt, userMessage string, images [][]byte, opts GenerateOptions) (string, error)

	// AnalyzeAudio classifies a short audio clip. It returns "none" when the
	// model produced no text.
	AnalyzeAudio(ctx context.Context, prompt string, audio []byte, mimeType string) (string, error)
}

// GenerateOptions tunes a single model call. Zero values select the client
// defaults for the call kind.
type GenerateOptions struct {
	Temperature *float32
	MaxTokens   int32
	// MIMEType overrides the response MIME type (default application/json).
	MIMEType string
}

// Temperature is a convenience for building GenerateOptions literals.
func Temperature(v float32) *float32 { return &v }
