package ai

import "context"

// TextGenerator generates a reply from a system prompt and user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ImageGenerator renders an image for a text prompt. It returns the raw
// image bytes and their content type.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, string, error)
}
