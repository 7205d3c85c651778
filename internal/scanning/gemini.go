package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini reads receipts with Google Gemini.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	opts   Options
}

// NewGemini creates a Gemini recognizer.
func NewGemini(ctx context.Context, apiKey, modelName string, opts Options) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{client: client, model: model, opts: opts}, nil
}

// Recognize implements Recognizer.
func (g *Gemini) Recognize(ctx context.Context, imageData []byte, contentType string) (string, error) {
	parts := []genai.Part{
		genai.Blob{MIMEType: normalizeMimeType(contentType), Data: imageData},
		genai.Text(transcriptionPrompt(g.opts)),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	return cleanTranscript(text.String()), nil
}

// Close closes the Gemini client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
