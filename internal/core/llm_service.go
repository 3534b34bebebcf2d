package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultModelName = "gemini-2.5-flash"

// InlineFile is a document sent to the model alongside the prompt.
type InlineFile struct {
	MIMEType string
	Data     []byte
}

// GenerateRequest is one structured-generation call: a prompt, an optional
// inlined file, and an optional response schema the model is constrained to.
type GenerateRequest struct {
	Prompt      string
	File        *InlineFile
	Schema      *genai.Schema
	Temperature *float32
}

// TextGenerator is the model boundary consumed by GenerationService; tests
// substitute a stub so no operation ever needs the network.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// LLMService wraps the GenAI client.
type LLMService struct {
	client *genai.Client
}

func NewLLMService(ctx context.Context, apiKey string) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &LLMService{client: client}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		}
	}
}

// Generate performs a single model round trip and returns the raw text of
// the first candidate. When req.Schema is set, the model is asked for a
// JSON-only response conforming to it.
func (s *LLMService) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	model := s.client.GenerativeModel(defaultModelName)

	if req.Schema != nil {
		model.GenerationConfig.ResponseMIMEType = "application/json"
		model.GenerationConfig.ResponseSchema = req.Schema
	}
	if req.Temperature != nil {
		model.GenerationConfig.Temperature = req.Temperature
	}

	parts := make([]genai.Part, 0, 2)
	if req.File != nil {
		parts = append(parts, genai.Blob{MIMEType: req.File.MIMEType, Data: req.File.Data})
	}
	parts = append(parts, genai.Text(req.Prompt))

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini generate request failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini response was empty or had no valid candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}

	if text.Len() == 0 {
		return "", fmt.Errorf("gemini response contained no text parts")
	}
	return text.String(), nil
}
