package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/seanblong/reviewrag/pkg/models"
	"google.golang.org/genai"
)

type VertexAIClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewVertexAIClient creates a new client for the Google Gemini API.
func NewVertexAIClient(ctx context.Context, config *ClientConfig) (*VertexAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	applyVertexDefaults(config)

	cc := genai.ClientConfig{
		Backend: genai.BackendVertexAI,
	}

	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &VertexAIClient{
		config: config,
		client: client,
	}, nil
}

// applyVertexDefaults fills in the models used when none are configured.
// Indexing and retrieval must share the embedding model, so the default is
// pinned rather than "latest".
func applyVertexDefaults(config *ClientConfig) {
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-004"
	}
	if config.ReviewModel == "" {
		config.ReviewModel = "gemini-2.5-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}
}

// Embed implements the embedding functionality using the Gemini API
func (c *VertexAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := int32(c.config.Dim)
	cfg := genai.EmbedContentConfig{
		TaskType:             "RETRIEVAL_DOCUMENT",
		OutputDimensionality: &dim,
	}

	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, genai.Text(text), &cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	if res == nil || len(res.Embeddings) == 0 || res.Embeddings[0] == nil {
		return nil, errors.New("no embedding returned")
	}

	return res.Embeddings[0].Values, nil
}

// reviewSchema constrains the model output to [{path, line, comment}].
var reviewSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"path":    {Type: genai.TypeString, Description: "Relative file path"},
			"line":    {Type: genai.TypeInteger, Description: "Line number in the new file"},
			"comment": {Type: genai.TypeString, Description: "Clear and actionable feedback"},
		},
		Required:         []string{"path", "line", "comment"},
		PropertyOrdering: []string{"path", "line", "comment"},
	},
}

// Review asks Gemini for structured review comments on prompt.
func (c *VertexAIClient) Review(ctx context.Context, prompt string) ([]models.ReviewComment, error) {
	sys := genai.Text(reviewInstructions)
	temp := float32(0.2)
	cfg := genai.GenerateContentConfig{
		Temperature:       &temp,
		SystemInstruction: sys[0],
		ResponseMIMEType:  "application/json",
		ResponseSchema:    reviewSchema,
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.ReviewModel, genai.Text(prompt), &cfg)
	if err != nil {
		return nil, fmt.Errorf("review generation failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errors.New("no review returned")
	}

	return ParseReviewComments(resp.Text())
}

func (c *VertexAIClient) Dim() int {
	return c.config.Dim
}
