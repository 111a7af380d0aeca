package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/seanblong/reviewrag/pkg/models"
)

// Client provides both embedding and structured review capabilities
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Review(ctx context.Context, prompt string) ([]models.ReviewComment, error)
	Dim() int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey      string
	EmbedModel  string
	ReviewModel string
	Dim         int
	ProjectID   string
	Provider    Provider
	Location    string
}

// NewClient creates a new AI client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// reviewInstructions is shared by every provider that performs reviews.
const reviewInstructions = "You are an AI assistant specializing in code review. Analyze the code changes in this pull request, " +
	"identify potential issues related to correctness, security, performance, maintainability and style, and suggest improvements. " +
	"Prioritize critical issues and give clear, actionable recommendations. Respond only with a JSON array of objects " +
	`{"path": relative file path, "line": line number in the new file, "comment": feedback}.`

// ParseReviewComments decodes a model response into review comments. Code
// fences are tolerated and entries without a path, a positive line or a
// comment are discarded.
func ParseReviewComments(text string) ([]models.ReviewComment, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty review response")
	}

	var raw []models.ReviewComment
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("decode review response: %w", err)
	}

	out := make([]models.ReviewComment, 0, len(raw))
	for _, c := range raw {
		if strings.TrimSpace(c.Path) == "" || c.Line <= 0 || strings.TrimSpace(c.Comment) == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// StubClient is a stub implementation of the Client interface for testing
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	return &StubClient{dim: dim}
}

// Embed returns a deterministic unit vector derived from the text, so equal
// texts land on equal vectors and similarity search stays meaningful offline.
func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.dim <= 0 {
		return []float32{}, nil
	}
	vec := make([]float32, s.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(s.dim)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}

// Review returns no comments.
func (s *StubClient) Review(ctx context.Context, prompt string) ([]models.ReviewComment, error) {
	return []models.ReviewComment{}, nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
