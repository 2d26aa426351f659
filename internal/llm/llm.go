package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/genai"
)

const (
	// DefaultModel is the Gemini model used for labeling and grouping.
	DefaultModel = "gemini-2.5-flash"
	// DefaultEmbeddingModel is the model for item embeddings
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDimensions is the source dimensionality of item embeddings (Matryoshka)
	DefaultEmbeddingDimensions = 1536
	// DefaultGroupingTemperature keeps grouping proposals close to deterministic
	DefaultGroupingTemperature = float32(0.3)
)

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	APIKey              string
	Model               string
	EmbeddingModel      string
	EmbeddingDimensions int
	Temperature         float32
	GroupingTemperature float32
	Timeout             time.Duration
}

// Client talks to Gemini for cluster labels, group proposals and embeddings.
type Client struct {
	apiKey         string
	modelName      string
	embeddingModel string
	dimensions     int32
	temperature    float32
	groupingTemp   float32
	timeout        time.Duration
	gClient        *genai.Client
}

// GenerationOptions contains options for one structured generation call
type GenerationOptions struct {
	SystemInstruction string
	MaxTokens         int32
	Temperature       float32
	ResponseSchema    *genai.Schema
}

// resolveAPIKey looks for the key in opts, the environment, then viper.
func resolveAPIKey(opts Options) string {
	if opts.APIKey != "" {
		return opts.APIKey
	}
	for _, env := range []string{"GEMINI_API_KEY", "GOOGLE_GEMINI_API_KEY", "GOOGLE_AI_API_KEY"} {
		if key := os.Getenv(env); key != "" {
			return key
		}
	}
	return viper.GetString("ai.gemini.api_key")
}

// NewClient creates a new Gemini client.
// The API key is taken (in order of preference) from opts, the GEMINI_API_KEY
// environment variable or its alternatives, and the ai.gemini.api_key config key.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	apiKey := resolveAPIKey(opts)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY environment variable or ai.gemini.api_key in config file")
	}

	c := &Client{
		apiKey:         apiKey,
		modelName:      opts.Model,
		embeddingModel: opts.EmbeddingModel,
		dimensions:     int32(opts.EmbeddingDimensions),
		temperature:    opts.Temperature,
		groupingTemp:   opts.GroupingTemperature,
		timeout:        opts.Timeout,
	}
	if c.modelName == "" {
		c.modelName = DefaultModel
	}
	if c.embeddingModel == "" {
		c.embeddingModel = DefaultEmbeddingModel
	}
	if c.dimensions <= 0 {
		c.dimensions = DefaultEmbeddingDimensions
	}
	if c.groupingTemp <= 0 {
		c.groupingTemp = DefaultGroupingTemperature
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	c.gClient = gClient
	return c, nil
}

// ModelName returns the generation model in use
func (c *Client) ModelName() string {
	return c.modelName
}

// Close is a no-op; the genai client holds no resources of its own.
func (c *Client) Close() {}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// generate runs a single structured generation call and returns the raw text
func (c *Client) generate(ctx context.Context, prompt string, options GenerationOptions) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	config := &genai.GenerateContentConfig{}
	if options.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(options.SystemInstruction, genai.RoleUser)
	}
	if options.MaxTokens > 0 {
		config.MaxOutputTokens = options.MaxTokens
	}
	if options.Temperature > 0 {
		temp := options.Temperature
		config.Temperature = &temp
	}
	if options.ResponseSchema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = options.ResponseSchema
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// LabelCluster asks for a short label and a one-sentence summary of the
// given near-centroid item texts. Only the texts are sent.
func (c *Client) LabelCluster(ctx context.Context, texts []string) (ClusterLabel, error) {
	if len(texts) == 0 {
		return ClusterLabel{}, fmt.Errorf("no item texts to label")
	}
	text, err := c.generate(ctx, BuildLabelPrompt(texts), GenerationOptions{
		SystemInstruction: labelSystemInstruction,
		Temperature:       c.temperature,
		ResponseSchema:    labelSchema(),
	})
	if err != nil {
		return ClusterLabel{}, err
	}
	return DecodeClusterLabel(text)
}

// GroupClusters asks for a partition of the clusters into between minGroups
// and maxGroups named themes. The result is advisory and must be repaired.
func (c *Client) GroupClusters(ctx context.Context, briefs []ClusterBrief, minGroups, maxGroups int) (Grouping, error) {
	if len(briefs) == 0 {
		return Grouping{}, fmt.Errorf("no clusters to group")
	}
	text, err := c.generate(ctx, BuildGroupingPrompt(briefs, minGroups, maxGroups), GenerationOptions{
		SystemInstruction: groupingSystemInstruction,
		Temperature:       c.groupingTemp,
		ResponseSchema:    groupingSchema(),
	})
	if err != nil {
		return Grouping{}, err
	}
	return DecodeGrouping(text)
}

// Embed returns the embedding of text at the configured dimensionality
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	dims := c.dimensions
	config := &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.gClient.Models.EmbedContent(ctx, c.embeddingModel, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("no embedding values returned from API")
	}

	values := resp.Embeddings[0].Values
	if len(values) != int(c.dimensions) {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(values), c.dimensions)
	}
	embedding := make([]float64, len(values))
	for i, v := range values {
		embedding[i] = float64(v)
	}
	return embedding, nil
}
