package pipeline

import (
	"fmt"

	"dora/internal/clustering"
	"dora/internal/config"
	"dora/internal/llm"
	"dora/internal/persistence"
)

// Builder helps construct a fully configured Pipeline
type Builder struct {
	db        persistence.Database
	llmClient *llm.Client
	config    *Config
}

// NewBuilder creates a new pipeline builder with default settings
func NewBuilder() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithDatabase sets the database every stage reads and writes
func (b *Builder) WithDatabase(db persistence.Database) *Builder {
	b.db = db
	return b
}

// WithLLMClient sets the client used as labeler, grouper and embedder
func (b *Builder) WithLLMClient(client *llm.Client) *Builder {
	b.llmClient = client
	return b
}

// WithConfig sets the pipeline configuration
func (b *Builder) WithConfig(config *Config) *Builder {
	b.config = config
	return b
}

// WithAppConfig maps the application configuration onto the pipeline
// configuration. Unset values keep their defaults.
func (b *Builder) WithAppConfig(cfg *config.Config) *Builder {
	if cfg == nil {
		return b
	}
	c := DefaultConfig()
	if cfg.Clustering.MinClusterSize > 0 {
		c.HDBSCAN = clustering.HDBSCANConfig{
			MinClusterSize: cfg.Clustering.MinClusterSize,
			MinSamples:     cfg.Clustering.MinSamples,
		}
	}
	r := cfg.Reduction
	if r.Neighbors > 0 {
		c.Reduction.Neighbors = r.Neighbors
	}
	if r.Spread > 0 {
		c.Reduction.Spread = r.Spread
		c.Reduction.MinDist = r.MinDist
	}
	if r.Components > 0 {
		c.Reduction.Components = r.Components
	}
	c.Reduction.Epochs = r.Epochs
	c.Reduction.Seed = r.Seed
	if cfg.Labeling.NearestK > 0 {
		c.NearestK = cfg.Labeling.NearestK
	}
	if cfg.Grouping.MaxGroups > 0 {
		c.MinGroups = cfg.Grouping.MinGroups
		c.MaxGroups = cfg.Grouping.MaxGroups
	}
	if cfg.Output.Directory != "" {
		c.OutputDir = cfg.Output.Directory
	}
	b.config = c
	return b
}

// WithOutputDir sets where stage reports are written
func (b *Builder) WithOutputDir(dir string) *Builder {
	b.config.OutputDir = dir
	return b
}

// WithoutReports disables report files
func (b *Builder) WithoutReports() *Builder {
	b.config.WriteReports = false
	return b
}

// Build constructs the Pipeline. The LLM client is optional; stages that
// need it fail with ErrNoLLM without one.
func (b *Builder) Build() (*Pipeline, error) {
	if b.db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if err := b.config.HDBSCAN.Validate(); err != nil {
		return nil, fmt.Errorf("invalid clustering config: %w", err)
	}
	if b.config.MinGroups <= 0 || b.config.MinGroups > b.config.MaxGroups {
		return nil, fmt.Errorf("invalid group bounds %d-%d", b.config.MinGroups, b.config.MaxGroups)
	}

	if b.llmClient == nil {
		return NewPipeline(b.db, nil, nil, nil, b.config), nil
	}
	return NewPipeline(b.db, b.llmClient, b.llmClient, b.llmClient, b.config), nil
}
