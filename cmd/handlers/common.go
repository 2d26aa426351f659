package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dora/internal/config"
	"dora/internal/core"
	"dora/internal/llm"
	"dora/internal/persistence"
	"dora/internal/pipeline"
)

// scopeFlags are shared by every stage command
type scopeFlags struct {
	company    string
	kind       string
	dimensions int
	force      bool
}

func (f *scopeFlags) bind(cmd *cobra.Command, defaultDims int, forceHelp string) {
	cmd.Flags().StringVar(&f.company, "company", "", "Company name (required)")
	cmd.Flags().StringVar(&f.kind, "type", string(core.KindComplaints), "Item type: complaints, use_cases, value_drivers or insights")
	cmd.Flags().IntVar(&f.dimensions, "dimensions", defaultDims, "Embedding dimensionality of the scope")
	if forceHelp != "" {
		cmd.Flags().BoolVar(&f.force, "force", false, forceHelp)
	}
	_ = cmd.MarkFlagRequired("company")
}

func (f *scopeFlags) itemKind() (core.ItemKind, error) {
	return core.ParseItemKind(f.kind)
}

func (f *scopeFlags) scope() (core.Scope, error) {
	kind, err := f.itemKind()
	if err != nil {
		return core.Scope{}, err
	}
	scope := core.NewScope(f.company, kind, f.dimensions)
	if err := scope.Validate(); err != nil {
		return core.Scope{}, err
	}
	return scope, nil
}

// getDatabase opens the configured SQLite database, applying migrations
func getDatabase(ctx context.Context) (*persistence.SQLiteDB, error) {
	dbCfg := config.GetDatabase()
	if dbCfg.Path == "" {
		return nil, fmt.Errorf("database path not configured. Set database.path in .dora.yaml or DORA_DB_PATH")
	}
	db, err := persistence.Open(ctx, dbCfg.Path, dbCfg.BusyTimeoutDuration())
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbCfg.Path, err)
	}
	return db, nil
}

// newLLMClient builds the Gemini client from the ai.gemini config section
func newLLMClient(ctx context.Context) (*llm.Client, error) {
	cfg := config.Get()
	timeout, err := time.ParseDuration(cfg.AI.Gemini.Timeout)
	if err != nil {
		timeout = 60 * time.Second
	}
	return llm.NewClient(ctx, llm.Options{
		APIKey:              cfg.AI.Gemini.APIKey,
		Model:               cfg.AI.Gemini.Model,
		EmbeddingModel:      cfg.AI.Gemini.EmbeddingModel,
		EmbeddingDimensions: cfg.AI.Gemini.EmbeddingDimensions,
		Temperature:         cfg.AI.Gemini.Temperature,
		GroupingTemperature: cfg.Grouping.Temperature,
		Timeout:             timeout,
	})
}

// newPipeline wires the database and optional LLM client into a pipeline
func newPipeline(db persistence.Database, client *llm.Client, outputDir string, noReport bool) (*pipeline.Pipeline, error) {
	b := pipeline.NewBuilder().
		WithAppConfig(config.Get()).
		WithDatabase(db).
		WithLLMClient(client)
	if outputDir != "" {
		b = b.WithOutputDir(outputDir)
	}
	if noReport {
		b = b.WithoutReports()
	}
	return b.Build()
}

// finishStage turns recoverable stage outcomes into a notice
func finishStage(err error) error {
	if err == nil {
		return nil
	}
	if pipeline.IsRecoverable(err) {
		fmt.Printf("ℹ️  %v\n", err)
		return nil
	}
	return err
}
