// Package pipeline runs the clustering stages over one scope at a time:
// embed, reduce, cluster, label and group. Stages are single-threaded and
// take the database explicitly; each one commits its own writes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"dora/internal/clustering"
	"dora/internal/core"
	"dora/internal/persistence"
	"dora/internal/reduction"
)

// Pipeline coordinates the stages against one database
type Pipeline struct {
	db       persistence.Database
	labeler  Labeler
	grouper  Grouper
	embedder Embedder

	out    io.Writer
	config *Config
}

// Config holds pipeline configuration
type Config struct {
	HDBSCAN   clustering.HDBSCANConfig
	Reduction reduction.Config

	// Labeling settings
	NearestK int

	// Grouping settings
	MinGroups int
	MaxGroups int

	// Output settings
	OutputDir    string
	WriteReports bool
}

// DefaultConfig returns the stage defaults
func DefaultConfig() *Config {
	return &Config{
		HDBSCAN:      clustering.DefaultHDBSCANConfig(),
		Reduction:    reduction.DefaultConfig(),
		NearestK:     clustering.DefaultNearestK,
		MinGroups:    3,
		MaxGroups:    7,
		OutputDir:    "reports",
		WriteReports: true,
	}
}

// NewPipeline creates a pipeline. Model-backed collaborators may be nil for
// stages that do not need them.
func NewPipeline(db persistence.Database, labeler Labeler, grouper Grouper, embedder Embedder, config *Config) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pipeline{
		db:       db,
		labeler:  labeler,
		grouper:  grouper,
		embedder: embedder,
		out:      os.Stdout,
		config:   config,
	}
}

// SetOutput redirects progress lines.
func (p *Pipeline) SetOutput(w io.Writer) {
	p.out = w
}

func (p *Pipeline) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

// requireCompany fails with persistence.ErrCompanyNotFound before any state is touched.
func (p *Pipeline) requireCompany(ctx context.Context, name string) error {
	if _, err := p.db.Companies().GetByName(ctx, name); err != nil {
		return err
	}
	return nil
}

// itemsByID indexes the company's items of a kind.
func (p *Pipeline) itemsByID(ctx context.Context, company string, kind core.ItemKind) (map[int64]core.Item, error) {
	items, err := p.db.Items().ListByCompany(ctx, company, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	byID := make(map[int64]core.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	return byID, nil
}

// IsRecoverable reports whether err should be shown as a notice rather
// than a failure: nothing to do, or an unknown company.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrNothingToDo) || errors.Is(err, persistence.ErrCompanyNotFound)
}
