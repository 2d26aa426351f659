package handlers

import (
	"fmt"

	"github.com/spf13/cobra"

	"dora/internal/core"
	"dora/internal/pipeline"
)

// NewEmbedCmd creates the embed command
func NewEmbedCmd() *cobra.Command {
	var (
		flags scopeFlags
		limit int
	)

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Generate source embeddings for items that have none",
		Long: `Generate 1536-dimensional embeddings for every item of a company and type
that does not have one yet. Items whose text repeats an earlier item are
skipped. Each embedding is saved as soon as it arrives, so an interrupted run
can simply be started again.

Examples:
  dora embed --company wispr --type complaints
  dora embed --company wispr --type use-cases --limit 100
  dora embed --company wispr --type insights --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind, err := flags.itemKind()
			if err != nil {
				return err
			}

			db, err := getDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			client, err := newLLMClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			p, err := newPipeline(db, client, "", true)
			if err != nil {
				return err
			}
			_, err = p.Embed(ctx, pipeline.EmbedOptions{Company: flags.company, Kind: kind, Force: flags.force, Limit: limit})
			return finishStage(err)
		},
	}

	flags.bind(cmd, core.OriginalDimensions, "Delete existing embeddings and regenerate all")
	cmd.Flags().IntVar(&limit, "limit", 0, "Embed at most this many items (0 = all)")
	return cmd
}

// NewReduceCmd creates the reduce command
func NewReduceCmd() *cobra.Command {
	var flags scopeFlags

	cmd := &cobra.Command{
		Use:   "reduce",
		Short: "Project source embeddings to fewer dimensions with UMAP",
		Long: `Fit UMAP (cosine metric) over the 1536-dimensional embeddings of a company
and type and store one reduced vector per item. The input is always the
source embeddings. When every item already has a reduced vector at the
requested dimensionality the command does nothing unless --force is given.

Examples:
  dora reduce --company wispr --type complaints --dimensions 5
  dora reduce --company wispr --type insights --dimensions 20 --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind, err := flags.itemKind()
			if err != nil {
				return err
			}

			db, err := getDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			p, err := newPipeline(db, nil, "", true)
			if err != nil {
				return err
			}
			_, err = p.Reduce(ctx, pipeline.ReduceOptions{
				Company:    flags.company,
				Kind:       kind,
				Components: flags.dimensions,
				Force:      flags.force,
			})
			return finishStage(err)
		},
	}

	flags.bind(cmd, 5, "Regenerate reduced embeddings that already exist")
	return cmd
}

// NewClusterCmd creates the cluster command
func NewClusterCmd() *cobra.Command {
	var (
		flags     scopeFlags
		outputDir string
		noReport  bool
	)

	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster a scope's embeddings with HDBSCAN",
		Long: `Run HDBSCAN over the embeddings of one scope and replace every cluster,
membership and group of that scope with the new result. Items outside every
dense region are stored as noise. A text report is written to the output
directory.

Examples:
  dora cluster --company wispr --type complaints --dimensions 5
  dora cluster --company wispr --type use_cases --dimensions 1536 --no-report`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scope, err := flags.scope()
			if err != nil {
				return err
			}

			db, err := getDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			p, err := newPipeline(db, nil, outputDir, noReport)
			if err != nil {
				return err
			}
			result, err := p.Cluster(ctx, pipeline.ClusterOptions{Scope: scope})
			if err != nil {
				return finishStage(err)
			}
			if len(result.Clusters) > 1 {
				fmt.Printf("📈 Silhouette score: %.3f\n", result.Silhouette)
			}
			return nil
		},
	}

	flags.bind(cmd, 5, "")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Report directory (default from config)")
	cmd.Flags().BoolVar(&noReport, "no-report", false, "Do not write a report file")
	return cmd
}

// NewLabelCmd creates the label command
func NewLabelCmd() *cobra.Command {
	var flags scopeFlags

	cmd := &cobra.Command{
		Use:   "label",
		Short: "Name each cluster from its most central items",
		Long: `Ask the model for a short label and a one-sentence summary of every
unlabeled cluster in a scope. Only the texts of the items nearest each
cluster centroid are sent. A failure on one cluster is logged and the
remaining clusters are still labeled.

Examples:
  dora label --company wispr --type complaints --dimensions 5
  dora label --company wispr --type complaints --dimensions 5 --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scope, err := flags.scope()
			if err != nil {
				return err
			}

			db, err := getDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			client, err := newLLMClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			p, err := newPipeline(db, client, "", true)
			if err != nil {
				return err
			}
			result, err := p.Label(ctx, pipeline.LabelOptions{Scope: scope, Force: flags.force})
			if err != nil {
				return finishStage(err)
			}
			if result.Failed > 0 {
				fmt.Printf("⚠️  %d clusters could not be labeled; run the command again to retry them\n", result.Failed)
			}
			return nil
		},
	}

	flags.bind(cmd, 5, "Relabel clusters that already have a label")
	return cmd
}

// NewGroupCmd creates the group command
func NewGroupCmd() *cobra.Command {
	var (
		flags     scopeFlags
		outputDir string
		noReport  bool
	)

	cmd := &cobra.Command{
		Use:   "group",
		Short: "Organise a scope's clusters into semantic groups",
		Long: `Ask the model to organise every cluster of a scope into a handful of
thematic groups. The proposal is repaired so that each cluster belongs to
exactly one group: duplicates keep their first group, unknown ids are
dropped and unassigned clusters become groups of their own. Existing
groups of the scope are replaced.

Examples:
  dora group --company wispr --type complaints --dimensions 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scope, err := flags.scope()
			if err != nil {
				return err
			}

			db, err := getDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			client, err := newLLMClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			p, err := newPipeline(db, client, outputDir, noReport)
			if err != nil {
				return err
			}
			_, err = p.Group(ctx, pipeline.GroupOptions{Scope: scope})
			return finishStage(err)
		},
	}

	flags.bind(cmd, 5, "")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Report directory (default from config)")
	cmd.Flags().BoolVar(&noReport, "no-report", false, "Do not write a report file")
	return cmd
}
