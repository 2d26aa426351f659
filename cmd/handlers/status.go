package handlers

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"dora/internal/config"
	"dora/internal/dashboard"
	"dora/internal/persistence"
	"dora/internal/render"
)

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	var company string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of every clustered scope",
		Long: `List every scope that has been clustered with its state
(clustered, labeled or grouped) and row counts.

Examples:
  dora status
  dora status --company wispr`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := getDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			scopes, err := db.ListScopes(ctx)
			if err != nil {
				return fmt.Errorf("failed to list scopes: %w", err)
			}

			var statuses []persistence.ScopeStatus
			for _, scope := range scopes {
				if company != "" && scope.Company != company {
					continue
				}
				status, err := db.ScopeStatus(ctx, scope)
				if err != nil {
					return fmt.Errorf("failed to read status of %s: %w", scope, err)
				}
				statuses = append(statuses, *status)
			}

			fmt.Println(render.Title("📊 Scope status"))
			fmt.Println(render.StatusTable(statuses))
			return nil
		},
	}

	cmd.Flags().StringVar(&company, "company", "", "Only show scopes of this company")
	return cmd
}

// NewExportCmd creates the export command
func NewExportCmd() *cobra.Command {
	var (
		company string
		output  string
		samples int
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the dashboard data as JSON",
		Long: `Export groups, their clusters and sample items of every scope (or of one
company) to a JSON file for the dashboard.

Examples:
  dora export
  dora export --company wispr --output site/dashboard_data.json --samples 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := getDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if output == "" {
				output = filepath.Join(config.GetOutputDir(), "dashboard_data.json")
			}

			fmt.Println("📊 Generating dashboard data...")
			payload, err := dashboard.Export(ctx, db, dashboard.Options{Company: company, Samples: samples})
			if err != nil {
				return err
			}
			if err := dashboard.WriteFile(payload, output); err != nil {
				return err
			}

			groups := 0
			for _, s := range payload.Scopes {
				groups += len(s.Groups)
			}
			fmt.Printf("💾 Dashboard data saved to: %s\n", output)
			fmt.Printf("   Scopes: %d | Groups: %d\n", len(payload.Scopes), groups)
			return nil
		},
	}

	cmd.Flags().StringVar(&company, "company", "", "Only export scopes of this company")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default <output dir>/dashboard_data.json)")
	cmd.Flags().IntVar(&samples, "samples", dashboard.DefaultSamples, "Sample items per cluster")
	return cmd
}
