// Package dashboard assembles the read-only dashboard payload: for each scope,
// its groups, their clusters and a few sample items per cluster.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"dora/internal/core"
	"dora/internal/persistence"
)

// DefaultSamples is how many items are shown per cluster
const DefaultSamples = 5

// Sample is one member item shown under a cluster
type Sample struct {
	ItemID int64  `json:"item_id"`
	Text   string `json:"text"`
	Quote  string `json:"quote,omitempty"`
	Source string `json:"source"`
}

// Cluster is a labeled cluster with sample items
type Cluster struct {
	ClusterID int64    `json:"cluster_id"`
	Label     string   `json:"label"`
	Summary   string   `json:"summary"`
	Size      int      `json:"size"`
	Samples   []Sample `json:"samples"`
}

// Group is a semantic group with its clusters, largest first
type Group struct {
	GroupID     int64     `json:"group_id"`
	Name        string    `json:"group_name"`
	Description string    `json:"group_description"`
	TotalItems  int       `json:"total_items"`
	Clusters    []Cluster `json:"clusters"`
}

// ScopeData is the dashboard view of one scope
type ScopeData struct {
	Scope           core.Scope     `json:"scope"`
	State           string         `json:"state"`
	TotalItems      int            `json:"total_items"`
	NoiseItems      int            `json:"noise_items"`
	Groups          []Group        `json:"semantic_groups"`
	Ungrouped       []Cluster      `json:"ungrouped_clusters"`
	SourceBreakdown map[string]int `json:"source_breakdown"`
}

// Payload is the exported dashboard document
type Payload struct {
	Company     string      `json:"company_name,omitempty"`
	GeneratedAt time.Time   `json:"generated_at"`
	Scopes      []ScopeData `json:"scopes"`
}

// Options controls what Export covers
type Options struct {
	Company string // empty means every company
	Samples int    // per cluster, DefaultSamples when zero
}

// Build assembles the dashboard view of one scope. Clusters not assigned to
// any group are listed under Ungrouped. The source breakdown counts every
// member, not only the samples.
func Build(ctx context.Context, db persistence.Database, scope core.Scope, samples int) (*ScopeData, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if samples <= 0 {
		samples = DefaultSamples
	}

	status, err := db.ScopeStatus(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to read scope status: %w", err)
	}
	clusters, err := db.Clusters().ListByScope(ctx, scope, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	groups, err := db.Groups().ListByScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	data := &ScopeData{
		Scope:           scope,
		State:           status.State.String(),
		TotalItems:      status.Clustered + status.Noise,
		NoiseItems:      status.Noise,
		Groups:          []Group{},
		Ungrouped:       []Cluster{},
		SourceBreakdown: make(map[string]int),
	}

	views := make(map[int64]Cluster, len(clusters))
	for _, c := range clusters {
		members, err := db.Clusters().Members(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list members of cluster %d: %w", c.ID, err)
		}
		view := Cluster{
			ClusterID: c.ID,
			Label:     c.DisplayLabel(),
			Summary:   c.DisplaySummary(),
			Size:      c.Size,
			Samples:   make([]Sample, 0, samples),
		}
		for i, m := range members {
			data.SourceBreakdown[string(m.Source.Kind)]++
			if i < samples {
				view.Samples = append(view.Samples, Sample{ItemID: m.ID, Text: m.Text, Quote: m.Quote, Source: m.Source.String()})
			}
		}
		views[c.ID] = view
	}

	grouped := make(map[int64]bool)
	for _, g := range groups {
		group := Group{GroupID: g.ID, Name: g.Name, Description: g.Description, Clusters: []Cluster{}}
		for _, id := range g.ClusterIDs {
			view, ok := views[id]
			if !ok {
				continue
			}
			grouped[id] = true
			group.Clusters = append(group.Clusters, view)
			group.TotalItems += view.Size
		}
		sortBySize(group.Clusters)
		data.Groups = append(data.Groups, group)
	}
	for _, c := range clusters {
		if !grouped[c.ID] {
			data.Ungrouped = append(data.Ungrouped, views[c.ID])
		}
	}
	sortBySize(data.Ungrouped)
	return data, nil
}

func sortBySize(clusters []Cluster) {
	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Size > clusters[j].Size
	})
}

// Export builds the payload for every stored scope, or only the scopes of
// one company.
func Export(ctx context.Context, db persistence.Database, opts Options) (*Payload, error) {
	scopes, err := db.ListScopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}

	payload := &Payload{Company: opts.Company, GeneratedAt: time.Now().UTC(), Scopes: []ScopeData{}}
	for _, scope := range scopes {
		if opts.Company != "" && scope.Company != opts.Company {
			continue
		}
		data, err := Build(ctx, db, scope, opts.Samples)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s: %w", scope, err)
		}
		payload.Scopes = append(payload.Scopes, *data)
	}
	return payload, nil
}

// WriteFile writes the payload as indented JSON, creating parent directories.
func WriteFile(payload *Payload, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode dashboard data: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write dashboard data: %w", err)
	}
	return nil
}
