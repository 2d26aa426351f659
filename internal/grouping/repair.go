// Package grouping turns an advisory LLM grouping into a partition of the
// clusters of one scope and renders the grouping report.
package grouping

import (
	"fmt"
	"sort"

	"dora/internal/core"
	"dora/internal/llm"
)

// Duplicate records a cluster id claimed by more than one group.
type Duplicate struct {
	ClusterID int64
	KeptIn    string
	DroppedIn string
}

// Repairs lists what Repair changed in the proposal.
type Repairs struct {
	Duplicates   []Duplicate
	Unknown      []int64  // ids not in scope, dropped
	Missing      []int64  // ids given a singleton group
	EmptyDropped []string // groups left without clusters
}

// Changed reports whether the proposal needed any repair.
func (r Repairs) Changed() bool {
	return len(r.Duplicates) > 0 || len(r.Unknown) > 0 || len(r.Missing) > 0 || len(r.EmptyDropped) > 0
}

// Briefs describes clusters for the grouper, unlabeled ones by fallback.
func Briefs(clusters []core.Cluster) []llm.ClusterBrief {
	briefs := make([]llm.ClusterBrief, len(clusters))
	for i, c := range clusters {
		briefs[i] = llm.ClusterBrief{
			ID:      c.ID,
			Label:   c.DisplayLabel(),
			Summary: c.DisplaySummary(),
			Size:    c.Size,
		}
	}
	return briefs
}

// Repair turns a proposed grouping into a partition of clusters:
//  1. a cluster id claimed by several groups stays only in the first one
//     (model output order);
//  2. ids that are not clusters of the scope are dropped;
//  3. groups left empty are dropped;
//  4. every cluster no group claims gets a singleton group named after its
//     own label and summary, appended in ascending id order.
//
// The result covers every cluster exactly once.
func Repair(proposed llm.Grouping, clusters []core.Cluster) ([]core.ClusterGroup, Repairs) {
	var repairs Repairs

	byID := make(map[int64]core.Cluster, len(clusters))
	for _, c := range clusters {
		byID[c.ID] = c
	}

	owner := make(map[int64]string, len(clusters))
	groups := make([]core.ClusterGroup, 0, len(proposed.Groups))
	for _, pg := range proposed.Groups {
		group := core.ClusterGroup{Name: pg.Name, Description: pg.Description}
		for _, id := range pg.ClusterIDs {
			if _, ok := byID[id]; !ok {
				repairs.Unknown = append(repairs.Unknown, id)
				continue
			}
			if first, taken := owner[id]; taken {
				repairs.Duplicates = append(repairs.Duplicates, Duplicate{ClusterID: id, KeptIn: first, DroppedIn: pg.Name})
				continue
			}
			owner[id] = pg.Name
			group.ClusterIDs = append(group.ClusterIDs, id)
		}
		if len(group.ClusterIDs) == 0 {
			repairs.EmptyDropped = append(repairs.EmptyDropped, pg.Name)
			continue
		}
		groups = append(groups, group)
	}

	ids := make([]int64, 0, len(clusters))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if _, ok := owner[id]; ok {
			continue
		}
		c := byID[id]
		repairs.Missing = append(repairs.Missing, id)
		groups = append(groups, core.ClusterGroup{
			Name:        c.DisplayLabel(),
			Description: c.DisplaySummary(),
			ClusterIDs:  []int64{id},
		})
	}
	return groups, repairs
}

// Verify checks that groups partition exactly the given cluster ids.
func Verify(groups []core.ClusterGroup, clusterIDs []int64) error {
	seen := make(map[int64]string, len(clusterIDs))
	inScope := make(map[int64]bool, len(clusterIDs))
	for _, id := range clusterIDs {
		inScope[id] = true
	}

	for _, g := range groups {
		for _, id := range g.ClusterIDs {
			if !inScope[id] {
				return fmt.Errorf("group %q contains cluster %d which is not in scope", g.Name, id)
			}
			if prev, dup := seen[id]; dup {
				return fmt.Errorf("cluster %d is in both %q and %q", id, prev, g.Name)
			}
			seen[id] = g.Name
		}
	}
	for _, id := range clusterIDs {
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("cluster %d is not in any group", id)
		}
	}
	return nil
}
