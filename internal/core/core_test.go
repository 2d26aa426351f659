package core

import (
	"errors"
	"testing"
)

func TestParseItemKind(t *testing.T) {
	tests := []struct {
		in   string
		want ItemKind
	}{
		{"complaints", KindComplaints},
		{"complaint", KindComplaints},
		{"use-case", KindUseCases},
		{"use_cases", KindUseCases},
		{"Value_Drivers", KindValueDrivers},
		{" insights ", KindInsights},
	}
	for _, tt := range tests {
		got, err := ParseItemKind(tt.in)
		if err != nil {
			t.Fatalf("ParseItemKind(%q) returned error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseItemKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := ParseItemKind("aha_moments"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestEmbeddingTables(t *testing.T) {
	want := map[ItemKind]string{
		KindComplaints:   "complaint_embeddings",
		KindUseCases:     "use_case_embeddings",
		KindValueDrivers: "value_driver_embeddings",
		KindInsights:     "insight_embeddings",
	}
	for _, k := range AllItemKinds() {
		if got := k.EmbeddingTable(); got != want[k] {
			t.Errorf("%s.EmbeddingTable() = %q, want %q", k, got, want[k])
		}
	}
	if ItemKind("bogus").Valid() {
		t.Error("bogus kind should not be valid")
	}
}

func TestParseSourceTable(t *testing.T) {
	tests := []struct {
		table string
		want  SourceKind
	}{
		{"reviews", SourceReview},
		{"reddit_content", SourceRedditContent},
		{"youtube_videos", SourceYouTubeVideo},
	}
	for _, tt := range tests {
		got, err := ParseSourceTable(tt.table)
		if err != nil {
			t.Fatalf("ParseSourceTable(%q): %v", tt.table, err)
		}
		if got != tt.want {
			t.Errorf("ParseSourceTable(%q) = %q, want %q", tt.table, got, tt.want)
		}
		if got.Table() != tt.table {
			t.Errorf("%q.Table() = %q, want %q", got, got.Table(), tt.table)
		}
	}

	if _, err := ParseSourceTable("tweets"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}
}

func TestScopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		scope   Scope
		wantErr bool
	}{
		{"original", NewScope("Wispr", KindComplaints, 1536), false},
		{"reduced", NewScope("Wispr", KindUseCases, 5), false},
		{"empty company", NewScope("  ", KindComplaints, 1536), true},
		{"bad kind", NewScope("Wispr", ItemKind("nope"), 1536), true},
		{"zero dims", NewScope("Wispr", KindComplaints, 0), true},
		{"type mismatch", Scope{Company: "Wispr", Kind: KindComplaints, EmbeddingType: EmbeddingOriginal, Dimensions: 20}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scope.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidScope) {
					t.Fatalf("expected ErrInvalidScope, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestScopeSlug(t *testing.T) {
	if got := NewScope("Wispr", KindComplaints, 1536).Slug(); got != "complaints_original" {
		t.Errorf("original slug = %q", got)
	}
	if got := NewScope("Wispr", KindUseCases, 20).Slug(); got != "use_cases_reduced_20d" {
		t.Errorf("reduced slug = %q", got)
	}
}

func TestClusterDisplayFallbacks(t *testing.T) {
	c := Cluster{ID: 42}
	if c.DisplayLabel() != "Cluster 42" {
		t.Errorf("DisplayLabel() = %q", c.DisplayLabel())
	}
	if c.DisplaySummary() != "No summary available" {
		t.Errorf("DisplaySummary() = %q", c.DisplaySummary())
	}

	label, summary := "Latency", "Dictation lags behind speech."
	c.Label, c.Summary = &label, &summary
	if !c.IsLabeled() || c.DisplayLabel() != label || c.DisplaySummary() != summary {
		t.Errorf("labeled cluster rendered as %q / %q", c.DisplayLabel(), c.DisplaySummary())
	}
}

func TestDeriveState(t *testing.T) {
	tests := []struct {
		clusters, labeled, groups int
		want                      ScopeState
	}{
		{0, 0, 0, StateUnclustered},
		{3, 1, 0, StateClustered},
		{3, 3, 0, StateLabeled},
		{3, 3, 2, StateGrouped},
	}
	for _, tt := range tests {
		if got := DeriveState(tt.clusters, tt.labeled, tt.groups); got != tt.want {
			t.Errorf("DeriveState(%d, %d, %d) = %s, want %s", tt.clusters, tt.labeled, tt.groups, got, tt.want)
		}
	}
}

func TestScopeStateText(t *testing.T) {
	for _, st := range []ScopeState{StateUnclustered, StateClustered, StateLabeled, StateGrouped} {
		text, _ := st.MarshalText()
		var back ScopeState
		if err := back.UnmarshalText(text); err != nil || back != st {
			t.Errorf("%s did not survive a text round trip: %v", st, err)
		}
	}
	var s ScopeState
	if err := s.UnmarshalText([]byte("archived")); err == nil {
		t.Error("expected error for unknown state")
	}
}
