// Package core defines the domain types shared by every stage of the
// insight clustering pipeline: items, embeddings, clusters, groups and the
// scope tuple that ties them together.
package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownKind is returned when an item kind name is not recognised.
	ErrUnknownKind = errors.New("unknown item kind")
	// ErrUnknownSource is returned when a source table name is not recognised.
	ErrUnknownSource = errors.New("unknown source table")
	// ErrInvalidScope is returned by Scope.Validate.
	ErrInvalidScope = errors.New("invalid scope")
)

// OriginalDimensions is the dimensionality produced by the embedding provider.
const OriginalDimensions = 1536

// NoiseLabel is the cluster label HDBSCAN assigns to points outside every dense region.
const NoiseLabel = -1

// ItemKind identifies one family of extracted items. Each kind owns an item
// table and an embedding table.
type ItemKind string

const (
	KindComplaints   ItemKind = "complaints"
	KindUseCases     ItemKind = "use_cases"
	KindValueDrivers ItemKind = "value_drivers"
	KindInsights     ItemKind = "insights"
)

// AllItemKinds returns every supported kind in a stable order.
func AllItemKinds() []ItemKind {
	return []ItemKind{KindComplaints, KindUseCases, KindValueDrivers, KindInsights}
}

// ParseItemKind accepts the table name ("use_cases") or its hyphenated /
// singular CLI spelling ("use-case").
func ParseItemKind(s string) (ItemKind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch normalized {
	case "complaints", "complaint":
		return KindComplaints, nil
	case "use_cases", "use_case":
		return KindUseCases, nil
	case "value_drivers", "value_driver":
		return KindValueDrivers, nil
	case "insights", "insight":
		return KindInsights, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// ItemTable returns the table holding items of this kind.
func (k ItemKind) ItemTable() string {
	return string(k)
}

// EmbeddingTable returns the table holding embeddings of this kind.
func (k ItemKind) EmbeddingTable() string {
	switch k {
	case KindComplaints:
		return "complaint_embeddings"
	case KindUseCases:
		return "use_case_embeddings"
	case KindValueDrivers:
		return "value_driver_embeddings"
	case KindInsights:
		return "insight_embeddings"
	}
	return ""
}

// Singular returns a human readable singular noun, used in reports.
func (k ItemKind) Singular() string {
	return strings.ReplaceAll(strings.TrimSuffix(string(k), "s"), "_", " ")
}

func (k ItemKind) Valid() bool {
	return k.EmbeddingTable() != ""
}

// SourceKind is the variant tag of a SourceRef.
type SourceKind string

const (
	SourceReview        SourceKind = "review"
	SourceRedditContent SourceKind = "reddit_content"
	SourceYouTubeVideo  SourceKind = "youtube_video"
)

// ParseSourceTable maps a stored source table name to its variant.
func ParseSourceTable(table string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(table)) {
	case "reviews", "review":
		return SourceReview, nil
	case "reddit_content":
		return SourceRedditContent, nil
	case "youtube_videos", "youtube_video":
		return SourceYouTubeVideo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSource, table)
}

// Table returns the table that stores documents of this kind.
func (s SourceKind) Table() string {
	switch s {
	case SourceReview:
		return "reviews"
	case SourceRedditContent:
		return "reddit_content"
	case SourceYouTubeVideo:
		return "youtube_videos"
	}
	return ""
}

// SourceRef points at the document an item was extracted from.
type SourceRef struct {
	Kind SourceKind `json:"kind"`
	ID   string     `json:"id"`
}

func (r SourceRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// Source is a resolved source document.
type Source struct {
	Ref       SourceRef `json:"ref"`
	CompanyID int64     `json:"company_id"`
	Title     string    `json:"title,omitempty"`
	Text      string    `json:"text"`
}

// Company owns source documents.
type Company struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Item is one extracted unit of text (a complaint, a use case, ...).
type Item struct {
	ID          int64     `json:"id"`
	Kind        ItemKind  `json:"kind"`
	Text        string    `json:"text"`
	Quote       string    `json:"quote,omitempty"`
	Source      SourceRef `json:"source"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Embedding is a vector for one item at one dimensionality.
type Embedding struct {
	ItemID     int64     `json:"item_id"`
	Kind       ItemKind  `json:"kind"`
	Dimensions int       `json:"dimensions"`
	Vector     []float64 `json:"vector"`
	CreatedAt  time.Time `json:"created_at"`
}

// EmbeddingType distinguishes source vectors from reduced ones.
type EmbeddingType string

const (
	EmbeddingOriginal EmbeddingType = "original"
	EmbeddingReduced  EmbeddingType = "reduced"
)

// EmbeddingTypeFor derives the embedding type from a dimensionality.
func EmbeddingTypeFor(dimensions int) EmbeddingType {
	if dimensions == OriginalDimensions {
		return EmbeddingOriginal
	}
	return EmbeddingReduced
}

// Scope is the configuration tuple every cluster and group belongs to.
type Scope struct {
	Company       string        `json:"company"`
	Kind          ItemKind      `json:"kind"`
	EmbeddingType EmbeddingType `json:"embedding_type"`
	Dimensions    int           `json:"dimensions"`
}

// NewScope builds a scope whose embedding type is derived from dims.
func NewScope(company string, kind ItemKind, dims int) Scope {
	return Scope{
		Company:       company,
		Kind:          kind,
		EmbeddingType: EmbeddingTypeFor(dims),
		Dimensions:    dims,
	}
}

// Validate reports whether the scope can address stored data.
func (s Scope) Validate() error {
	if strings.TrimSpace(s.Company) == "" {
		return fmt.Errorf("%w: company is required", ErrInvalidScope)
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidScope, fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind))
	}
	if s.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive, got %d", ErrInvalidScope, s.Dimensions)
	}
	if s.EmbeddingType != EmbeddingTypeFor(s.Dimensions) {
		return fmt.Errorf("%w: embedding type %q does not match %d dimensions", ErrInvalidScope, s.EmbeddingType, s.Dimensions)
	}
	return nil
}

// Slug is used to name report files: <kind>_<type>[_<dims>d].
func (s Scope) Slug() string {
	if s.EmbeddingType == EmbeddingReduced {
		return fmt.Sprintf("%s_%s_%dd", s.Kind, s.EmbeddingType, s.Dimensions)
	}
	return fmt.Sprintf("%s_%s", s.Kind, s.EmbeddingType)
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%s/%s/%d", s.Company, s.Kind, s.EmbeddingType, s.Dimensions)
}

// Cluster is one dense region discovered by a clustering run.
type Cluster struct {
	ID        int64     `json:"id"`
	Scope     Scope     `json:"scope"`
	RunID     string    `json:"run_id"`
	Label     *string   `json:"label"`
	Summary   *string   `json:"summary"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// IsLabeled reports whether the labeler has filled in the cluster label.
func (c Cluster) IsLabeled() bool {
	return c.Label != nil && *c.Label != ""
}

// DisplayLabel returns the label or the "Cluster <id>" fallback.
func (c Cluster) DisplayLabel() string {
	if c.IsLabeled() {
		return *c.Label
	}
	return fmt.Sprintf("Cluster %d", c.ID)
}

// DisplaySummary returns the summary or a fallback sentence.
func (c Cluster) DisplaySummary() string {
	if c.Summary != nil && *c.Summary != "" {
		return *c.Summary
	}
	return "No summary available"
}

// ClusterGroup is a thematic super-category over clusters of one scope.
type ClusterGroup struct {
	ID          int64     `json:"id"`
	Scope       Scope     `json:"scope"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ClusterIDs  []int64   `json:"cluster_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// Member is an item of a cluster together with its vector at the cluster's
// own dimensionality.
type Member struct {
	ItemID int64     `json:"item_id"`
	Text   string    `json:"text"`
	Vector []float64 `json:"-"`
}

// ScopeState is the lifecycle position of a scope.
type ScopeState int

const (
	StateUnclustered ScopeState = iota
	StateClustered
	StateLabeled
	StateGrouped
)

func (s ScopeState) String() string {
	switch s {
	case StateUnclustered:
		return "unclustered"
	case StateClustered:
		return "clustered"
	case StateLabeled:
		return "labeled"
	case StateGrouped:
		return "grouped"
	}
	return fmt.Sprintf("ScopeState(%d)", int(s))
}

func (s ScopeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ScopeState) UnmarshalText(text []byte) error {
	for _, st := range []ScopeState{StateUnclustered, StateClustered, StateLabeled, StateGrouped} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown scope state %q", text)
}

// DeriveState computes the state of a scope from its row counts.
// A scope is Labeled only when every cluster has a label.
func DeriveState(clusters, labeled, groups int) ScopeState {
	switch {
	case clusters == 0:
		return StateUnclustered
	case groups > 0:
		return StateGrouped
	case labeled == clusters:
		return StateLabeled
	default:
		return StateClustered
	}
}
