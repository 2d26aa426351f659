// Package persistence provides the SQLite-backed embedding store: items,
// embeddings, clusters, memberships, cluster groups and their assignments.
package persistence

import (
	"context"
	"errors"

	"dora/internal/core"
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCompanyNotFound is returned when a company name has no row.
	ErrCompanyNotFound = errors.New("company not found")
	// ErrDuplicateEmbedding is returned when an (item, dimensions) pair already has a vector.
	ErrDuplicateEmbedding = errors.New("embedding already exists")
)

// CompanyRepository handles company persistence operations
type CompanyRepository interface {
	// Create inserts a company and sets its ID
	Create(ctx context.Context, company *core.Company) error

	// GetByName retrieves a company by its unique name
	GetByName(ctx context.Context, name string) (*core.Company, error)

	// List returns every company ordered by name
	List(ctx context.Context) ([]core.Company, error)
}

// SourceRepository resolves polymorphic source references, one table per variant
type SourceRepository interface {
	// Create inserts a source document into the table of its variant
	Create(ctx context.Context, source *core.Source) error

	// Get looks a source document up by reference
	Get(ctx context.Context, ref core.SourceRef) (*core.Source, error)
}

// ItemRepository handles extracted item persistence operations
type ItemRepository interface {
	// Create inserts an item into the table of its kind and sets its ID
	Create(ctx context.Context, item *core.Item) error

	// ListByCompany returns every item of a kind whose source belongs to the company
	ListByCompany(ctx context.Context, company string, kind core.ItemKind) ([]core.Item, error)
}

// EmbeddingRepository handles embedding persistence operations
type EmbeddingRepository interface {
	// Create stores a vector; fails with ErrDuplicateEmbedding if one exists
	Create(ctx context.Context, embedding *core.Embedding, itemText string) error

	// ListForScope returns the company's embeddings of a kind at one dimensionality, ordered by item id
	ListForScope(ctx context.Context, company string, kind core.ItemKind, dimensions int) ([]core.Embedding, error)

	// CountForScope counts the company's embeddings of a kind at one dimensionality
	CountForScope(ctx context.Context, company string, kind core.ItemKind, dimensions int) (int, error)

	// DeleteForScope removes the company's embeddings of a kind at one dimensionality
	DeleteForScope(ctx context.Context, company string, kind core.ItemKind, dimensions int) (int64, error)

	// MissingItems returns the company's items that have no embedding at the dimensionality
	MissingItems(ctx context.Context, company string, kind core.ItemKind, dimensions int) ([]core.Item, error)
}

// Assignment is the clustering outcome for one item. Label is NoiseLabel for noise.
type Assignment struct {
	ItemID int64
	Label  int
}

// ClusterRepository handles cluster persistence operations
type ClusterRepository interface {
	// ListByScope returns the clusters of a scope ordered by id
	ListByScope(ctx context.Context, scope core.Scope, unlabeledOnly bool) ([]core.Cluster, error)

	// Get retrieves a cluster by ID
	Get(ctx context.Context, id int64) (*core.Cluster, error)

	// UpdateLabel overwrites label and summary of a cluster
	UpdateLabel(ctx context.Context, id int64, label, summary string) error

	// MemberEmbeddings returns the members of a cluster with their vectors at
	// the cluster's own dimensionality, ordered by item id
	MemberEmbeddings(ctx context.Context, id int64) ([]core.Member, error)

	// Members returns the items assigned to a cluster, ordered by item id
	Members(ctx context.Context, id int64) ([]core.Item, error)

	// ReplaceScope tears down every cluster of the scope and writes a fresh
	// partition. Returned clusters are ordered by ascending label.
	ReplaceScope(ctx context.Context, scope core.Scope, runID string, assignments []Assignment) ([]core.Cluster, error)
}

// GroupRepository handles cluster group persistence operations
type GroupRepository interface {
	// ListByScope returns the groups of a scope ordered by id, with member cluster ids
	ListByScope(ctx context.Context, scope core.Scope) ([]core.ClusterGroup, error)

	// ReplaceScope deletes the scope's groups and assignments and inserts new ones
	ReplaceScope(ctx context.Context, scope core.Scope, groups []core.ClusterGroup) ([]core.ClusterGroup, error)
}

// ScopeStatus summarises the stored state of one scope
type ScopeStatus struct {
	Scope      core.Scope      `json:"scope"`
	State      core.ScopeState `json:"state"`
	Embeddings int             `json:"embeddings"`
	Clusters   int             `json:"clusters"`
	Labeled    int             `json:"labeled"`
	Clustered  int             `json:"clustered_items"`
	Noise      int             `json:"noise_items"`
	Groups     int             `json:"groups"`
}

// Database is the main database interface that aggregates all repositories
type Database interface {
	Companies() CompanyRepository
	Sources() SourceRepository
	Items() ItemRepository
	Embeddings() EmbeddingRepository
	Clusters() ClusterRepository
	Groups() GroupRepository

	// ResetScope moves a scope back to the given state in one transaction
	ResetScope(ctx context.Context, scope core.Scope, to core.ScopeState) error

	// ScopeStatus returns counts and the derived state of a scope
	ScopeStatus(ctx context.Context, scope core.Scope) (*ScopeStatus, error)

	// ListScopes returns every scope that has cluster or membership rows
	ListScopes(ctx context.Context) ([]core.Scope, error)

	// Close closes the database connection
	Close() error

	// Ping verifies the database connection
	Ping(ctx context.Context) error

	// BeginTx starts a new transaction
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error

	Companies() CompanyRepository
	Sources() SourceRepository
	Items() ItemRepository
	Embeddings() EmbeddingRepository
	Clusters() ClusterRepository
	Groups() GroupRepository

	// ResetScope moves a scope back to the given state inside this transaction
	ResetScope(ctx context.Context, scope core.Scope, to core.ScopeState) error
}
