package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"dora/internal/core"

	"github.com/mattn/go-sqlite3"
)

// companyItemIDs selects the ids of a kind's items whose source document
// belongs to the company named by the single bind parameter.
func companyItemIDs(kind core.ItemKind) string {
	return fmt.Sprintf(`
		SELECT i.id FROM %s i
		JOIN companies c ON c.name = ?
		WHERE (i.source_table = 'reviews' AND EXISTS (
				SELECT 1 FROM reviews s WHERE s.review_id = i.source_id AND s.company_id = c.id))
		   OR (i.source_table = 'reddit_content' AND EXISTS (
				SELECT 1 FROM reddit_content s WHERE s.id = i.source_id AND s.company_id = c.id))
		   OR (i.source_table = 'youtube_videos' AND EXISTS (
				SELECT 1 FROM youtube_videos s WHERE s.video_id = i.source_id AND s.company_id = c.id))`,
		kind.ItemTable())
}

const scopeWhere = `company_name = ? AND kind = ? AND embedding_type = ? AND dimensions = ?`

func scopeArgs(scope core.Scope) []interface{} {
	return []interface{}{scope.Company, string(scope.Kind), string(scope.EmbeddingType), scope.Dimensions}
}

func checkKind(kind core.ItemKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnknownKind, kind)
	}
	return nil
}

// sqliteCompanyRepo implements CompanyRepository for SQLite
type sqliteCompanyRepo struct {
	conn
}

func (r *sqliteCompanyRepo) Create(ctx context.Context, company *core.Company) error {
	res, err := r.query().ExecContext(ctx, `INSERT INTO companies (name) VALUES (?)`, company.Name)
	if err != nil {
		return fmt.Errorf("failed to create company %q: %w", company.Name, err)
	}
	company.ID, err = res.LastInsertId()
	return err
}

func (r *sqliteCompanyRepo) GetByName(ctx context.Context, name string) (*core.Company, error) {
	var c core.Company
	err := r.query().QueryRowContext(ctx, `SELECT id, name FROM companies WHERE name = ?`, name).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrCompanyNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *sqliteCompanyRepo) List(ctx context.Context) ([]core.Company, error) {
	rows, err := r.query().QueryContext(ctx, `SELECT id, name FROM companies ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var companies []core.Company
	for rows.Next() {
		var c core.Company
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		companies = append(companies, c)
	}
	return companies, rows.Err()
}

// sqliteSourceRepo implements SourceRepository for SQLite
type sqliteSourceRepo struct {
	conn
}

func (r *sqliteSourceRepo) Create(ctx context.Context, source *core.Source) error {
	var err error
	switch source.Ref.Kind {
	case core.SourceReview:
		_, err = r.query().ExecContext(ctx,
			`INSERT INTO reviews (review_id, company_id, review_text, date) VALUES (?, ?, ?, ?)`,
			source.Ref.ID, source.CompanyID, source.Text, time.Now().UTC())
	case core.SourceRedditContent:
		_, err = r.query().ExecContext(ctx,
			`INSERT INTO reddit_content (id, company_id, title, body, created_at) VALUES (?, ?, ?, ?, ?)`,
			source.Ref.ID, source.CompanyID, source.Title, source.Text, time.Now().UTC())
	case core.SourceYouTubeVideo:
		_, err = r.query().ExecContext(ctx,
			`INSERT INTO youtube_videos (video_id, company_id, title, transcript, published_at) VALUES (?, ?, ?, ?, ?)`,
			source.Ref.ID, source.CompanyID, source.Title, source.Text, time.Now().UTC())
	default:
		return fmt.Errorf("%w: %q", core.ErrUnknownSource, source.Ref.Kind)
	}
	if err != nil {
		return fmt.Errorf("failed to create source %s: %w", source.Ref, err)
	}
	return nil
}

func (r *sqliteSourceRepo) Get(ctx context.Context, ref core.SourceRef) (*core.Source, error) {
	var query string
	switch ref.Kind {
	case core.SourceReview:
		query = `SELECT company_id, '', COALESCE(review_text, '') FROM reviews WHERE review_id = ?`
	case core.SourceRedditContent:
		query = `SELECT company_id, COALESCE(title, ''), COALESCE(body, '') FROM reddit_content WHERE id = ?`
	case core.SourceYouTubeVideo:
		query = `SELECT company_id, COALESCE(title, ''), COALESCE(transcript, '') FROM youtube_videos WHERE video_id = ?`
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownSource, ref.Kind)
	}

	source := core.Source{Ref: ref}
	err := r.query().QueryRowContext(ctx, query, ref.ID).Scan(&source.CompanyID, &source.Title, &source.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &source, nil
}

// sqliteItemRepo implements ItemRepository for SQLite
type sqliteItemRepo struct {
	conn
}

func (r *sqliteItemRepo) Create(ctx context.Context, item *core.Item) error {
	if err := checkKind(item.Kind); err != nil {
		return err
	}
	if item.Source.Kind.Table() == "" {
		return fmt.Errorf("%w: %q", core.ErrUnknownSource, item.Source.Kind)
	}
	if item.ExtractedAt.IsZero() {
		item.ExtractedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO %s (text, quote, source_table, source_id, extracted_at) VALUES (?, ?, ?, ?, ?)`, item.Kind.ItemTable())
	res, err := r.query().ExecContext(ctx, query, item.Text, item.Quote, item.Source.Kind.Table(), item.Source.ID, item.ExtractedAt)
	if err != nil {
		return fmt.Errorf("failed to create %s item: %w", item.Kind, err)
	}
	item.ID, err = res.LastInsertId()
	return err
}

func (r *sqliteItemRepo) ListByCompany(ctx context.Context, company string, kind core.ItemKind) ([]core.Item, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT id, text, quote, source_table, source_id, extracted_at FROM %s
		WHERE id IN (%s)
		ORDER BY id`, kind.ItemTable(), companyItemIDs(kind))
	rows, err := r.query().QueryContext(ctx, query, company)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows, kind)
}

func scanItems(rows *sql.Rows, kind core.ItemKind) ([]core.Item, error) {
	var items []core.Item
	for rows.Next() {
		item := core.Item{Kind: kind}
		var sourceTable string
		if err := rows.Scan(&item.ID, &item.Text, &item.Quote, &sourceTable, &item.Source.ID, &item.ExtractedAt); err != nil {
			return nil, err
		}
		sourceKind, err := core.ParseSourceTable(sourceTable)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", item.ID, err)
		}
		item.Source.Kind = sourceKind
		items = append(items, item)
	}
	return items, rows.Err()
}

// sqliteEmbeddingRepo implements EmbeddingRepository for SQLite
type sqliteEmbeddingRepo struct {
	conn
}

func (r *sqliteEmbeddingRepo) Create(ctx context.Context, e *core.Embedding, itemText string) error {
	if err := checkKind(e.Kind); err != nil {
		return err
	}
	if len(e.Vector) != e.Dimensions {
		return fmt.Errorf("embedding for item %d has %d values, expected %d", e.ItemID, len(e.Vector), e.Dimensions)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO %s (item_id, item_text, dimensions, vector, created_at) VALUES (?, ?, ?, ?, ?)`, e.Kind.EmbeddingTable())
	_, err := r.query().ExecContext(ctx, query, e.ItemID, itemText, e.Dimensions, encodeVector(e.Vector), e.CreatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: item %d at %d dimensions", ErrDuplicateEmbedding, e.ItemID, e.Dimensions)
		}
		return fmt.Errorf("failed to store embedding for item %d: %w", e.ItemID, err)
	}
	return nil
}

func (r *sqliteEmbeddingRepo) ListForScope(ctx context.Context, company string, kind core.ItemKind, dimensions int) ([]core.Embedding, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT item_id, dimensions, vector, created_at FROM %s
		WHERE dimensions = ? AND item_id IN (%s)
		ORDER BY item_id`, kind.EmbeddingTable(), companyItemIDs(kind))
	rows, err := r.query().QueryContext(ctx, query, dimensions, company)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var embeddings []core.Embedding
	for rows.Next() {
		e := core.Embedding{Kind: kind}
		var blob []byte
		if err := rows.Scan(&e.ItemID, &e.Dimensions, &blob, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Vector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("item %d: %w", e.ItemID, err)
		}
		embeddings = append(embeddings, e)
	}
	return embeddings, rows.Err()
}

func (r *sqliteEmbeddingRepo) CountForScope(ctx context.Context, company string, kind core.ItemKind, dimensions int) (int, error) {
	if err := checkKind(kind); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE dimensions = ? AND item_id IN (%s)`, kind.EmbeddingTable(), companyItemIDs(kind))
	var n int
	err := r.query().QueryRowContext(ctx, query, dimensions, company).Scan(&n)
	return n, err
}

func (r *sqliteEmbeddingRepo) DeleteForScope(ctx context.Context, company string, kind core.ItemKind, dimensions int) (int64, error) {
	if err := checkKind(kind); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE dimensions = ? AND item_id IN (%s)`, kind.EmbeddingTable(), companyItemIDs(kind))
	res, err := r.query().ExecContext(ctx, query, dimensions, company)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %d-d %s embeddings: %w", dimensions, kind, err)
	}
	return res.RowsAffected()
}

func (r *sqliteEmbeddingRepo) MissingItems(ctx context.Context, company string, kind core.ItemKind, dimensions int) ([]core.Item, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT i.id, i.text, i.quote, i.source_table, i.source_id, i.extracted_at FROM %s i
		WHERE i.id IN (%s)
		  AND NOT EXISTS (SELECT 1 FROM %s e WHERE e.item_id = i.id AND e.dimensions = ?)
		ORDER BY i.id`, kind.ItemTable(), companyItemIDs(kind), kind.EmbeddingTable())
	rows, err := r.query().QueryContext(ctx, query, company, dimensions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows, kind)
}

// sqliteClusterRepo implements ClusterRepository for SQLite
type sqliteClusterRepo struct {
	conn
}

const clusterColumns = `id, company_name, kind, embedding_type, dimensions, run_id, cluster_label, cluster_summary, size, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCluster(row rowScanner) (*core.Cluster, error) {
	var c core.Cluster
	var kind, embeddingType string
	var label, summary sql.NullString
	err := row.Scan(&c.ID, &c.Scope.Company, &kind, &embeddingType, &c.Scope.Dimensions,
		&c.RunID, &label, &summary, &c.Size, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Scope.Kind = core.ItemKind(kind)
	c.Scope.EmbeddingType = core.EmbeddingType(embeddingType)
	if label.Valid {
		c.Label = &label.String
	}
	if summary.Valid {
		c.Summary = &summary.String
	}
	return &c, nil
}

func (r *sqliteClusterRepo) ListByScope(ctx context.Context, scope core.Scope, unlabeledOnly bool) ([]core.Cluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM clusters WHERE ` + scopeWhere
	if unlabeledOnly {
		query += ` AND (cluster_label IS NULL OR cluster_label = '')`
	}
	query += ` ORDER BY id`

	rows, err := r.query().QueryContext(ctx, query, scopeArgs(scope)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clusters []core.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, *c)
	}
	return clusters, rows.Err()
}

func (r *sqliteClusterRepo) Get(ctx context.Context, id int64) (*core.Cluster, error) {
	row := r.query().QueryRowContext(ctx, `SELECT `+clusterColumns+` FROM clusters WHERE id = ?`, id)
	c, err := scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cluster %d: %w", id, ErrNotFound)
	}
	return c, err
}

func (r *sqliteClusterRepo) UpdateLabel(ctx context.Context, id int64, label, summary string) error {
	res, err := r.query().ExecContext(ctx,
		`UPDATE clusters SET cluster_label = ?, cluster_summary = ? WHERE id = ?`, label, summary, id)
	if err != nil {
		return fmt.Errorf("failed to label cluster %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cluster %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqliteClusterRepo) MemberEmbeddings(ctx context.Context, id int64) ([]core.Member, error) {
	cluster, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	kind := cluster.Scope.Kind
	if err := checkKind(kind); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT m.item_id, i.text, e.vector
		FROM cluster_memberships m
		JOIN %s i ON i.id = m.item_id
		JOIN %s e ON e.item_id = m.item_id AND e.dimensions = m.dimensions
		WHERE m.cluster_id = ?
		ORDER BY m.item_id`, kind.ItemTable(), kind.EmbeddingTable())
	rows, err := r.query().QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []core.Member
	for rows.Next() {
		var m core.Member
		var blob []byte
		if err := rows.Scan(&m.ItemID, &m.Text, &blob); err != nil {
			return nil, err
		}
		if m.Vector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("item %d: %w", m.ItemID, err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *sqliteClusterRepo) Members(ctx context.Context, id int64) ([]core.Item, error) {
	cluster, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	kind := cluster.Scope.Kind
	if err := checkKind(kind); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT i.id, i.text, i.quote, i.source_table, i.source_id, i.extracted_at
		FROM cluster_memberships m
		JOIN %s i ON i.id = m.item_id
		WHERE m.cluster_id = ?
		ORDER BY i.id`, kind.ItemTable())
	rows, err := r.query().QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows, kind)
}

func (r *sqliteClusterRepo) ReplaceScope(ctx context.Context, scope core.Scope, runID string, assignments []Assignment) ([]core.Cluster, error) {
	sizes := make(map[int]int)
	for _, a := range assignments {
		if a.Label != core.NoiseLabel {
			sizes[a.Label]++
		}
	}
	labels := make([]int, 0, len(sizes))
	for label := range sizes {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	var clusters []core.Cluster
	err := r.atomic(ctx, func(q queryer) error {
		if err := resetScope(ctx, q, scope, core.StateUnclustered); err != nil {
			return err
		}

		now := time.Now().UTC()
		ids := make(map[int]int64, len(labels))
		for _, label := range labels {
			res, err := q.ExecContext(ctx, `
				INSERT INTO clusters (company_name, kind, embedding_type, dimensions, run_id, size, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				scope.Company, string(scope.Kind), string(scope.EmbeddingType), scope.Dimensions, runID, sizes[label], now)
			if err != nil {
				return fmt.Errorf("failed to insert cluster for label %d: %w", label, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids[label] = id
			clusters = append(clusters, core.Cluster{ID: id, Scope: scope, RunID: runID, Size: sizes[label], CreatedAt: now})
		}

		for _, a := range assignments {
			var clusterID interface{}
			if a.Label != core.NoiseLabel {
				clusterID = ids[a.Label]
			}
			_, err := q.ExecContext(ctx, `
				INSERT INTO cluster_memberships (company_name, kind, embedding_type, dimensions, item_id, cluster_id)
				VALUES (?, ?, ?, ?, ?, ?)`,
				scope.Company, string(scope.Kind), string(scope.EmbeddingType), scope.Dimensions, a.ItemID, clusterID)
			if err != nil {
				return fmt.Errorf("failed to assign item %d: %w", a.ItemID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return clusters, nil
}

// sqliteGroupRepo implements GroupRepository for SQLite
type sqliteGroupRepo struct {
	conn
}

func (r *sqliteGroupRepo) ListByScope(ctx context.Context, scope core.Scope) ([]core.ClusterGroup, error) {
	rows, err := r.query().QueryContext(ctx, `
		SELECT id, group_name, group_description, created_at FROM cluster_groups
		WHERE `+scopeWhere+` ORDER BY id`, scopeArgs(scope)...)
	if err != nil {
		return nil, err
	}

	var groups []core.ClusterGroup
	for rows.Next() {
		g := core.ClusterGroup{Scope: scope}
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range groups {
		ids, err := r.clusterIDs(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].ClusterIDs = ids
	}
	return groups, nil
}

func (r *sqliteGroupRepo) clusterIDs(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := r.query().QueryContext(ctx,
		`SELECT cluster_id FROM cluster_group_assignments WHERE group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *sqliteGroupRepo) ReplaceScope(ctx context.Context, scope core.Scope, groups []core.ClusterGroup) ([]core.ClusterGroup, error) {
	out := make([]core.ClusterGroup, 0, len(groups))
	err := r.atomic(ctx, func(q queryer) error {
		if err := resetScope(ctx, q, scope, core.StateLabeled); err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, g := range groups {
			res, err := q.ExecContext(ctx, `
				INSERT INTO cluster_groups (company_name, kind, embedding_type, dimensions, group_name, group_description, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				scope.Company, string(scope.Kind), string(scope.EmbeddingType), scope.Dimensions, g.Name, g.Description, now)
			if err != nil {
				return fmt.Errorf("failed to insert group %q: %w", g.Name, err)
			}
			g.ID, err = res.LastInsertId()
			if err != nil {
				return err
			}
			g.Scope = scope
			g.CreatedAt = now

			for _, clusterID := range g.ClusterIDs {
				if _, err := q.ExecContext(ctx,
					`INSERT INTO cluster_group_assignments (group_id, cluster_id) VALUES (?, ?)`, g.ID, clusterID); err != nil {
					return fmt.Errorf("failed to assign cluster %d to group %q: %w", clusterID, g.Name, err)
				}
			}
			out = append(out, g)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
