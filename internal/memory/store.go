package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is a transactional hypergraph memory store over a SQLite database,
// matching spec.md §4.3's contract. A single RWMutex enforces "single
// writer, concurrent readers" (spec.md §5) on top of database/sql's own
// connection pooling.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func marshalMeta(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalMeta(ns sql.NullString) map[string]any {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal([]byte(ns.String), &m)
	return m
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// AddNode inserts n, assigning an id and created/updated/last_accessed
// timestamps if not already set. Nodes are admitted at TierTask unless the
// caller sets a different tier explicitly (spec.md §3 Lifecycle).
func (s *Store) AddNode(ctx context.Context, n Node) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	if n.LastAccessed.IsZero() {
		n.LastAccessed = now
	}

	meta, err := marshalMeta(n.Metadata)
	if err != nil {
		return Node{}, fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, node_type, subtype, content, embedding, tier, confidence,
			provenance_source, provenance_ref, provenance_observed_at, provenance_context,
			created_at, updated_at, last_accessed, access_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, string(n.NodeType), nullableStr(n.Subtype), n.Content, n.Embedding,
		int(n.Tier), n.Confidence,
		nullableStr(n.Provenance.Source), nullableStr(n.Provenance.Ref),
		nullableStr(fmtTimeIfNotZero(n.Provenance.ObservedAt)), nullableStr(n.Provenance.Context),
		fmtTime(n.CreatedAt), fmtTime(n.UpdatedAt), fmtTime(n.LastAccessed), n.AccessCount, meta,
	)
	if err != nil {
		return Node{}, fmt.Errorf("insert node: %w", err)
	}
	return n, nil
}

func nullableStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func fmtTimeIfNotZero(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmtTime(t)
}

const nodeColumns = `id, node_type, subtype, content, embedding, tier, confidence,
	provenance_source, provenance_ref, provenance_observed_at, provenance_context,
	created_at, updated_at, last_accessed, access_count, metadata`

func scanNode(row interface{ Scan(...any) error }) (Node, error) {
	var n Node
	var subtype, provSource, provRef, provObserved, provContext sql.NullString
	var nodeType string
	var tier int
	var created, updated, lastAccessed string
	var meta sql.NullString

	err := row.Scan(&n.ID, &nodeType, &subtype, &n.Content, &n.Embedding, &tier, &n.Confidence,
		&provSource, &provRef, &provObserved, &provContext,
		&created, &updated, &lastAccessed, &n.AccessCount, &meta)
	if err != nil {
		return Node{}, err
	}
	n.NodeType = NodeType(nodeType)
	n.Subtype = subtype.String
	n.Tier = Tier(tier)
	n.Provenance = Provenance{
		Source:  provSource.String,
		Ref:     provRef.String,
		Context: provContext.String,
	}
	if provObserved.Valid {
		n.Provenance.ObservedAt = parseTime(provObserved.String)
	}
	n.CreatedAt = parseTime(created)
	n.UpdatedAt = parseTime(updated)
	n.LastAccessed = parseTime(lastAccessed)
	n.Metadata = unmarshalMeta(meta)
	return n, nil
}

// GetNode fetches a node by id, incrementing access_count and updating
// last_accessed in the same transaction (spec.md §4.3 access bookkeeping).
func (s *Store) GetNode(ctx context.Context, id string) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Node{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Node{}, fmt.Errorf("node %q: %w", id, sql.ErrNoRows)
		}
		return Node{}, fmt.Errorf("get node: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE nodes SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		fmtTime(now), id,
	); err != nil {
		return Node{}, fmt.Errorf("bump access: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Node{}, fmt.Errorf("commit: %w", err)
	}

	n.AccessCount++
	n.LastAccessed = now
	return n, nil
}

// Query returns nodes matching the given filter, most recently accessed
// first.
func (s *Store) Query(ctx context.Context, q NodeQuery) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if q.NodeType != nil {
		where = append(where, "node_type = ?")
		args = append(args, string(*q.NodeType))
	}
	if q.Tier != nil {
		where = append(where, "tier = ?")
		args = append(args, int(*q.Tier))
	}
	if q.MinConfidence != nil {
		where = append(where, "confidence >= ?")
		args = append(args, *q.MinConfidence)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + nodeColumns + ` FROM nodes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY last_accessed DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// SearchContent performs full-text retrieval, ranked by FTS relevance and
// tie-broken by tier descending, confidence descending, last_accessed
// descending (spec.md §4.3). Each hit bumps access bookkeeping the same way
// GetNode does.
func (s *Store) SearchContent(ctx context.Context, text string, limit int) ([]Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	terms := strings.Fields(text)
	if len(terms) == 0 {
		return nil, nil
	}
	ftsQuery := strings.Join(terms, " OR ")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+prefixColumns("n", nodeColumns)+`
		FROM nodes_fts f
		JOIN nodes n ON n.rowid = f.rowid
		WHERE nodes_fts MATCH ?
		ORDER BY rank, n.tier DESC, n.confidence DESC, n.last_accessed DESC
		LIMIT ?`,
		ftsQuery, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search content: %w", err)
	}

	var out []Node
	var ids []string
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, n)
		ids = append(ids, n.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := time.Now().UTC()
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE nodes SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
			fmtTime(now), id,
		); err != nil {
			return nil, fmt.Errorf("bump access: %w", err)
		}
		out[i].AccessCount++
		out[i].LastAccessed = now
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// AddEdge inserts a hyperedge and its membership rows transactionally.
// Every membership must reference an existing node (spec.md §3 invariant);
// the foreign key constraint enforces this.
func (s *Store) AddEdge(ctx context.Context, e HyperEdge) (HyperEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	meta, err := marshalMeta(e.Metadata)
	if err != nil {
		return HyperEdge{}, fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return HyperEdge{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO hyperedges (id, edge_type, label, weight, created_at, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.EdgeType), nullableStr(e.Label), e.Weight, fmtTime(e.CreatedAt), meta,
	); err != nil {
		return HyperEdge{}, fmt.Errorf("insert hyperedge: %w", err)
	}

	for _, m := range e.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO membership (hyperedge_id, node_id, role, position) VALUES (?, ?, ?, ?)`,
			e.ID, m.NodeID, m.Role, m.Position,
		); err != nil {
			return HyperEdge{}, fmt.Errorf("insert membership %q: %w", m.NodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return HyperEdge{}, fmt.Errorf("commit: %w", err)
	}
	return e, nil
}

// Stats summarizes the store's current contents.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	st.ByTier = make(map[Tier]int64)

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&st.NodeCount); err != nil {
		return Stats{}, fmt.Errorf("count nodes: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hyperedges`).Scan(&st.EdgeCount); err != nil {
		return Stats{}, fmt.Errorf("count hyperedges: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT tier, COUNT(*) FROM nodes GROUP BY tier`)
	if err != nil {
		return Stats{}, fmt.Errorf("tier stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier int
		var count int64
		if err := rows.Scan(&tier, &count); err != nil {
			return Stats{}, err
		}
		st.ByTier[Tier(tier)] = count
	}
	return st, rows.Err()
}

// appendEvolutionLog records one transition. Must be called within the
// same transaction as the node mutation it documents when tx is non-nil.
func appendEvolutionLog(ctx context.Context, ex interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, nodeID string, op EvolutionOp, from, to *Tier, reason string) error {
	var fromVal, toVal any
	if from != nil {
		fromVal = int(*from)
	}
	if to != nil {
		toVal = int(*to)
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO evolution_log (node_id, operation, from_tier, to_tier, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		nodeID, string(op), fromVal, toVal, reason, fmtTime(time.Now().UTC()),
	)
	return err
}

// EvolutionLog returns every recorded transition for nodeID, oldest first.
// Rows persist even after PruneArchived removes the node's archive-tier
// row they describe, per the Open Question (b) resolution.
func (s *Store) EvolutionLog(ctx context.Context, nodeID string) ([]EvolutionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, node_id, operation, from_tier, to_tier, reason, created_at FROM evolution_log WHERE node_id = ? ORDER BY id ASC`,
		nodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("evolution log: %w", err)
	}
	defer rows.Close()

	var out []EvolutionLogEntry
	for rows.Next() {
		var e EvolutionLogEntry
		var from, to sql.NullInt64
		var created string
		if err := rows.Scan(&e.ID, &e.NodeID, &e.Operation, &from, &to, &e.Reason, &created); err != nil {
			return nil, err
		}
		if from.Valid {
			t := Tier(from.Int64)
			e.FromTier = &t
		}
		if to.Valid {
			t := Tier(to.Int64)
			e.ToTier = &t
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
