package memory

import (
	"context"
	"fmt"
	"math"
	"time"
)

// TierPolicy configures the promotion thresholds and minimum ages per tier
// transition (Open Question (c), resolved in SPEC_FULL.md and config).
type TierPolicy struct {
	PromoteThreshold [3]float64
	MinAge           [3]time.Duration
}

// eligibleForPromotion implements spec.md §4.3's promotion criterion:
// confidence * log2(1 + access_count) >= promote_threshold[T] AND
// age_hours >= min_age[T].
func eligibleForPromotion(n Node, policy TierPolicy, now time.Time) bool {
	if n.Tier >= TierArchive {
		return false
	}
	score := n.Confidence * math.Log2(1+float64(n.AccessCount))
	age := now.Sub(n.CreatedAt)
	return score >= policy.PromoteThreshold[int(n.Tier)] && age >= policy.MinAge[int(n.Tier)]
}

// Promote attempts to move each node in ids up one tier when it meets the
// promotion criterion, recording an evolution-log entry for each actual
// transition. Not-yet-eligible nodes are silently skipped (idempotent:
// re-invoking with nodes already promoted simply evaluates the new tier's
// own criterion). Returns the ids that actually moved.
func (s *Store) Promote(ctx context.Context, ids []string, reason string, policy TierPolicy) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var promoted []string
	for _, id := range ids {
		row := tx.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
		n, err := scanNode(row)
		if err != nil {
			continue
		}
		if !eligibleForPromotion(n, policy, now) {
			continue
		}
		from := n.Tier
		to := n.Tier + 1
		if to > TierArchive {
			to = TierArchive
		}
		if to == from {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE nodes SET tier = ?, updated_at = ? WHERE id = ?`,
			int(to), fmtTime(now), id); err != nil {
			return nil, fmt.Errorf("promote %q: %w", id, err)
		}
		if err := appendEvolutionLog(ctx, tx, id, OpPromote, &from, &to, reason); err != nil {
			return nil, fmt.Errorf("log promote %q: %w", id, err)
		}
		promoted = append(promoted, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return promoted, nil
}

// Demote explicitly moves each node in ids down one tier, floored at
// TierTask. This is the sole mechanism by which spec.md §3's "tier
// monotonically non-decreasing except via explicit demotion" invariant is
// allowed to be violated.
func (s *Store) Demote(ctx context.Context, ids []string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, id := range ids {
		row := tx.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
		n, err := scanNode(row)
		if err != nil {
			continue
		}
		from := n.Tier
		to := n.Tier - 1
		if to < TierTask {
			to = TierTask
		}
		if to == from {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE nodes SET tier = ?, updated_at = ? WHERE id = ?`,
			int(to), fmtTime(now), id); err != nil {
			return fmt.Errorf("demote %q: %w", id, err)
		}
		if err := appendEvolutionLog(ctx, tx, id, OpDemote, &from, &to, reason); err != nil {
			return fmt.Errorf("log demote %q: %w", id, err)
		}
	}
	return tx.Commit()
}

// Decay multiplies every node's confidence by factor and demotes one tier
// (floored at TierTask) any node whose post-decay confidence falls below
// minConf. decay(1.0, 0) is a no-op: confidence is unchanged and no node
// can fall below a minConf of 0 (spec.md §8 idempotence property).
//
// Decay never pushes a node into or past TierArchive: archive is reached
// only through explicit Promote, and an archived node's eventual removal
// is always a separate explicit prune, never implicit fallout from decay
// (spec.md §4.3's "never pruned implicitly").
func (s *Store) Decay(ctx context.Context, factor, minConf float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("scan nodes: %w", err)
	}
	var all []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		all = append(all, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := time.Now().UTC()
	var decayed []string
	for _, n := range all {
		newConf := n.Confidence * factor
		if _, err := tx.ExecContext(ctx, `UPDATE nodes SET confidence = ?, updated_at = ? WHERE id = ?`,
			newConf, fmtTime(now), n.ID); err != nil {
			return nil, fmt.Errorf("decay %q: %w", n.ID, err)
		}
		if newConf < minConf {
			from := n.Tier
			to := n.Tier - 1
			if to < TierTask {
				to = TierTask
			}
			if to != from {
				if _, err := tx.ExecContext(ctx, `UPDATE nodes SET tier = ? WHERE id = ?`, int(to), n.ID); err != nil {
					return nil, fmt.Errorf("decay-demote %q: %w", n.ID, err)
				}
				if err := appendEvolutionLog(ctx, tx, n.ID, OpDecay, &from, &to, "decay"); err != nil {
					return nil, fmt.Errorf("log decay %q: %w", n.ID, err)
				}
				decayed = append(decayed, n.ID)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return decayed, nil
}

// PruneArchived permanently removes archive-tier nodes at or below
// confidence epsilon. This is always an explicit caller operation, never a
// side effect of Decay (spec.md §4.3). Evolution-log rows for the pruned
// node persist (Open Question (b), resolved as "retained" in SPEC_FULL.md):
// evolution_log carries no foreign key on node_id, so deleting the node
// here has no cascading effect on its history.
func (s *Store) PruneArchived(ctx context.Context, epsilon float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM nodes WHERE tier = ? AND confidence <= ?`, int(TierArchive), epsilon)
	if err != nil {
		return nil, fmt.Errorf("find prunable: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("prune %q: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}
