package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestInitializeSchemaIdempotent(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, InitializeSchema(db))
	require.NoError(t, InitializeSchema(db))

	v, err := SchemaVersionOf(db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
}

func TestAddNodeGetNodeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.AddNode(ctx, Node{
		NodeType:   NodeFact,
		Content:    "the cache TTL is 300 seconds",
		Tier:       TierTask,
		Confidence: 0.9,
	})
	require.NoError(t, err)
	require.NotEmpty(t, n.ID)

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.Content, got.Content)
	assert.Equal(t, n.NodeType, got.NodeType)
	assert.EqualValues(t, 1, got.AccessCount)
}

func TestSearchContentFindsNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddNode(ctx, Node{NodeType: NodeFact, Content: "functions counted in report.py", Confidence: 1})
	require.NoError(t, err)

	results, err := s.SearchContent(ctx, "functions report", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "report.py")
}

func TestAddEdgeRequiresExistingNodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.AddNode(ctx, Node{NodeType: NodeEntity, Content: "x", Confidence: 1})
	require.NoError(t, err)

	_, err = s.AddEdge(ctx, HyperEdge{
		EdgeType: EdgeSemantic,
		Members:  []Membership{{NodeID: n.ID, Role: "subject", Position: 0}},
	})
	require.NoError(t, err)

	_, err = s.AddEdge(ctx, HyperEdge{
		EdgeType: EdgeSemantic,
		Members:  []Membership{{NodeID: "does-not-exist", Role: "subject", Position: 0}},
	})
	assert.Error(t, err)
}

func TestPromoteMovesTierAndLogsEvolution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.AddNode(ctx, Node{
		NodeType:   NodeFact,
		Content:    "frequently accessed fact",
		Tier:       TierTask,
		Confidence: 0.9,
		AccessCount: 7,
		CreatedAt:   time.Now().Add(-2 * time.Hour),
	})
	require.NoError(t, err)

	policy := TierPolicy{
		PromoteThreshold: [3]float64{2.0, 3.0, 4.0},
		MinAge:           [3]time.Duration{0, time.Hour, 24 * time.Hour},
	}

	promoted, err := s.Promote(ctx, []string{n.ID}, "frequent", policy)
	require.NoError(t, err)
	require.Equal(t, []string{n.ID}, promoted)

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, TierSession, got.Tier)

	log, err := s.EvolutionLog(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, OpPromote, log[0].Operation)
	assert.Equal(t, TierTask, *log[0].FromTier)
	assert.Equal(t, TierSession, *log[0].ToTier)
}

func TestDecayNoOpAtFactorOneMinConfZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.AddNode(ctx, Node{NodeType: NodeFact, Content: "x", Tier: TierSession, Confidence: 0.5})
	require.NoError(t, err)

	decayed, err := s.Decay(ctx, 1.0, 0)
	require.NoError(t, err)
	assert.Empty(t, decayed)

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.Confidence, 1e-9)
	assert.Equal(t, TierSession, got.Tier)
}

func TestDecayTwiceAtHalfEqualsOnceAtQuarter(t *testing.T) {
	s1 := newTestStore(t)
	s2 := newTestStore(t)
	ctx := context.Background()

	n1, err := s1.AddNode(ctx, Node{NodeType: NodeFact, Content: "x", Confidence: 1.0})
	require.NoError(t, err)
	n2, err := s2.AddNode(ctx, Node{NodeType: NodeFact, Content: "x", Confidence: 1.0})
	require.NoError(t, err)

	_, err = s1.Decay(ctx, 0.5, 0)
	require.NoError(t, err)
	_, err = s1.Decay(ctx, 0.5, 0)
	require.NoError(t, err)

	_, err = s2.Decay(ctx, 0.25, 0)
	require.NoError(t, err)

	got1, err := s1.GetNode(ctx, n1.ID)
	require.NoError(t, err)
	got2, err := s2.GetNode(ctx, n2.ID)
	require.NoError(t, err)
	assert.InDelta(t, got2.Confidence, got1.Confidence, 1e-9)
}

func TestDecayDemotesBelowThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.AddNode(ctx, Node{NodeType: NodeFact, Content: "x", Tier: TierLongTerm, Confidence: 0.5})
	require.NoError(t, err)

	decayed, err := s.Decay(ctx, 0.1, 0.1)
	require.NoError(t, err)
	require.Contains(t, decayed, n.ID)

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, TierSession, got.Tier)
}

func TestPruneArchivedRetainsEvolutionLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.AddNode(ctx, Node{NodeType: NodeFact, Content: "x", Tier: TierArchive, Confidence: 0.001})
	require.NoError(t, err)

	policy := TierPolicy{PromoteThreshold: [3]float64{0, 0, 0}, MinAge: [3]time.Duration{0, 0, 0}}
	_, _ = s.Promote(ctx, []string{n.ID}, "seed", policy) // no-op, already archive

	pruned, err := s.PruneArchived(ctx, 0.01)
	require.NoError(t, err)
	assert.Contains(t, pruned, n.ID)

	_, err = s.GetNode(ctx, n.ID)
	assert.Error(t, err)

	log, err := s.EvolutionLog(ctx, n.ID)
	require.NoError(t, err)
	// No promote/demote happened on an already-archived node, so the log
	// may be empty; the point is the query itself must not error after the
	// node row is gone (the retained-rows guarantee when rows do exist).
	_ = log
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddNode(ctx, Node{NodeType: NodeFact, Content: "a", Confidence: 1})
	require.NoError(t, err)
	_, err = s.AddNode(ctx, Node{NodeType: NodeFact, Content: "b", Confidence: 1})
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.NodeCount)
}
