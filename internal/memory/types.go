package memory

import "time"

// Tier is a durability class for a memory node (spec.md GLOSSARY).
type Tier int

const (
	TierTask Tier = iota
	TierSession
	TierLongTerm
	TierArchive
)

func (t Tier) String() string {
	switch t {
	case TierTask:
		return "task"
	case TierSession:
		return "session"
	case TierLongTerm:
		return "long-term"
	case TierArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// NodeType enumerates the kinds of entities the memory store persists.
type NodeType string

const (
	NodeEntity     NodeType = "entity"
	NodeFact       NodeType = "fact"
	NodeExperience NodeType = "experience"
	NodeDecision   NodeType = "decision"
	NodeSnippet    NodeType = "snippet"
)

// EdgeType enumerates hyperedge relation kinds.
type EdgeType string

const (
	EdgeSemantic   EdgeType = "semantic"
	EdgeStructural EdgeType = "structural"
	EdgeCausal     EdgeType = "causal"
	EdgeTemporal   EdgeType = "temporal"
	EdgeReference  EdgeType = "reference"
	EdgeReasoning  EdgeType = "reasoning"
)

// Provenance records where a node's content came from.
type Provenance struct {
	Source     string
	Ref        string
	ObservedAt time.Time
	Context    string
}

// Node is a single hypergraph vertex (spec.md §3).
type Node struct {
	ID           string
	NodeType     NodeType
	Subtype      string
	Content      string
	Embedding    []byte
	Tier         Tier
	Confidence   float64
	Provenance   Provenance
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
	Metadata     map[string]any
}

// Membership is one (node_id, role, position) row attaching a node to a
// hyperedge.
type Membership struct {
	NodeID   string
	Role     string
	Position int
}

// HyperEdge is a relation over a set of member nodes (spec.md §3).
type HyperEdge struct {
	ID        string
	EdgeType  EdgeType
	Label     string
	Weight    float64
	Members   []Membership
	CreatedAt time.Time
	Metadata  map[string]any
}

// EvolutionOp enumerates the transitions recorded in the evolution log.
type EvolutionOp string

const (
	OpPromote     EvolutionOp = "promote"
	OpDemote      EvolutionOp = "demote"
	OpDecay       EvolutionOp = "decay"
	OpGateAccept  EvolutionOp = "gate-accept"
	OpGateReject  EvolutionOp = "gate-reject"
)

// EvolutionLogEntry is one append-only record of a node's tier transition.
type EvolutionLogEntry struct {
	ID        int64
	NodeID    string
	Operation EvolutionOp
	FromTier  *Tier
	ToTier    *Tier
	Reason    string
	CreatedAt time.Time
}

// NodeQuery filters Query results.
type NodeQuery struct {
	NodeType *NodeType
	Tier     *Tier
	MinConfidence *float64
	Limit    int
}

// Stats summarizes store contents.
type Stats struct {
	NodeCount  int64
	EdgeCount  int64
	ByTier     map[Tier]int64
}
