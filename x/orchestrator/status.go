package orchestrator

import (
	"time"

	"github.com/compose-network/prover-orchestrator/x/circuits"
	"github.com/compose-network/prover-orchestrator/x/orchestrator/mergetree"
)

// Lifecycle states reported by Status.
const (
	StateBuilding  = "building"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateDiscarded = "discarded"
)

// TreeStatus is a histogram of node states over the real nodes of a merge tree.
type TreeStatus struct {
	Leaves  int `json:"leaves"`
	Depth   int `json:"depth"`
	Empty   int `json:"empty"`
	Pending int `json:"pending"`
	Ready   int `json:"ready"`
	Failed  int `json:"failed"`
}

// BlockStatus summarizes one block of the live epoch.
type BlockStatus struct {
	Index       int             `json:"index"`
	Number      uint64          `json:"number"`
	State       string          `json:"state"` // building|completed|failed
	ExpectedTxs int             `json:"expected_txs"`
	AddedTxs    int             `json:"added_txs"`
	Messages    int             `json:"l1_to_l2_messages"`
	TxTree      TreeStatus      `json:"tx_tree"`
	ParityTree  TreeStatus      `json:"parity_tree"`
	Root        *circuits.Proof `json:"root,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Status is a read-only snapshot of the orchestrator's live epoch.
type Status struct {
	Active          bool            `json:"active"`
	Epoch           uint64          `json:"epoch,omitempty"`
	RunID           string          `json:"run_id,omitempty"`
	State           string          `json:"state,omitempty"` // building|completed|failed|discarded
	TotalBlocks     int             `json:"total_blocks,omitempty"`
	StartedBlocks   int             `json:"started_blocks"`
	CompletedBlocks int             `json:"completed_blocks"`
	StartedAt       time.Time       `json:"started_at,omitempty"`
	Blocks          []BlockStatus   `json:"blocks,omitempty"`
	BlockMergeTree  TreeStatus      `json:"block_merge_tree"`
	ParityTree      TreeStatus      `json:"parity_tree"`
	Root            *circuits.Proof `json:"root,omitempty"`
	Error           string          `json:"error,omitempty"`
}

func treeStatus(t *proofTree) TreeStatus {
	counts := t.Counts()
	return TreeStatus{
		Leaves:  t.Leaves(),
		Depth:   t.Depth(),
		Empty:   counts[mergetree.Empty],
		Pending: counts[mergetree.Pending],
		Ready:   counts[mergetree.Ready],
		Failed:  counts[mergetree.Failed],
	}
}
