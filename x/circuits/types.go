package circuits

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Kind identifies one of the rollup circuits the prover can execute.
type Kind string

const (
	KindBaseRollup       Kind = "base-rollup"
	KindMergeRollup      Kind = "merge-rollup"
	KindBlockRootRollup  Kind = "block-root-rollup"
	KindBlockMergeRollup Kind = "block-merge-rollup"
	KindRootRollup       Kind = "root-rollup"
	KindBaseParity       Kind = "base-parity"
	KindRootParity       Kind = "root-parity"
)

// AllKinds lists every circuit kind in tree order, leaves first.
var AllKinds = []Kind{
	KindBaseRollup,
	KindMergeRollup,
	KindBlockRootRollup,
	KindBlockMergeRollup,
	KindRootRollup,
	KindBaseParity,
	KindRootParity,
}

// String returns the string representation of Kind
func (k Kind) String() string {
	return string(k)
}

// Valid reports whether k is a known circuit kind.
func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// L1-to-L2 message layout consumed by the parity circuits.
const (
	NumberOfL1ToL2MessagesPerRollup = 16
	NumMsgsPerBaseParity            = 4
	NumBaseParityPerRootParity      = NumberOfL1ToL2MessagesPerRollup / NumMsgsPerBaseParity
)

// Proof is the output of a single circuit execution.
type Proof struct {
	Kind Kind `json:"kind"`
	// Commitment binds the proof's public outputs; equal inputs yield equal commitments.
	Commitment common.Hash `json:"commitment"`
	Data       ProofBytes  `json:"proof,omitempty"`
}

// IsZero reports whether p carries no proof at all.
func (p Proof) IsZero() bool {
	return p.Kind == "" && p.Commitment == (common.Hash{}) && len(p.Data) == 0
}

// GlobalVariables are the block-wide parameters every base rollup is bound to.
type GlobalVariables struct {
	ChainID      uint64         `json:"chain_id"`
	Version      uint64         `json:"version"`
	BlockNumber  uint64         `json:"block_number"`
	SlotNumber   uint64         `json:"slot_number"`
	Timestamp    uint64         `json:"timestamp"`
	Coinbase     common.Address `json:"coinbase"`
	FeeRecipient common.Hash    `json:"fee_recipient"`
}

// ProcessedTx is a transaction already executed by the simulator, ready for proving.
type ProcessedTx struct {
	Hash common.Hash `json:"hash"`
	// PublicInputs is the simulator output the base rollup circuit consumes.
	PublicInputs []byte    `json:"public_inputs"`
	ProcessedAt  time.Time `json:"processed_at"`
}

// BaseRollupInputs bundles everything a base rollup needs for one transaction.
type BaseRollupInputs struct {
	Tx          ProcessedTx     `json:"tx"`
	TxIndex     int             `json:"tx_index"`
	Globals     GlobalVariables `json:"globals"`
	BlockNumber uint64          `json:"block_number"`
}

// BlockRootInputs carries the block-level data bound by the block root rollup.
type BlockRootInputs struct {
	Globals        GlobalVariables `json:"globals"`
	TxCount        int             `json:"tx_count"`
	L1ToL2Messages []common.Hash   `json:"l1_to_l2_messages"`
}

// MessageBatch is the fixed-size slice of L1-to-L2 messages one base parity circuit covers.
type MessageBatch struct {
	Index    int           `json:"index"`
	Messages []common.Hash `json:"messages"`
}

// PadMessages zero-pads msgs to NumberOfL1ToL2MessagesPerRollup entries.
// It returns nil if there are too many messages.
func PadMessages(msgs []common.Hash) []common.Hash {
	if len(msgs) > NumberOfL1ToL2MessagesPerRollup {
		return nil
	}
	out := make([]common.Hash, NumberOfL1ToL2MessagesPerRollup)
	copy(out, msgs)
	return out
}

// SplitMessageBatches splits padded messages into NumBaseParityPerRootParity batches.
func SplitMessageBatches(padded []common.Hash) []MessageBatch {
	batches := make([]MessageBatch, 0, NumBaseParityPerRootParity)
	for i := 0; i < NumBaseParityPerRootParity; i++ {
		start := i * NumMsgsPerBaseParity
		msgs := make([]common.Hash, NumMsgsPerBaseParity)
		copy(msgs, padded[start:start+NumMsgsPerBaseParity])
		batches = append(batches, MessageBatch{Index: i, Messages: msgs})
	}
	return batches
}
