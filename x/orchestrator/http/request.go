package http

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/compose-network/prover-orchestrator/x/circuits"
)

// maxTxsPerRequest bounds a single batch submission.
const maxTxsPerRequest = 1024

type startEpochReq struct {
	EpochNumber uint64 `json:"epoch_number"`
	TotalBlocks int    `json:"total_blocks"`
}

type startBlockReq struct {
	ExpectedTxCount int                      `json:"expected_tx_count"`
	Globals         circuits.GlobalVariables `json:"globals"`
	L1ToL2Messages  []common.Hash            `json:"l1_to_l2_messages"`
}

type txReq struct {
	// Index pins the tx to a slot; the lowest free slot is used when absent.
	Index        *int          `json:"index,omitempty"`
	Hash         common.Hash   `json:"hash"`
	PublicInputs hexutil.Bytes `json:"public_inputs"`
}

type addTxsReq struct {
	Txs []txReq `json:"txs"`
	// Wait holds the response until every submitted base rollup settles.
	Wait bool `json:"wait"`
}

type txResult struct {
	Position int             `json:"position"`
	Hash     common.Hash     `json:"hash"`
	Proof    *circuits.Proof `json:"proof,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type addTxsResp struct {
	Accepted int        `json:"accepted"`
	Results  []txResult `json:"results,omitempty"`
}

type proofResp struct {
	Proof circuits.Proof `json:"proof"`
}
