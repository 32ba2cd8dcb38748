package testprover

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/prover-orchestrator/x/circuits"
)

func baseInputs(i int) circuits.BaseRollupInputs {
	return circuits.BaseRollupInputs{
		Tx:          circuits.ProcessedTx{Hash: common.BigToHash(common.Big1), PublicInputs: []byte{byte(i)}},
		TxIndex:     i,
		BlockNumber: 7,
	}
}

func TestProver_Deterministic(t *testing.T) {
	t.Parallel()

	p := New(zerolog.Nop())
	ctx := t.Context()

	a, err := p.GetBaseRollupProof(ctx, baseInputs(0))
	require.NoError(t, err)
	b, err := p.GetBaseRollupProof(ctx, baseInputs(0))
	require.NoError(t, err)
	c, err := p.GetBaseRollupProof(ctx, baseInputs(1))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.Commitment, c.Commitment)
	assert.Equal(t, circuits.KindBaseRollup, a.Kind)
	assert.Equal(t, a.Commitment.Bytes(), []byte(a.Data))

	ab, err := p.GetMergeRollupProof(ctx, a, c)
	require.NoError(t, err)
	ba, err := p.GetMergeRollupProof(ctx, c, a)
	require.NoError(t, err)
	assert.NotEqual(t, ab.Commitment, ba.Commitment, "merge must be position sensitive")

	assert.Equal(t, 3, p.Calls(circuits.KindBaseRollup))
	assert.Equal(t, 2, p.Calls(circuits.KindMergeRollup))
	assert.Equal(t, 5, p.TotalCalls())
}

func TestProver_RejectsWrongInputKinds(t *testing.T) {
	t.Parallel()

	p := New(zerolog.Nop())
	ctx := t.Context()

	base, err := p.GetBaseRollupProof(ctx, baseInputs(0))
	require.NoError(t, err)

	_, err = p.GetBlockMergeRollupProof(ctx, base, base)
	require.Error(t, err)

	_, err = p.GetBaseParityProof(ctx, circuits.MessageBatch{Messages: make([]common.Hash, 3)})
	require.Error(t, err)
}

func TestProver_FailureInjection(t *testing.T) {
	t.Parallel()

	boom := errors.New("Merge Rollup Failed")
	p := New(zerolog.Nop()).FailNth(circuits.KindMergeRollup, 2, boom)
	ctx := t.Context()

	base, err := p.GetBaseRollupProof(ctx, baseInputs(0))
	require.NoError(t, err)

	_, err = p.GetMergeRollupProof(ctx, base, base)
	require.NoError(t, err)
	_, err = p.GetMergeRollupProof(ctx, base, base)
	require.ErrorIs(t, err, boom)
	_, err = p.GetMergeRollupProof(ctx, base, base)
	require.NoError(t, err)

	p.FailWith(circuits.KindBaseRollup, boom)
	_, err = p.GetBaseRollupProof(ctx, baseInputs(1))
	require.ErrorIs(t, err, boom)

	p.Reset()
	_, err = p.GetBaseRollupProof(ctx, baseInputs(1))
	require.NoError(t, err)
}

func TestProver_LatencyHonoursContext(t *testing.T) {
	t.Parallel()

	p := New(zerolog.Nop()).WithLatency(circuits.KindBaseParity, time.Hour)
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := p.GetBaseParityProof(ctx, circuits.MessageBatch{Messages: make([]common.Hash, circuits.NumMsgsPerBaseParity)})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
