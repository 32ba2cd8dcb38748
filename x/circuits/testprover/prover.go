// Package testprover provides a deterministic in-process circuits.Prover.
//
// Proofs carry a keccak256 commitment over the circuit kind and its inputs,
// so equal inputs always produce equal proofs. Failures and latency can be
// injected per circuit kind, which makes it suitable both for tests and for
// running the orchestrator without a real proving backend.
package testprover

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/compose-network/prover-orchestrator/x/circuits"
)

var _ circuits.Prover = (*Prover)(nil)

type failureRule struct {
	nth int64 // 0 fails every call
	err error
}

// Prover is a deterministic circuits.Prover.
type Prover struct {
	log zerolog.Logger

	mu       sync.RWMutex
	failures map[circuits.Kind]failureRule
	latency  map[circuits.Kind]time.Duration

	calls map[circuits.Kind]*atomic.Int64
}

// New returns a Prover that succeeds on every call.
func New(log zerolog.Logger) *Prover {
	calls := make(map[circuits.Kind]*atomic.Int64, len(circuits.AllKinds))
	for _, k := range circuits.AllKinds {
		calls[k] = new(atomic.Int64)
	}
	return &Prover{
		log:      log.With().Str("component", "test-prover").Logger(),
		failures: make(map[circuits.Kind]failureRule),
		latency:  make(map[circuits.Kind]time.Duration),
		calls:    calls,
	}
}

// FailWith makes every call of kind fail with err.
func (p *Prover) FailWith(kind circuits.Kind, err error) *Prover {
	p.mu.Lock()
	p.failures[kind] = failureRule{err: err}
	p.mu.Unlock()
	return p
}

// FailNth makes only the nth (1-based) call of kind fail with err.
func (p *Prover) FailNth(kind circuits.Kind, nth int, err error) *Prover {
	p.mu.Lock()
	p.failures[kind] = failureRule{nth: int64(nth), err: err}
	p.mu.Unlock()
	return p
}

// WithLatency delays every call of kind by d.
func (p *Prover) WithLatency(kind circuits.Kind, d time.Duration) *Prover {
	p.mu.Lock()
	p.latency[kind] = d
	p.mu.Unlock()
	return p
}

// Reset clears injected failures and latency.
func (p *Prover) Reset() {
	p.mu.Lock()
	p.failures = make(map[circuits.Kind]failureRule)
	p.latency = make(map[circuits.Kind]time.Duration)
	p.mu.Unlock()
}

// Calls returns how many times kind was requested.
func (p *Prover) Calls(kind circuits.Kind) int {
	c, ok := p.calls[kind]
	if !ok {
		return 0
	}
	return int(c.Load())
}

// TotalCalls returns the number of requests across all kinds.
func (p *Prover) TotalCalls() int {
	total := 0
	for _, k := range circuits.AllKinds {
		total += p.Calls(k)
	}
	return total
}

func (p *Prover) GetBaseRollupProof(ctx context.Context, in circuits.BaseRollupInputs) (circuits.Proof, error) {
	return p.prove(ctx, circuits.KindBaseRollup, func() (common.Hash, error) {
		return crypto.Keccak256Hash(
			[]byte(circuits.KindBaseRollup),
			in.Tx.Hash.Bytes(),
			u64(uint64(in.TxIndex)),
			u64(in.BlockNumber),
			u64(in.Globals.ChainID),
			u64(in.Globals.Timestamp),
			in.Tx.PublicInputs,
		), nil
	})
}

func (p *Prover) GetMergeRollupProof(ctx context.Context, left, right circuits.Proof) (circuits.Proof, error) {
	return p.prove(ctx, circuits.KindMergeRollup, func() (common.Hash, error) {
		if err := expectKind(left, circuits.KindBaseRollup, circuits.KindMergeRollup); err != nil {
			return common.Hash{}, err
		}
		if err := expectKind(right, circuits.KindBaseRollup, circuits.KindMergeRollup); err != nil {
			return common.Hash{}, err
		}
		return pair(circuits.KindMergeRollup, left, right), nil
	})
}

func (p *Prover) GetBlockRootRollupProof(
	ctx context.Context,
	txRoot, parityRoot circuits.Proof,
	in circuits.BlockRootInputs,
) (circuits.Proof, error) {
	return p.prove(ctx, circuits.KindBlockRootRollup, func() (common.Hash, error) {
		if err := expectKind(txRoot, circuits.KindBaseRollup, circuits.KindMergeRollup); err != nil {
			return common.Hash{}, err
		}
		if err := expectKind(parityRoot, circuits.KindRootParity); err != nil {
			return common.Hash{}, err
		}
		return crypto.Keccak256Hash(
			[]byte(circuits.KindBlockRootRollup),
			txRoot.Commitment.Bytes(),
			parityRoot.Commitment.Bytes(),
			u64(in.Globals.BlockNumber),
			u64(uint64(in.TxCount)),
		), nil
	})
}

func (p *Prover) GetBlockMergeRollupProof(ctx context.Context, left, right circuits.Proof) (circuits.Proof, error) {
	return p.prove(ctx, circuits.KindBlockMergeRollup, func() (common.Hash, error) {
		if err := expectKind(left, circuits.KindBlockRootRollup, circuits.KindBlockMergeRollup); err != nil {
			return common.Hash{}, err
		}
		if err := expectKind(right, circuits.KindBlockRootRollup, circuits.KindBlockMergeRollup); err != nil {
			return common.Hash{}, err
		}
		return pair(circuits.KindBlockMergeRollup, left, right), nil
	})
}

func (p *Prover) GetRootRollupProof(ctx context.Context, blockMergeRoot, parityRoot circuits.Proof) (circuits.Proof, error) {
	return p.prove(ctx, circuits.KindRootRollup, func() (common.Hash, error) {
		if err := expectKind(blockMergeRoot, circuits.KindBlockRootRollup, circuits.KindBlockMergeRollup); err != nil {
			return common.Hash{}, err
		}
		if err := expectKind(parityRoot, circuits.KindRootParity); err != nil {
			return common.Hash{}, err
		}
		return pair(circuits.KindRootRollup, blockMergeRoot, parityRoot), nil
	})
}

func (p *Prover) GetBaseParityProof(ctx context.Context, batch circuits.MessageBatch) (circuits.Proof, error) {
	return p.prove(ctx, circuits.KindBaseParity, func() (common.Hash, error) {
		if len(batch.Messages) != circuits.NumMsgsPerBaseParity {
			return common.Hash{}, fmt.Errorf("base parity expects %d messages, got %d",
				circuits.NumMsgsPerBaseParity, len(batch.Messages))
		}
		data := make([][]byte, 0, len(batch.Messages)+2)
		data = append(data, []byte(circuits.KindBaseParity), u64(uint64(batch.Index)))
		for _, m := range batch.Messages {
			data = append(data, m.Bytes())
		}
		return crypto.Keccak256Hash(data...), nil
	})
}

func (p *Prover) GetRootParityProof(ctx context.Context, left, right circuits.Proof) (circuits.Proof, error) {
	return p.prove(ctx, circuits.KindRootParity, func() (common.Hash, error) {
		if err := expectKind(left, circuits.KindBaseParity, circuits.KindRootParity); err != nil {
			return common.Hash{}, err
		}
		if err := expectKind(right, circuits.KindBaseParity, circuits.KindRootParity); err != nil {
			return common.Hash{}, err
		}
		return pair(circuits.KindRootParity, left, right), nil
	})
}

func (p *Prover) prove(
	ctx context.Context,
	kind circuits.Kind,
	commit func() (common.Hash, error),
) (circuits.Proof, error) {
	n := p.calls[kind].Add(1)

	p.mu.RLock()
	rule, failing := p.failures[kind]
	delay := p.latency[kind]
	p.mu.RUnlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return circuits.Proof{}, ctx.Err()
		case <-timer.C:
		}
	}

	if failing && (rule.nth == 0 || rule.nth == n) {
		p.log.Debug().Str("circuit", kind.String()).Int64("call", n).Err(rule.err).Msg("injected circuit failure")
		return circuits.Proof{}, rule.err
	}

	c, err := commit()
	if err != nil {
		return circuits.Proof{}, err
	}
	return circuits.Proof{Kind: kind, Commitment: c, Data: circuits.ProofBytes(c.Bytes())}, nil
}

func pair(kind circuits.Kind, left, right circuits.Proof) common.Hash {
	return crypto.Keccak256Hash([]byte(kind), left.Commitment.Bytes(), right.Commitment.Bytes())
}

func expectKind(p circuits.Proof, allowed ...circuits.Kind) error {
	for _, k := range allowed {
		if p.Kind == k {
			return nil
		}
	}
	return fmt.Errorf("unexpected input proof kind %q, want one of %v", p.Kind, allowed)
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
