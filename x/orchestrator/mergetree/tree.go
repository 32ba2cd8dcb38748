// Package mergetree schedules pairwise merges over a complete binary tree
// whose leaves are filled asynchronously and in any order.
//
// Leaves beyond the declared count are padding. A node whose right subtree is
// all padding is promoted: it takes its left child's outcome without a merge.
package mergetree

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
)

var (
	ErrLeafOutOfRange = errors.New("leaf index out of range")
	ErrLeafAlreadySet = errors.New("leaf already set")
)

// MergeFunc combines two sibling values into their parent's value.
type MergeFunc[T any] func(ctx context.Context, left, right T) (T, error)

// Option configures a Tree.
type Option[T any] func(*Tree[T])

// WithContext sets the context handed to every merge call.
func WithContext[T any](ctx context.Context) Option[T] {
	return func(t *Tree[T]) {
		t.ctx = ctx
	}
}

// WithOnFailure registers fn to run once, when the root first fails.
func WithOnFailure[T any](fn func(error)) Option[T] {
	return func(t *Tree[T]) {
		t.onFailure = fn
	}
}

// WithOnMerge registers fn to run each time a merge is issued for (level, pos).
func WithOnMerge[T any](fn func(level, pos int)) Option[T] {
	return func(t *Tree[T]) {
		t.onMerge = fn
	}
}

// Tree is a fixed-shape merge tree. Level 0 holds the leaves, level Depth() the root.
type Tree[T any] struct {
	leaves int
	width  int
	depth  int
	levels [][]*node[T]

	merge     MergeFunc[T]
	ctx       context.Context
	onFailure func(error)
	onMerge   func(level, pos int)

	done     chan struct{}
	doneOnce sync.Once
}

// New builds a tree over leaves real leaves, padded to the next power of two.
func New[T any](leaves int, merge MergeFunc[T], opts ...Option[T]) (*Tree[T], error) {
	if leaves < 1 {
		return nil, fmt.Errorf("merge tree needs at least one leaf, got %d", leaves)
	}
	if merge == nil {
		return nil, errors.New("merge function is required")
	}

	width := 1
	if leaves > 1 {
		width = 1 << bits.Len(uint(leaves-1))
	}
	depth := bits.TrailingZeros(uint(width))

	t := &Tree[T]{
		leaves: leaves,
		width:  width,
		depth:  depth,
		levels: make([][]*node[T], depth+1),
		merge:  merge,
		ctx:    context.Background(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	for level := 0; level <= depth; level++ {
		count := width >> level
		t.levels[level] = make([]*node[T], count)
		for pos := 0; pos < count; pos++ {
			covered := t.realLeaves(level, pos)
			var need int32
			if level > 0 && covered > 0 {
				need = 1
				if t.realLeaves(level-1, 2*pos+1) > 0 {
					need = 2
				}
			}
			t.levels[level][pos] = newNode[T](need, covered == 0)
		}
	}

	return t, nil
}

// realLeaves returns how many non-padding leaves sit under (level, pos).
func (t *Tree[T]) realLeaves(level, pos int) int {
	span := 1 << level
	start := pos * span
	n := t.leaves - start
	if n < 0 {
		return 0
	}
	if n > span {
		return span
	}
	return n
}

// Leaves returns the declared number of real leaves.
func (t *Tree[T]) Leaves() int { return t.leaves }

// Width returns the padded leaf count.
func (t *Tree[T]) Width() int { return t.width }

// Depth returns the number of merge levels above the leaves.
func (t *Tree[T]) Depth() int { return t.depth }

// Resolve fills leaf i with v. Each leaf can be filled exactly once.
func (t *Tree[T]) Resolve(i int, v T) error {
	leaf, err := t.leaf(i)
	if err != nil {
		return err
	}
	if !leaf.transition(&snapshot[T]{state: Ready, value: v}, Empty) {
		return fmt.Errorf("%w: %d", ErrLeafAlreadySet, i)
	}
	t.ready(0, i)
	return nil
}

// Reject marks leaf i as failed and poisons its ancestors.
func (t *Tree[T]) Reject(i int, cause error) error {
	leaf, err := t.leaf(i)
	if err != nil {
		return err
	}
	if !leaf.transition(&snapshot[T]{state: Failed, err: cause}, Empty) {
		return fmt.Errorf("%w: %d", ErrLeafAlreadySet, i)
	}
	t.failed(0, i, cause)
	return nil
}

func (t *Tree[T]) leaf(i int) (*node[T], error) {
	if i < 0 || i >= t.leaves {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrLeafOutOfRange, i, t.leaves)
	}
	return t.levels[0][i], nil
}

// ready is called exactly once per node, right after it became Ready.
func (t *Tree[T]) ready(level, pos int) {
	if level == t.depth {
		t.finish()
		return
	}

	plevel, ppos := level+1, pos/2
	parent := t.levels[plevel][ppos]

	// Only the arrival that completes the parent's inputs may act on it.
	if parent.arrived.Add(1) != parent.need {
		return
	}

	left := t.levels[level][2*ppos].load()
	if parent.need == 1 {
		if parent.transition(&snapshot[T]{state: Ready, value: left.value}, Empty) {
			t.ready(plevel, ppos)
		}
		return
	}

	right := t.levels[level][2*ppos+1].load()
	if !parent.transition(&snapshot[T]{state: Pending}, Empty) {
		// poisoned by a failing sibling subtree
		return
	}
	if t.onMerge != nil {
		t.onMerge(plevel, ppos)
	}
	go t.runMerge(plevel, ppos, left.value, right.value)
}

func (t *Tree[T]) runMerge(level, pos int, left, right T) {
	n := t.levels[level][pos]
	v, err := t.merge(t.ctx, left, right)
	if err != nil {
		if n.transition(&snapshot[T]{state: Failed, err: err}, Pending) {
			t.failed(level, pos, err)
		}
		return
	}
	if n.transition(&snapshot[T]{state: Ready, value: v}, Pending) {
		t.ready(level, pos)
	}
}

// failed walks a failure from (level, pos) up to the root without waiting on siblings.
func (t *Tree[T]) failed(level, pos int, cause error) {
	for level < t.depth {
		level, pos = level+1, pos/2
		parent := t.levels[level][pos]
		if !parent.transition(&snapshot[T]{state: Failed, err: cause}, Empty) {
			// an ancestor chain that is already failed stays with its first cause
			return
		}
	}
	if t.onFailure != nil {
		t.onFailure(cause)
	}
	t.finish()
}

func (t *Tree[T]) finish() {
	t.doneOnce.Do(func() { close(t.done) })
}

// Done is closed once the root is Ready or Failed.
func (t *Tree[T]) Done() <-chan struct{} {
	return t.done
}

// Root returns the root's current state and outcome without blocking.
func (t *Tree[T]) Root() (State, T, error) {
	s := t.levels[t.depth][0].load()
	return s.state, s.value, s.err
}

// Wait blocks until the root is terminal or ctx is done.
func (t *Tree[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	s := t.levels[t.depth][0].load()
	if s.state == Failed {
		var zero T
		return zero, s.err
	}
	return s.value, nil
}

// Node returns the state and outcome of (level, pos).
func (t *Tree[T]) Node(level, pos int) (State, T, error) {
	if level < 0 || level > t.depth || pos < 0 || pos >= len(t.levels[level]) {
		var zero T
		return Empty, zero, fmt.Errorf("node (%d, %d) out of range", level, pos)
	}
	s := t.levels[level][pos].load()
	return s.state, s.value, s.err
}

// IsPadding reports whether (level, pos) covers only padding leaves.
func (t *Tree[T]) IsPadding(level, pos int) bool {
	if level < 0 || level > t.depth || pos < 0 || pos >= len(t.levels[level]) {
		return false
	}
	return t.levels[level][pos].padding
}

// Counts returns the number of real nodes per state.
func (t *Tree[T]) Counts() map[State]int {
	out := make(map[State]int, 4)
	for _, level := range t.levels {
		for _, n := range level {
			if n.padding {
				continue
			}
			out[n.load().state]++
		}
	}
	return out
}
