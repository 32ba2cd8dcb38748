package mergetree

import "sync/atomic"

// State is the lifecycle position of a tree node.
type State int32

const (
	Empty State = iota
	Pending
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == Ready || s == Failed
}

// snapshot is immutable once published; transitions swap the whole pointer.
type snapshot[T any] struct {
	state State
	value T
	err   error
}

type node[T any] struct {
	cur atomic.Pointer[snapshot[T]]

	// arrived counts children that reached Ready; need is how many real children this node has.
	arrived atomic.Int32
	need    int32
	padding bool
}

func newNode[T any](need int32, padding bool) *node[T] {
	n := &node[T]{need: need, padding: padding}
	n.cur.Store(&snapshot[T]{state: Empty})
	return n
}

func (n *node[T]) load() *snapshot[T] {
	return n.cur.Load()
}

// transition moves the node to next if its current state is one of from.
// Exactly one caller wins when several race on the same node.
func (n *node[T]) transition(next *snapshot[T], from ...State) bool {
	for {
		cur := n.cur.Load()
		allowed := false
		for _, s := range from {
			if cur.state == s {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
		if n.cur.CompareAndSwap(cur, next) {
			return true
		}
	}
}
