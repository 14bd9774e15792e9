package plan

import "time"

// Node is one element of a plan tree: a *Step, *Chain or *Parallel.
// The set is closed.
type Node interface {
	// EstimatedDuration is the best-case wall-clock time of the subtree.
	EstimatedDuration() time.Duration
	isNode()
}

// Chain runs its children one after another. Each child depends on the
// jobs the previous child produced.
type Chain struct {
	nodes []Node
}

// NewChain builds a sequential stage. An empty chain takes no time.
// Nil nodes are dropped.
func NewChain(nodes ...Node) *Chain {
	return &Chain{nodes: compact(nodes)}
}

// Nodes returns a copy of the children in order.
func (c *Chain) Nodes() []Node {
	return append([]Node(nil), c.nodes...)
}

// EstimatedDuration is the sum of the children's durations.
func (c *Chain) EstimatedDuration() time.Duration {
	var total time.Duration
	for _, n := range c.nodes {
		total += n.EstimatedDuration()
	}
	return total
}

func (*Chain) isNode() {}

// Parallel runs its children concurrently. All children share the same
// predecessors and never depend on each other.
type Parallel struct {
	nodes []Node
}

// NewParallel builds a concurrent stage. An empty parallel takes no time.
// Nil nodes are dropped.
func NewParallel(nodes ...Node) *Parallel {
	return &Parallel{nodes: compact(nodes)}
}

// Nodes returns a copy of the branches.
func (p *Parallel) Nodes() []Node {
	return append([]Node(nil), p.nodes...)
}

// EstimatedDuration is the longest branch.
func (p *Parallel) EstimatedDuration() time.Duration {
	var longest time.Duration
	for _, n := range p.nodes {
		if d := n.EstimatedDuration(); d > longest {
			longest = d
		}
	}
	return longest
}

func (*Parallel) isNode() {}

func compact(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if s, ok := n.(*Step); ok && s == nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// walkSteps calls fn for every leaf in tree order.
func walkSteps(n Node, fn func(*Step)) {
	switch node := n.(type) {
	case *Step:
		fn(node)
	case *Chain:
		for _, c := range node.nodes {
			walkSteps(c, fn)
		}
	case *Parallel:
		for _, c := range node.nodes {
			walkSteps(c, fn)
		}
	}
}

var (
	_ Node = (*Step)(nil)
	_ Node = (*Chain)(nil)
	_ Node = (*Parallel)(nil)
)
