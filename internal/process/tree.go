package process

import (
	"slices"

	"github.com/tinywall/procman/pkg/types"
)

// Node is one process in a Tree.
type Node struct {
	types.ResolvedProcessRecord
	Parent   *Node
	Children []*Node
}

// Tree is the parent/child forest of one resolved snapshot. A record is
// linked under its claimed parent only when that parent is in the same
// snapshot, both creation times are known, and the parent is not younger
// than the child. Every other record is a root.
type Tree struct {
	roots []*Node
	nodes map[int]*Node
}

// BuildTree links records into a Tree. Records are expected to come from a
// single snapshot; on duplicate PIDs the first record wins.
func BuildTree(records []types.ResolvedProcessRecord) *Tree {
	t := &Tree{nodes: make(map[int]*Node, len(records))}
	order := make([]*Node, 0, len(records))
	for _, rec := range records {
		if _, dup := t.nodes[rec.PID]; dup {
			continue
		}
		n := &Node{ResolvedProcessRecord: rec}
		t.nodes[rec.PID] = n
		order = append(order, n)
	}

	for _, n := range order {
		parent := t.nodes[n.ParentPID]
		if parent == nil || parent == n || !corroborated(parent, n) {
			t.roots = append(t.roots, n)
			continue
		}
		n.Parent = parent
		parent.Children = append(parent.Children, n)
	}

	// A chain of corroborated links can only loop if creation times are
	// equal all the way round; break such rings so every node is reachable.
	for _, n := range order {
		if n.Parent != nil && t.inCycle(n) {
			t.detach(n)
			t.roots = append(t.roots, n)
		}
	}
	return t
}

func corroborated(parent, child *Node) bool {
	if !parent.HasCreationTime() || !child.HasCreationTime() {
		return false
	}
	return acceptParent(parent.CreationTime, child.CreationTime)
}

func (t *Tree) inCycle(n *Node) bool {
	steps := 0
	for p := n.Parent; p != nil && steps <= len(t.nodes); p = p.Parent {
		if p == n {
			return true
		}
		steps++
	}
	return false
}

func (t *Tree) detach(n *Node) {
	p := n.Parent
	n.Parent = nil
	p.Children = slices.DeleteFunc(p.Children, func(c *Node) bool { return c == n })
}

// Roots returns the top-level nodes in snapshot order.
func (t *Tree) Roots() []*Node {
	return t.roots
}

// Len returns the number of processes in the tree.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns the node for pid, or nil.
func (t *Tree) Node(pid int) *Node {
	return t.nodes[pid]
}

// Walk visits every node depth-first, parents before children. It stops
// when fn returns false.
func (t *Tree) Walk(fn func(n *Node, depth int) bool) {
	for _, r := range t.roots {
		if !walkNode(r, 0, fn) {
			return
		}
	}
}

func walkNode(n *Node, depth int, fn func(*Node, int) bool) bool {
	if !fn(n, depth) {
		return false
	}
	for _, c := range n.Children {
		if !walkNode(c, depth+1, fn) {
			return false
		}
	}
	return true
}

// Descendants returns every node below pid, depth-first.
func (t *Tree) Descendants(pid int) []*Node {
	n := t.nodes[pid]
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		walkNode(c, 0, func(d *Node, _ int) bool {
			out = append(out, d)
			return true
		})
	}
	return out
}

// Ancestors returns the corroborated parents of pid, nearest first.
func (t *Tree) Ancestors(pid int) []*Node {
	n := t.nodes[pid]
	if n == nil {
		return nil
	}
	var out []*Node
	for p := n.Parent; p != nil; p = p.Parent {
		out = append(out, p)
	}
	return out
}
