package nn

import (
	"strconv"

	"stacknn/tensor"
)

// Tree holds the params or state of one layer. Leaves are the layer's own
// tensors; Children has one slot per sublayer, in sublayer order. A layer
// shared at several positions contributes the same *Tree at each of them.
type Tree struct {
	Leaves   []*tensor.Tensor
	Children []*Tree
}

// Leaf builds a tree holding only tensors.
func Leaf(ts ...*tensor.Tensor) *Tree {
	return &Tree{Leaves: ts}
}

// Empty reports whether t holds no tensors anywhere.
func (t *Tree) Empty() bool {
	if t == nil {
		return true
	}
	if len(t.Leaves) > 0 {
		return false
	}
	for _, c := range t.Children {
		if !c.Empty() {
			return false
		}
	}
	return true
}

// Child returns the i-th subtree, or nil.
func (t *Tree) Child(i int) *Tree {
	if t == nil || i < 0 || i >= len(t.Children) {
		return nil
	}
	return t.Children[i]
}

// Leaf returns the i-th own tensor, or nil.
func (t *Tree) Leaf(i int) *tensor.Tensor {
	if t == nil || i < 0 || i >= len(t.Leaves) {
		return nil
	}
	return t.Leaves[i]
}

// Size counts scalar values in the tree. Subtrees reached more than once are
// counted once.
func (t *Tree) Size() int {
	seen := map[*Tree]bool{}
	var walk func(*Tree) int
	walk = func(n *Tree) int {
		if n == nil || seen[n] {
			return 0
		}
		seen[n] = true
		total := 0
		for _, l := range n.Leaves {
			total += l.Size()
		}
		for _, c := range n.Children {
			total += walk(c)
		}
		return total
	}
	return walk(t)
}

// Walk visits every node depth-first with its structural path, e.g. "0/2".
// The root has path "".
func (t *Tree) Walk(fn func(path string, node *Tree)) {
	var walk func(string, *Tree)
	walk = func(path string, n *Tree) {
		if n == nil {
			return
		}
		fn(path, n)
		for i, c := range n.Children {
			p := strconv.Itoa(i)
			if path != "" {
				p = path + "/" + p
			}
			walk(p, c)
		}
	}
	walk("", t)
}
