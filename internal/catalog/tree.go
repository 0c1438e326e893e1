// Package catalog builds the ordered test tree a script declares.
package catalog

import (
	"fmt"

	tmerrors "github.com/testmaster/testmaster/internal/errors"
)

// Separator joins key segments into node ids.
const Separator = "/"

// ErrMalformed is returned for input that is not a proper string-keyed nesting.
var ErrMalformed = tmerrors.New(tmerrors.KindValidation, "malformed catalog")

// Node is one test or test group. Nodes are immutable once the tree is built.
type Node struct {
	ID       string
	Label    string
	Children []*Node
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Tree is the node sequence for one loaded script plus an id index.
type Tree struct {
	roots []*Node
	index map[string]*Node
	order []*Node // pre-order
}

// Build turns m into a Tree. Node ids are the Separator-joined key path; Build fails when two
// paths collapse onto the same id (a key containing the separator, for instance).
func Build(m Mapping) (*Tree, error) {
	t := &Tree{index: make(map[string]*Node)}

	roots, err := t.build(m, "")
	if err != nil {
		return nil, err
	}
	t.roots = roots
	return t, nil
}

func (t *Tree) build(m Mapping, parent string) ([]*Node, error) {
	nodes := make([]*Node, 0, len(m))
	for _, e := range m {
		id := joinID(parent, e.Key)
		if _, dup := t.index[id]; dup {
			return nil, fmt.Errorf("%w: node id %q is not unique", ErrMalformed, id)
		}

		n := &Node{ID: id, Label: e.Key}
		t.index[id] = n
		t.order = append(t.order, n)

		children, err := t.build(e.Sub, id)
		if err != nil {
			return nil, err
		}
		n.Children = children
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Roots returns the top-level nodes in catalog order.
func (t *Tree) Roots() []*Node {
	if t == nil {
		return nil
	}
	return t.roots
}

// Lookup finds a node by exact id.
func (t *Tree) Lookup(id string) (*Node, bool) {
	if t == nil {
		return nil, false
	}
	n, ok := t.index[id]
	return n, ok
}

// Len returns the number of nodes, internal and leaf.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// IDs returns every node id in pre-order.
func (t *Tree) IDs() []string {
	if t == nil {
		return nil
	}
	ids := make([]string, len(t.order))
	for i, n := range t.order {
		ids[i] = n.ID
	}
	return ids
}

// Leaves returns the leaf ids in pre-order.
func (t *Tree) Leaves() []string {
	if t == nil {
		return nil
	}
	var ids []string
	for _, n := range t.order {
		if n.IsLeaf() {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// Descendants returns the ids below id, depth first, excluding id itself.
func (t *Tree) Descendants(id string) []string {
	n, ok := t.Lookup(id)
	if !ok {
		return nil
	}
	var ids []string
	var walk func([]*Node)
	walk = func(nodes []*Node) {
		for _, c := range nodes {
			ids = append(ids, c.ID)
			walk(c.Children)
		}
	}
	walk(n.Children)
	return ids
}

// Mapping converts the tree back into its ordered mapping.
func (t *Tree) Mapping() Mapping {
	return toMapping(t.Roots())
}

func toMapping(nodes []*Node) Mapping {
	m := make(Mapping, 0, len(nodes))
	for _, n := range nodes {
		m = append(m, Entry{Key: n.Label, Sub: toMapping(n.Children)})
	}
	return m
}
