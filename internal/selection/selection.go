// Package selection tracks which catalog nodes the operator has ticked.
package selection

import "github.com/testmaster/testmaster/internal/catalog"

// Model holds one boolean per node of the loaded tree. It performs no locking; the owning
// session serialises access.
type Model struct {
	tree     *catalog.Tree
	selected map[string]bool
}

// New returns a model with no tree loaded.
func New() *Model {
	return &Model{selected: map[string]bool{}}
}

// Initialize replaces all prior state with "selected" for every node of tree.
func (m *Model) Initialize(tree *catalog.Tree) {
	m.tree = tree
	m.selected = make(map[string]bool, tree.Len())
	for _, id := range tree.IDs() {
		m.selected[id] = true
	}
}

// Toggle flips id and forces every descendant to the new value. Ancestors are untouched.
// Ids outside the loaded tree are ignored and Toggle reports false.
func (m *Model) Toggle(id string) bool {
	node, ok := m.tree.Lookup(id)
	if !ok {
		return false
	}

	value := !m.selected[id]
	m.selected[id] = value
	if !node.IsLeaf() {
		for _, d := range m.tree.Descendants(id) {
			m.selected[d] = value
		}
	}
	return true
}

// Set assigns id directly, cascading like Toggle when the value changes.
func (m *Model) Set(id string, value bool) bool {
	if _, ok := m.tree.Lookup(id); !ok {
		return false
	}
	if m.selected[id] == value {
		return true
	}
	return m.Toggle(id)
}

// IsSelected reports the state of id; unknown ids are not selected.
func (m *Model) IsSelected(id string) bool {
	return m.selected[id]
}

// SelectedLeaves returns, in tree order, every id whose state is true. Internal node ids are
// included; filtering them is the executor's policy.
func (m *Model) SelectedLeaves() []string {
	var ids []string
	for _, id := range m.tree.IDs() {
		if m.selected[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

// Snapshot returns a copy of the full id -> state mapping.
func (m *Model) Snapshot() map[string]bool {
	out := make(map[string]bool, len(m.selected))
	for id, v := range m.selected {
		out[id] = v
	}
	return out
}

// Len returns the number of tracked ids.
func (m *Model) Len() int {
	return len(m.selected)
}
