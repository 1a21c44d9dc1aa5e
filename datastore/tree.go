package datastore

import "github.com/always-cache/travelnotes/persistence"

// TreeNode is a folder with its subfolders and notes.
type TreeNode struct {
	Folder   persistence.Folder
	Children []TreeNode
	Notes    []persistence.Note
}

// Tree returns the root folders with their descendants.
// Folders whose parent is not loaded are treated as roots.
func (s *Store) Tree() []TreeNode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	known := make(map[string]bool, len(s.folders))
	for _, f := range s.folders {
		known[f.ID] = true
	}
	children := make(map[string][]persistence.Folder)
	var roots []persistence.Folder
	for _, f := range s.folders {
		if f.ParentID == nil || !known[*f.ParentID] || *f.ParentID == f.ID {
			roots = append(roots, f)
			continue
		}
		children[*f.ParentID] = append(children[*f.ParentID], f)
	}
	notes := make(map[string][]persistence.Note)
	for _, n := range s.notes {
		notes[n.FolderID] = append(notes[n.FolderID], n)
	}

	visited := make(map[string]bool, len(s.folders))
	var build func(f persistence.Folder) TreeNode
	build = func(f persistence.Folder) TreeNode {
		visited[f.ID] = true
		node := TreeNode{Folder: f, Notes: notes[f.ID]}
		for _, c := range children[f.ID] {
			if !visited[c.ID] {
				node.Children = append(node.Children, build(c))
			}
		}
		return node
	}
	tree := make([]TreeNode, 0, len(roots))
	for _, f := range roots {
		tree = append(tree, build(f))
	}
	return tree
}
