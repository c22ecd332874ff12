package memindex

import (
	"sort"
	"strings"

	"github.com/standardbeagle/uci/internal/types"
)

// moduleNode is one segment of the dotted module tree. Types and files attach
// at the node matching their exact module; browsing aggregates subtrees.
type moduleNode struct {
	children map[string]*moduleNode
	types    []*TypeEntry
	files    []types.FileRecord
}

func newModuleNode() *moduleNode {
	return &moduleNode{children: make(map[string]*moduleNode)}
}

func splitModule(module string) []string {
	if module == "" {
		return nil
	}
	return strings.Split(module, ".")
}

func (n *moduleNode) child(segment string, create bool) *moduleNode {
	c, ok := n.children[segment]
	if !ok && create {
		c = newModuleNode()
		n.children[segment] = c
	}
	return c
}

func (n *moduleNode) locate(module string, create bool) *moduleNode {
	cur := n
	for _, seg := range splitModule(module) {
		cur = cur.child(seg, create)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func (n *moduleNode) insert(module string, e *TypeEntry) {
	node := n.locate(module, true)
	node.types = append(node.types, e)
}

func (n *moduleNode) insertFile(module string, f types.FileRecord) {
	node := n.locate(module, true)
	node.files = append(node.files, f)
}

// collect gathers every type and file at the node and below.
func (n *moduleNode) collect(typesOut *[]*TypeEntry, filesOut *[]types.FileRecord) {
	*typesOut = append(*typesOut, n.types...)
	*filesOut = append(*filesOut, n.files...)
	for _, name := range n.sortedChildren() {
		n.children[name].collect(typesOut, filesOut)
	}
}

func (n *moduleNode) sortedChildren() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// pruneSpine drops emptied nodes along one module path so a patched tree
// matches a rebuilt one. Only spine nodes are touched: they were cloned by
// the patcher, while sibling subtrees stay shared with older snapshots.
func (n *moduleNode) pruneSpine(module string) {
	segs := splitModule(module)
	nodes := []*moduleNode{n}
	cur := n
	for _, seg := range segs {
		next, ok := cur.children[seg]
		if !ok {
			return
		}
		nodes = append(nodes, next)
		cur = next
	}
	for i := len(nodes) - 1; i >= 1; i-- {
		c := nodes[i]
		if len(c.types) == 0 && len(c.files) == 0 && len(c.children) == 0 {
			delete(nodes[i-1].children, segs[i-1])
		}
	}
}

func (n *moduleNode) sortRecursive() {
	sort.Slice(n.types, func(i, j int) bool {
		if n.types[i].Decl.Name != n.types[j].Decl.Name {
			return n.types[i].Decl.Name < n.types[j].Decl.Name
		}
		return n.types[i].File.Path < n.types[j].File.Path
	})
	sort.Slice(n.files, func(i, j int) bool { return n.files[i].Path < n.files[j].Path })
	for _, c := range n.children {
		c.sortRecursive()
	}
}

// cloneSpine copies the root and every node on the path down to module (each
// copy gets a fresh children map and shares its type and file slices), sharing
// every untouched subtree. It returns the new root and the module's node. Used
// by the patcher to keep snapshots immutable.
func (n *moduleNode) cloneSpine(module string) (*moduleNode, *moduleNode) {
	root := n.shallowClone()
	cur := root
	for _, seg := range splitModule(module) {
		next, ok := cur.children[seg]
		if !ok {
			next = newModuleNode()
		} else {
			next = next.shallowClone()
		}
		cur.children[seg] = next
		cur = next
	}
	return root, cur
}

func (n *moduleNode) shallowClone() *moduleNode {
	c := &moduleNode{
		children: make(map[string]*moduleNode, len(n.children)),
		types:    n.types,
		files:    n.files,
	}
	for k, v := range n.children {
		c.children[k] = v
	}
	return c
}

// ModuleChild is one entry of a /list-modules response level.
type ModuleChild struct {
	Name      string        `json:"name"`
	Path      string        `json:"path"`
	TypeCount int           `json:"typeCount"`
	FileCount int           `json:"fileCount"`
	Children  []ModuleChild `json:"children,omitempty"`
}

// counts aggregates the subtree sizes.
func (n *moduleNode) counts() (typeCount, fileCount int) {
	typeCount = len(n.types)
	fileCount = len(n.files)
	for _, c := range n.children {
		t, f := c.counts()
		typeCount += t
		fileCount += f
	}
	return typeCount, fileCount
}

// listChildren renders the tree below parentPath to the requested depth.
func (n *moduleNode) listChildren(parentPath string, depth int) []ModuleChild {
	if depth <= 0 {
		return nil
	}
	var out []ModuleChild
	for _, name := range n.sortedChildren() {
		c := n.children[name]
		path := name
		if parentPath != "" {
			path = parentPath + "." + name
		}
		tc, fc := c.counts()
		out = append(out, ModuleChild{
			Name:      name,
			Path:      path,
			TypeCount: tc,
			FileCount: fc,
			Children:  c.listChildren(path, depth-1),
		})
	}
	return out
}
