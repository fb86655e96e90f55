// Package template parses openEHR web templates and resolves symbolic
// openEHR paths against them.
//
// A web template is the queryable JSON tree form of an operational template
// as served by openEHR servers (EHRbase "web template" format). Every node
// exposes its flat-path id, RM type, cardinality and AQL path.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vitagroupag/openFHIR-sub001/pkg/paths"
	"github.com/vitagroupag/openFHIR-sub001/pkg/rmtype"
)

// WebTemplate is a parsed web template.
type WebTemplate struct {
	TemplateID      string   `json:"templateId"`
	Version         string   `json:"version,omitempty"`
	DefaultLanguage string   `json:"defaultLanguage"`
	Languages       []string `json:"languages,omitempty"`
	Tree            *Node    `json:"tree"`
}

// Node is one node of a web template tree.
type Node struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	RMType    string  `json:"rmType"`
	NodeID    string  `json:"nodeId,omitempty"`
	Min       int     `json:"min"`
	Max       int     `json:"max"`
	AQLPath   string  `json:"aqlPath"`
	InContext bool    `json:"inContext,omitempty"`
	Children  []*Node `json:"children,omitempty"`
}

// Parse decodes a web template.
func Parse(data []byte) (*WebTemplate, error) {
	var wt WebTemplate
	if err := json.Unmarshal(data, &wt); err != nil {
		return nil, fmt.Errorf("decode web template: %w", err)
	}
	if wt.Tree == nil || wt.Tree.ID == "" {
		return nil, errors.New("web template has no tree")
	}
	return &wt, nil
}

// IsMulti reports whether the node may occur more than once.
func (n *Node) IsMulti() bool {
	return n.Max < 0 || n.Max > 1
}

// Type returns the RM type of the node.
func (n *Node) Type() rmtype.Type {
	return rmtype.Parse(n.RMType)
}

// Segment returns the flat path segment of the node: its id, with an
// occurrence marker when the node repeats.
func (n *Node) Segment() string {
	if n.IsMulti() {
		return n.ID + paths.Occurrence
	}
	return n.ID
}

// Child returns the direct child with the given id, or nil.
func (n *Node) Child(id string) *Node {
	for _, c := range n.Children {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// ChildByAQL returns the direct child with the given AQL path, or nil.
func (n *Node) ChildByAQL(aqlPath string) *Node {
	for _, c := range n.Children {
		if c.AQLPath == aqlPath {
			return c
		}
	}
	return nil
}

// Walk visits n and its descendants depth-first. path is the flat path of
// each node with occurrence markers. Returning false skips the subtree.
func (n *Node) Walk(fn func(path string, node *Node) bool) {
	n.walk(n.ID, fn)
}

func (n *Node) walk(path string, fn func(string, *Node) bool) {
	if !fn(path, n) {
		return
	}
	for _, c := range n.Children {
		c.walk(path+"/"+c.Segment(), fn)
	}
}

// Find returns the node addressed by a flat path (indexes, markers and
// suffix are ignored), or nil.
func (wt *WebTemplate) Find(flatPath string) *Node {
	p, _ := paths.SplitSuffix(paths.StripIndexes(flatPath))
	segs := strings.Split(p, "/")
	if len(segs) == 0 || segs[0] != wt.Tree.ID {
		return nil
	}
	node := wt.Tree
	for _, s := range segs[1:] {
		if node = node.Child(s); node == nil {
			return nil
		}
	}
	return node
}

// ArchetypePath returns the flat path, with occurrence markers, of the
// shallowest node whose node id is archetypeID.
func (wt *WebTemplate) ArchetypePath(archetypeID string) (string, bool) {
	type item struct {
		node *Node
		path string
	}
	queue := []item{{wt.Tree, wt.Tree.ID}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if it.node.NodeID == archetypeID {
			return it.path, true
		}
		for _, c := range it.node.Children {
			queue = append(queue, item{c, it.path + "/" + c.Segment()})
		}
	}
	return "", false
}

// Archetypes returns the archetype ids used in the template in tree order.
func (wt *WebTemplate) Archetypes() []string {
	var out []string
	seen := make(map[string]bool)
	wt.Tree.Walk(func(_ string, n *Node) bool {
		if strings.HasPrefix(n.NodeID, "openEHR-") && !seen[n.NodeID] {
			seen[n.NodeID] = true
			out = append(out, n.NodeID)
		}
		return true
	})
	return out
}
