package template

import (
	"strings"

	"github.com/vitagroupag/openFHIR-sub001/pkg/paths"
	"github.com/vitagroupag/openFHIR-sub001/pkg/rmtype"
)

// Resolution is a symbolic path resolved against a web template.
type Resolution struct {
	// Path is the flat path with occurrence markers and the original suffix
	Path string
	// Type is the RM type selected for the last resolved node
	Type rmtype.Type
	// Node is the last resolved node
	Node *Node
	// Resolved is false when a segment could not be found
	Resolved bool
	// Segments are the flat path segments of Path, without suffix
	Segments []string
}

// Resolve resolves a symbolic openEHR path such as
// "blood_pressure/any_event/systolic|magnitude" against the template.
//
// Each segment is looked up among the children of the previously resolved
// node; when it is not a direct child the subtrees are searched depth-first
// and the intermediate node ids become part of the path. Segments starting
// with "_" are RM attributes and pass through unchanged. Repeating nodes are
// written with an occurrence marker.
//
// forced narrows the RM type of the last node: a single forced type always
// wins, an ELEMENT takes the type of its value child, otherwise the forced
// type equal to the node's own type is used, falling back to the first.
//
// A path with an unresolvable segment is returned shortened and with
// Resolved false, except when the last resolved type is DV_MULTIMEDIA.
func (wt *WebTemplate) Resolve(symbolic string, forced ...rmtype.Type) Resolution {
	p, suffix := paths.SplitSuffix(strings.TrimSpace(symbolic))
	var segs []string
	for _, s := range strings.Split(paths.StripIndexes(p), "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) > 0 && segs[0] == wt.Tree.ID {
		segs = segs[1:]
	}

	res := Resolution{
		Node:     wt.Tree,
		Type:     wt.Tree.Type(),
		Resolved: true,
		Segments: []string{wt.Tree.ID},
	}
	node := wt.Tree
	for i, s := range segs {
		if strings.HasPrefix(s, "_") {
			res.Segments = append(res.Segments, s)
			continue
		}
		chain := node.find(s)
		if chain == nil {
			res.Resolved = false
			break
		}
		for _, c := range chain {
			res.Segments = append(res.Segments, c.Segment())
		}
		node = chain[len(chain)-1]
		res.Node = node

		var choice *Node
		res.Type, choice = selectType(node, forced)
		if i == len(segs)-1 && choice != nil && choice.ID != "value" {
			res.Segments = append(res.Segments, choice.ID)
		}
	}

	if !res.Resolved {
		if res.Type == rmtype.DvMultimedia || (containsType(forced, rmtype.DvMultimedia) && res.Node.Type() == rmtype.Element) {
			res.Resolved = true
			res.Type = rmtype.DvMultimedia
		} else {
			res.Type = rmtype.None
		}
	}

	res.Path = strings.Join(res.Segments, "/")
	if suffix != "" {
		res.Path += "|" + suffix
	}
	return res
}

// find returns the chain of nodes leading from n to the first descendant
// with the given id. Direct children are checked before their subtrees.
func (n *Node) find(id string) []*Node {
	if c := n.Child(id); c != nil {
		return []*Node{c}
	}
	for _, c := range n.Children {
		if chain := c.find(id); chain != nil {
			return append([]*Node{c}, chain...)
		}
	}
	return nil
}

// selectType picks the RM type of n under the forced candidates. For an
// ELEMENT the chosen value child is returned as well.
func selectType(n *Node, forced []rmtype.Type) (rmtype.Type, *Node) {
	isElement := n.Type() == rmtype.Element
	switch {
	case len(forced) == 1:
		if isElement {
			if c := n.valueChild(forced); c != nil && c.Type() == forced[0] {
				return forced[0], c
			}
		}
		return forced[0], nil
	case isElement:
		if c := n.valueChild(forced); c != nil {
			return c.Type(), c
		}
	}
	if len(forced) == 0 {
		return n.Type(), nil
	}
	own := n.Type()
	for _, f := range forced {
		if f == own && own != rmtype.Unknown {
			return f, nil
		}
	}
	return forced[0], nil
}

// valueChild returns the value child of an ELEMENT, preferring one whose
// type is among forced. Choice elements carry several value children with
// ids such as "quantity_value".
func (n *Node) valueChild(forced []rmtype.Type) *Node {
	var first *Node
	for _, c := range n.Children {
		if !strings.Contains(c.ID, "value") {
			continue
		}
		if first == nil {
			first = c
		}
		if containsType(forced, c.Type()) {
			return c
		}
	}
	return first
}

func containsType(types []rmtype.Type, t rmtype.Type) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
