package composition

import (
	"sort"
	"strings"
	"time"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/pkg/paths"
	"github.com/vitagroupag/openFHIR-sub001/pkg/rmtype"
	"github.com/vitagroupag/openFHIR-sub001/template"
)

// RMVersion is written into archetype_details of created compositions.
const RMVersion = "1.0.4"

// Defaults fill the composition attributes a flat map usually leaves out.
type Defaults struct {
	Language  string
	Territory string
	Composer  string
	// Now stamps context/start_time; time.Now when nil
	Now func() time.Time
}

// DefaultsFrom takes the composition defaults of o.
func DefaultsFrom(o *openfhir.Options) Defaults {
	if o == nil {
		o = openfhir.DefaultOptions()
	}
	return Defaults{
		Language:  o.DefaultLanguage,
		Territory: o.DefaultTerritory,
		Composer:  o.DefaultComposer,
	}
}

func (d Defaults) now() string {
	if d.Now != nil {
		return d.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// withContext applies the ctx/ settings of flat on top of d.
func (d Defaults) withContext(flat Flat) Defaults {
	if v, ok := flat.String(ContextPrefix + "language"); ok {
		d.Language = v
	}
	if v, ok := flat.String(ContextPrefix + "territory"); ok {
		d.Territory = v
	}
	if v, ok := flat.String(ContextPrefix + "composer_name"); ok {
		d.Composer = v
	}
	if v, ok := flat.String(ContextPrefix + "time"); ok {
		d.Now = func() time.Time {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return time.Now()
			}
			return t
		}
	}
	return d
}

// trie holds the flat values below one template node occurrence.
type trie struct {
	attrs map[string]any
	kids  map[string]map[int]*trie
}

func newTrie() *trie {
	return &trie{attrs: map[string]any{}, kids: map[string]map[int]*trie{}}
}

func (t *trie) child(id string, index int) *trie {
	occ, ok := t.kids[id]
	if !ok {
		occ = map[int]*trie{}
		t.kids[id] = occ
	}
	c, ok := occ[index]
	if !ok {
		c = newTrie()
		occ[index] = c
	}
	return c
}

func (t *trie) occurrences(id string) []*trie {
	occ := t.kids[id]
	idx := make([]int, 0, len(occ))
	for i := range occ {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]*trie, len(idx))
	for i, n := range idx {
		out[i] = occ[n]
	}
	return out
}

func (t *trie) insert(wt *template.WebTemplate, key string, v any) bool {
	p, suffix := paths.SplitSuffix(key)
	segs := paths.Segments(p)
	if len(segs) == 0 || segs[0].Name != wt.Tree.ID {
		return false
	}
	node, cur := wt.Tree, t
	for _, s := range segs[1:] {
		if node = node.Child(s.Name); node == nil {
			return false
		}
		cur = cur.child(s.Name, max(s.Index, 0))
	}
	cur.attrs[suffix] = v
	return true
}

// Unflatten builds a canonical composition from flat. Keys that do not
// address a node of wt are skipped and returned in dropped.
func Unflatten(wt *template.WebTemplate, flat Flat, d Defaults) (composition map[string]any, dropped []string) {
	root := newTrie()
	for _, k := range flat.TemplateKeys() {
		if !root.insert(wt, k, flat[k]) {
			dropped = append(dropped, k)
		}
	}

	b := &builder{defaults: d.withContext(flat)}
	comp := b.build(wt.Tree, root, true)
	comp["archetype_details"] = map[string]any{
		"_type":        "ARCHETYPED",
		"archetype_id": map[string]any{"_type": "ARCHETYPE_ID", "value": wt.Tree.NodeID},
		"template_id":  map[string]any{"_type": "TEMPLATE_ID", "value": wt.TemplateID},
		"rm_version":   RMVersion,
	}
	setDefault(comp, "language", codePhrase("ISO_639-1", b.defaults.Language))
	setDefault(comp, "territory", codePhrase("ISO_3166-1", b.defaults.Territory))
	setDefault(comp, "composer", map[string]any{"_type": "PARTY_IDENTIFIED", "name": b.defaults.Composer})
	setDefault(comp, "category", dvCodedText("event", "openehr", "433"))
	return comp, dropped
}

func setDefault(obj map[string]any, key string, v any) {
	if _, ok := obj[key]; !ok {
		obj[key] = v
	}
}

type builder struct {
	defaults Defaults
}

func isLeaf(n *template.Node) bool {
	t := n.Type()
	return t.IsDataValue() || (t != rmtype.Element && len(n.Children) == 0)
}

func (b *builder) build(n *template.Node, t *trie, isRoot bool) map[string]any {
	if isLeaf(n) {
		return buildDataValue(n.RMType, t.attrs)
	}

	obj := map[string]any{"_type": n.RMType, "name": dvText(n.Name)}
	if n.NodeID != "" {
		obj["archetype_node_id"] = n.NodeID
	}
	if n.Type() == rmtype.Element {
		if v := b.elementValue(n, t); v != nil {
			obj["value"] = v
		}
		return obj
	}

	for _, c := range n.Children {
		occ := t.occurrences(c.ID)
		if len(occ) == 0 {
			switch {
			case c.InContext:
				if attrs := b.defaultFor(c); attrs != nil {
					place(obj, n, c, b.build(c, &trie{attrs: attrs}, false))
				}
			case isRoot && c.ID == "context":
				place(obj, n, c, b.build(c, newTrie(), false))
			}
			continue
		}
		for _, sub := range occ {
			place(obj, n, c, b.build(c, sub, false))
		}
	}
	return obj
}

// elementValue builds the value of an ELEMENT. Flat values stored at the
// element itself belong to its "value" child, values below a choice child
// such as "quantity_value" to that child.
func (b *builder) elementValue(n *template.Node, t *trie) map[string]any {
	if len(t.attrs) > 0 {
		vc := n.Child("value")
		if vc == nil {
			for _, c := range n.Children {
				if strings.Contains(c.ID, "value") {
					vc = c
					break
				}
			}
		}
		if vc == nil {
			return nil
		}
		return buildDataValue(vc.RMType, t.attrs)
	}
	for _, c := range n.Children {
		if c.ID == "value" || !strings.Contains(c.ID, "value") {
			continue
		}
		if occ := t.occurrences(c.ID); len(occ) > 0 {
			return buildDataValue(c.RMType, occ[0].attrs)
		}
	}
	return nil
}

// defaultFor returns the flat attributes of a context node the flat map
// did not provide, or nil when there is no default.
func (b *builder) defaultFor(n *template.Node) map[string]any {
	d := b.defaults
	switch n.ID {
	case "language":
		return map[string]any{"code": d.Language, "terminology": "ISO_639-1"}
	case "territory":
		return map[string]any{"code": d.Territory, "terminology": "ISO_3166-1"}
	case "encoding":
		return map[string]any{"code": "UTF-8", "terminology": "IANA_character-sets"}
	case "category":
		return map[string]any{"code": "433", "value": "event", "terminology": "openehr"}
	case "setting":
		return map[string]any{"code": "238", "value": "other care", "terminology": "openehr"}
	case "start_time", "time":
		return map[string]any{"": d.now()}
	case "composer":
		return map[string]any{"name": d.Composer}
	case "subject":
		return map[string]any{}
	}
	return nil
}

// relativeSteps returns the AQL steps leading from parent to child. When
// the child's path does not extend its parent's only the last step is used.
func relativeSteps(parent, child *template.Node) []step {
	rel := child.AQLPath
	if strings.HasPrefix(rel, parent.AQLPath) {
		rel = rel[len(parent.AQLPath):]
	} else if steps := parseSteps(rel); len(steps) > 0 {
		return steps[len(steps)-1:]
	}
	steps := parseSteps(rel)
	if len(steps) == 0 {
		return []step{{attr: child.ID}}
	}
	return steps
}

// place attaches childObj to obj along the AQL steps from parent to child,
// creating the structures in between that have no template node.
func place(obj map[string]any, parent, child *template.Node, childObj map[string]any) {
	steps := relativeSteps(parent, child)
	cur := obj
	for _, s := range steps[:len(steps)-1] {
		cur = hidden(cur, s)
	}
	last := steps[len(steps)-1]
	if _, locatable := childObj["name"]; locatable && last.id != "" {
		setDefault(childObj, "archetype_node_id", last.id)
	}
	if listAttributes[last.attr] {
		list, _ := cur[last.attr].([]any)
		cur[last.attr] = append(list, childObj)
		return
	}
	cur[last.attr] = childObj
}

func hidden(cur map[string]any, s step) map[string]any {
	owner, _ := cur["_type"].(string)
	if listAttributes[s.attr] {
		list, _ := cur[s.attr].([]any)
		for _, e := range list {
			if m, ok := e.(map[string]any); ok && m["archetype_node_id"] == s.id {
				return m
			}
		}
		m := newHidden(owner, s)
		cur[s.attr] = append(list, m)
		return m
	}
	if m, ok := cur[s.attr].(map[string]any); ok {
		return m
	}
	m := newHidden(owner, s)
	cur[s.attr] = m
	return m
}

func newHidden(owner string, s step) map[string]any {
	typ := hiddenType(owner, s.attr)
	m := map[string]any{"_type": typ}
	if s.id != "" {
		m["archetype_node_id"] = s.id
	}
	if name := hiddenName(typ); name != "" {
		m["name"] = dvText(name)
	}
	return m
}
