// Package paths implements the string algebra shared by both translation
// directions: flat openEHR paths with occurrence markers and indexes, and
// FHIRPath expressions with conditions inserted at the right segment.
package paths

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/vitagroupag/openFHIR-sub001/pool"
)

// Occurrence marks a repeating template node whose index is not known yet.
const Occurrence = "[n]"

var (
	indexRe      = regexp.MustCompile(`:\d+`)
	bracketIdxRe = regexp.MustCompile(`\[(?:n|\d+)\]`)
	segIndexRe   = regexp.MustCompile(`^(.*?)(?::(\d+)|\[n\])?$`)
)

// Join builds a flat path from segments. Empty segments are skipped and a
// segment starting with "|" is appended as a suffix without a separator.
func Join(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s == "" {
			continue
		}
		if b.Len() > 0 && !strings.HasPrefix(s, "|") {
			b.WriteByte('/')
		}
		b.WriteString(s)
	}
	return b.String()
}

// SplitSuffix separates the "|suffix" of a flat path.
func SplitSuffix(p string) (path, suffix string) {
	i := strings.LastIndex(p, "|")
	if i < 0 || i < strings.LastIndex(p, "/") {
		return p, ""
	}
	return p[:i], p[i+1:]
}

// StripIndexes removes concrete indexes (":0") and occurrence markers.
func StripIndexes(p string) string {
	return bracketIdxRe.ReplaceAllString(indexRe.ReplaceAllString(p, ""), "")
}

// HasOccurrence reports whether p still carries an unresolved marker.
func HasOccurrence(p string) bool {
	return strings.Contains(p, Occurrence)
}

// ReplaceFirstOccurrence fills the first occurrence marker with index i.
func ReplaceFirstOccurrence(p string, i int) string {
	return strings.Replace(p, Occurrence, ":"+strconv.Itoa(i), 1)
}

// ReplaceLastOccurrence fills the last occurrence marker with index i.
func ReplaceLastOccurrence(p string, i int) string {
	at := strings.LastIndex(p, Occurrence)
	if at < 0 {
		return p
	}
	return pool.BuildPath(func(b *pool.PathBuilder) {
		b.WriteString(p[:at])
		b.Occurrence(i)
		b.WriteString(p[at+len(Occurrence):])
	})
}

// ClearOccurrences drops every remaining occurrence marker.
func ClearOccurrences(p string) string {
	return strings.ReplaceAll(p, Occurrence, "")
}

// Segment is one "/" separated part of a flat path.
type Segment struct {
	Name  string
	Index int  // -1 when the segment carries no concrete index
	Multi bool // true when the segment carries an index or a marker
}

// Segments splits a flat path (without suffix) into named segments.
func Segments(p string) []Segment {
	p, _ = SplitSuffix(p)
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	out := make([]Segment, 0, len(parts))
	for _, part := range parts {
		m := segIndexRe.FindStringSubmatch(part)
		seg := Segment{Name: m[1], Index: -1}
		switch {
		case m[2] != "":
			seg.Index, _ = strconv.Atoi(m[2])
			seg.Multi = true
		case strings.HasSuffix(part, Occurrence):
			seg.Multi = true
		}
		out = append(out, seg)
	}
	return out
}

func (s Segment) String() string {
	switch {
	case s.Index >= 0:
		return s.Name + ":" + strconv.Itoa(s.Index)
	case s.Multi:
		return s.Name + Occurrence
	}
	return s.Name
}

// Indexes returns the concrete indexes of p in order.
func Indexes(p string) []int {
	var out []int
	for _, s := range Segments(p) {
		if s.Index >= 0 {
			out = append(out, s.Index)
		}
	}
	return out
}

// Signature identifies one occurrence of a repeating element: the indexed
// segments of p, in order. Paths without indexes share the empty signature.
func Signature(p string) string {
	var parts []string
	for _, s := range Segments(p) {
		if s.Index >= 0 {
			parts = append(parts, s.String())
		}
	}
	return strings.Join(parts, "/")
}

// InheritIndexes copies the concrete indexes of parent onto the segments of
// child that sit at the same position with the same name. Markers of child
// beyond the shared prefix stay in place.
func InheritIndexes(child, parent string) string {
	childPath, suffix := SplitSuffix(child)
	cs := Segments(childPath)
	ps := Segments(parent)
	for i := 0; i < len(cs) && i < len(ps); i++ {
		if cs[i].Name != ps[i].Name {
			break
		}
		if ps[i].Index >= 0 && cs[i].Multi {
			cs[i].Index = ps[i].Index
		}
	}
	parts := make([]string, len(cs))
	for i, s := range cs {
		parts[i] = s.String()
	}
	out := strings.Join(parts, "/")
	if suffix != "" {
		out += "|" + suffix
	}
	return out
}

// FlatPattern compiles a regular expression matching the flat keys below
// resolved. Occurrence markers become capturing index groups, concrete
// indexes must match literally and unmarked segments accept an optional
// index. The match covers the key up to the end of resolved; the remainder
// (deeper segments or a suffix) is not constrained.
func FlatPattern(resolved string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for i, s := range Segments(resolved) {
		if i > 0 {
			b.WriteString("/")
		}
		b.WriteString(regexp.QuoteMeta(s.Name))
		switch {
		case s.Index >= 0:
			b.WriteString(":" + strconv.Itoa(s.Index))
		case s.Multi:
			b.WriteString(`:(\d+)`)
		default:
			b.WriteString(`(?::\d+)?`)
		}
	}
	b.WriteString(`(?:[/|]|$)`)
	return regexp.MustCompile(b.String())
}

// Group is one occurrence of a resolved path in a flat key set.
type Group struct {
	// Path is the concrete key prefix of the occurrence, without suffix
	Path string
	// Indexes are the indexes captured for the occurrence markers
	Indexes []int
	// Keys are all flat keys at or below Path
	Keys []string
}

// GroupKeys returns the occurrences of resolved found in keys, ordered by
// their captured indexes. Keys are matched index-agnostically for segments
// that carry no marker.
func GroupKeys(keys []string, resolved string) []Group {
	re := FlatPattern(resolved)
	byPath := make(map[string]*Group)
	var order []*Group
	for _, k := range keys {
		loc := re.FindStringSubmatchIndex(k)
		if loc == nil {
			continue
		}
		end := loc[1]
		if end > 0 && (k[end-1] == '/' || k[end-1] == '|') {
			end--
		}
		prefix := k[:end]
		g, ok := byPath[prefix]
		if !ok {
			g = &Group{Path: prefix}
			for i := 2; i+1 < len(loc); i += 2 {
				if loc[i] < 0 {
					continue
				}
				n, _ := strconv.Atoi(k[loc[i]:loc[i+1]])
				g.Indexes = append(g.Indexes, n)
			}
			byPath[prefix] = g
			order = append(order, g)
		}
		g.Keys = append(g.Keys, k)
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if c := compareInts(a.Indexes, b.Indexes); c != 0 {
			return c < 0
		}
		return a.Path < b.Path
	})
	out := make([]Group, len(order))
	for i, g := range order {
		sort.Strings(g.Keys)
		out[i] = *g
	}
	return out
}

func compareInts(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

// FirstSegment returns the first segment of a flat key, without index.
func FirstSegment(key string) string {
	p, _ := SplitSuffix(key)
	if i := strings.Index(p, "/"); i >= 0 {
		p = p[:i]
	}
	return StripIndexes(p)
}
