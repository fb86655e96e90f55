// Package pool recycles the buffers used to build flat openEHR keys and
// dotted FHIR paths.
package pool

import (
	"strconv"
	"sync"
)

// maxPooledPath bounds the buffer a pooled builder may keep.
const maxPooledPath = 4096

// PathBuilder assembles flat openEHR keys and dotted FHIR paths in a
// reusable buffer.
type PathBuilder struct {
	buf []byte
}

var builders = sync.Pool{
	New: func() any { return &PathBuilder{buf: make([]byte, 0, 256)} },
}

// AcquirePathBuilder returns an empty builder; hand it back with Release.
func AcquirePathBuilder() *PathBuilder {
	b := builders.Get().(*PathBuilder)
	b.Reset()
	return b
}

func (b *PathBuilder) Release() {
	if b != nil && cap(b.buf) <= maxPooledPath {
		builders.Put(b)
	}
}

// Reset empties the buffer, keeping its capacity.
func (b *PathBuilder) Reset() { b.buf = b.buf[:0] }

func (b *PathBuilder) Len() int { return len(b.buf) }

// String returns the path built so far.
func (b *PathBuilder) String() string { return string(b.buf) }

// WriteString appends s as is.
func (b *PathBuilder) WriteString(s string) {
	b.buf = append(b.buf, s...)
}

// joined appends s after sep, leaving out sep at the start of the path.
func (b *PathBuilder) joined(sep byte, s string) {
	if len(b.buf) > 0 {
		b.buf = append(b.buf, sep)
	}
	b.buf = append(b.buf, s...)
}

func (b *PathBuilder) number(n int) {
	b.buf = strconv.AppendInt(b.buf, int64(n), 10)
}

// Segment appends an openEHR node id: "a" then "a/b".
func (b *PathBuilder) Segment(id string) { b.joined('/', id) }

// Occurrence appends the flat occurrence index ":n".
func (b *PathBuilder) Occurrence(n int) {
	b.buf = append(b.buf, ':')
	b.number(n)
}

// Attribute appends "|attr"; it does nothing for an empty attr.
func (b *PathBuilder) Attribute(attr string) {
	if attr != "" {
		b.buf = append(append(b.buf, '|'), attr...)
	}
}

// Member appends a FHIR element name: "a" then "a.b".
func (b *PathBuilder) Member(name string) { b.joined('.', name) }

// Index appends the FHIR list index "[n]".
func (b *PathBuilder) Index(n int) {
	b.buf = append(b.buf, '[')
	b.number(n)
	b.buf = append(b.buf, ']')
}

// BuildPath returns the path fn writes into a pooled builder.
//
//	key := pool.BuildPath(func(b *pool.PathBuilder) {
//	    b.Segment("growth_chart")
//	    b.Segment("body_weight")
//	    b.Occurrence(0)
//	    b.Attribute("magnitude")
//	})
func BuildPath(fn func(*PathBuilder)) string {
	b := AcquirePathBuilder()
	defer b.Release()
	fn(b)
	return b.String()
}

// FlatKey returns "path|attr", or path alone for an empty attr.
func FlatKey(path, attr string) string {
	if attr == "" {
		return path
	}
	return BuildPath(func(b *PathBuilder) {
		b.WriteString(path)
		b.Attribute(attr)
	})
}

// JoinMembers joins the non-empty members with dots.
func JoinMembers(members ...string) string {
	return BuildPath(func(b *PathBuilder) {
		for _, m := range members {
			if m != "" {
				b.Member(m)
			}
		}
	})
}
