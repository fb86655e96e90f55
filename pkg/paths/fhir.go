package paths

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/gofhir/fhir/r4"
)

var rootPlaceholders = []string{"$fhirRoot", "$fhirResource", "$resource"}

var castRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\.as\(\s*([A-Za-z]+)\s*\)`)

// castNames maps type names used in as() casts onto the FHIR type suffix of
// polymorphic elements.
var castNames = map[string]string{
	"BooleanType":  "Boolean",
	"DateTimeType": "DateTime",
	"DateType":     "Date",
	"TimeType":     "Time",
	"StringType":   "String",
	"IntegerType":  "Integer",
	"DecimalType":  "Decimal",
	"boolean":      "Boolean",
	"dateTime":     "DateTime",
	"date":         "Date",
	"time":         "Time",
	"string":       "String",
	"integer":      "Integer",
	"decimal":      "Decimal",
	"code":         "Code",
	"uri":          "Uri",
}

// CastSuffix normalizes a cast type name into an element suffix.
func CastSuffix(name string) string {
	if s, ok := castNames[name]; ok {
		return s
	}
	if strings.HasSuffix(name, "Type") && len(name) > 4 {
		name = strings.TrimSuffix(name, "Type")
	}
	return upperFirst(name)
}

// RewriteCasts turns member casts into polymorphic member names, e.g.
// "value.as(Quantity)" into "valueQuantity". Casts after function calls
// such as "resolve().as(Medication)" are left alone.
func RewriteCasts(expr string) string {
	return castRe.ReplaceAllStringFunc(expr, func(m string) string {
		sub := castRe.FindStringSubmatch(m)
		if r4.IsKnownResourceType(sub[2]) {
			return m
		}
		return sub[1] + CastSuffix(sub[2])
	})
}

// IsRootPlaceholder reports whether s is one of the resource root placeholders.
func IsRootPlaceholder(s string) bool {
	for _, p := range rootPlaceholders {
		if s == p {
			return true
		}
	}
	return false
}

// LeadingResourceType returns the first segment of expr when it names a
// resource type (starts with an upper-case letter).
func LeadingResourceType(expr string) (string, bool) {
	head := expr
	if i := indexTopLevel(expr, '.'); i >= 0 {
		head = expr[:i]
	}
	if head == "" || !unicode.IsUpper(rune(head[0])) {
		return "", false
	}
	for _, r := range head {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return "", false
		}
	}
	return head, true
}

// AmendFHIRPath anchors expr at resourceType: root placeholders are
// replaced and relative expressions are prefixed. An expression that
// already starts with a resource type is returned unchanged.
func AmendFHIRPath(resourceType, expr string) string {
	expr = strings.TrimSpace(expr)
	for _, p := range rootPlaceholders {
		if expr == p {
			return resourceType
		}
		if strings.HasPrefix(expr, p+".") {
			return resourceType + expr[len(p):]
		}
	}
	if expr == "" {
		return resourceType
	}
	if _, ok := LeadingResourceType(expr); ok {
		return expr
	}
	return resourceType + "." + expr
}

// RelativeFHIRPath strips the root placeholder or the leading resource type
// from expr. The root itself yields "".
func RelativeFHIRPath(resourceType, expr string) string {
	expr = strings.TrimSpace(expr)
	for _, p := range rootPlaceholders {
		if expr == p {
			return ""
		}
		if strings.HasPrefix(expr, p+".") {
			return expr[len(p)+1:]
		}
	}
	if resourceType != "" {
		if expr == resourceType {
			return ""
		}
		if strings.HasPrefix(expr, resourceType+".") {
			return expr[len(resourceType)+1:]
		}
	}
	return expr
}

// FHIRSegment is one member step of a FHIRPath expression together with
// the function calls applied to it.
type FHIRSegment struct {
	// Name is the member name; empty for a leading function call
	Name string
	// Where holds the arguments of where() calls applied to the member
	Where []string
	// Cast is the type of an as()/ofType() call applied to the member
	Cast string
	// Resolve is true when resolve() follows the member
	Resolve bool
	// ResolveType is the type of an ofType()/as() call after resolve()
	ResolveType string
	// First is true when first() follows the member
	First bool
}

// String renders the segment back into FHIRPath.
func (s FHIRSegment) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	if s.Cast != "" {
		b.WriteString(".as(" + s.Cast + ")")
	}
	for _, w := range s.Where {
		b.WriteString(".where(" + w + ")")
	}
	if s.First {
		b.WriteString(".first()")
	}
	if s.Resolve {
		b.WriteString(".resolve()")
		if s.ResolveType != "" {
			b.WriteString(".ofType(" + s.ResolveType + ")")
		}
	}
	return strings.TrimPrefix(b.String(), ".")
}

// ParseFHIRPath splits expr into member segments. Calls of where, as,
// ofType, resolve and first are attached to the member they follow; other
// function calls are ignored.
func ParseFHIRPath(expr string) []FHIRSegment {
	var out []FHIRSegment
	for _, tok := range SplitTopLevel(expr, '.') {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		name, arg, isCall := splitCall(tok)
		if !isCall {
			out = append(out, FHIRSegment{Name: tok})
			continue
		}
		if len(out) == 0 {
			out = append(out, FHIRSegment{})
		}
		last := &out[len(out)-1]
		switch name {
		case "where":
			last.Where = append(last.Where, arg)
		case "as", "ofType":
			if last.Resolve {
				last.ResolveType = arg
			} else {
				last.Cast = arg
			}
		case "resolve":
			last.Resolve = true
		case "first":
			last.First = true
		}
	}
	return out
}

// JoinFHIRSegments renders segments back into one expression.
func JoinFHIRSegments(segs []FHIRSegment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if str := s.String(); str != "" {
			parts = append(parts, str)
		}
	}
	return strings.Join(parts, ".")
}

func splitCall(tok string) (name, arg string, ok bool) {
	open := strings.IndexByte(tok, '(')
	if open <= 0 || !strings.HasSuffix(tok, ")") {
		return "", "", false
	}
	return tok[:open], strings.TrimSpace(tok[open+1 : len(tok)-1]), true
}

// SplitTopLevel splits s on sep outside of parentheses and quotes.
func SplitTopLevel(s string, sep byte) []string {
	var out []string
	depth, start := 0, 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && inQuote:
			i++
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == sep && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func indexTopLevel(s string, sep byte) int {
	parts := SplitTopLevel(s, sep)
	if len(parts) < 2 {
		return -1
	}
	return len(parts[0])
}

// SplitAtResolve splits expr at its first top-level resolve() call. The
// part after resolve() is returned without its leading dot and with a
// leading ofType()/as() type removed into resolvedType.
func SplitAtResolve(expr string) (before, after, resolvedType string, found bool) {
	parts := SplitTopLevel(expr, '.')
	for i, p := range parts {
		if strings.TrimSpace(p) != "resolve()" {
			continue
		}
		before = strings.Join(parts[:i], ".")
		rest := parts[i+1:]
		if len(rest) > 0 {
			if name, arg, ok := splitCall(strings.TrimSpace(rest[0])); ok && (name == "ofType" || name == "as") {
				resolvedType = arg
				rest = rest[1:]
			}
		}
		return before, strings.Join(rest, "."), resolvedType, true
	}
	return expr, "", "", false
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
