package paths

import (
	"regexp"
	"strings"

	"github.com/gofhir/fhir/r4/helpers"
)

var criteriaPrefixRe = regexp.MustCompile(`^\$[A-Za-z0-9_-]+\.`)

// Condition operators understood by WhereClause.
const (
	OpOneOf = "one of"
	OpEmpty = "empty"
	OpNotOf = "not of"
)

// ParseCriteria splits a bracketed criteria literal ("[a, b]") into its
// values. Terminology prefixes such as "$loinc." are removed.
func ParseCriteria(criteria string) []string {
	c := strings.TrimSpace(criteria)
	c = strings.TrimPrefix(c, "[")
	c = strings.TrimSuffix(c, "]")
	if strings.TrimSpace(c) == "" {
		return nil
	}
	parts := strings.Split(c, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"'`)
		p = criteriaPrefixRe.ReplaceAllString(p, "")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CriteriaSystem returns the code system URL implied by a criteria prefix
// such as "$loinc.", or "".
func CriteriaSystem(criteria string) string {
	c := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(criteria), "["))
	m := criteriaPrefixRe.FindString(c)
	switch strings.ToLower(strings.Trim(m, "$.")) {
	case "loinc":
		return helpers.LOINCSystem
	case "snomed":
		return "http://snomed.info/sct"
	case "ucum":
		return helpers.UCUMSystem
	}
	return ""
}

// WhereClause builds the where() call that narrows an expression to the
// elements whose attributes satisfy operator and values.
func WhereClause(operator string, attributes, values []string) string {
	if len(attributes) == 0 {
		attributes = []string{"$this"}
	}
	var terms []string
	switch strings.ToLower(strings.TrimSpace(operator)) {
	case OpEmpty:
		for _, a := range attributes {
			terms = append(terms, a+".empty()")
		}
		return "where(" + strings.Join(terms, " or ") + ")"
	case OpNotOf:
		for _, a := range attributes {
			for _, v := range values {
				terms = append(terms, "("+a+" contains '"+escape(v)+"')")
			}
		}
		if len(terms) == 0 {
			return "where(true)"
		}
		return "where((" + strings.Join(terms, " or ") + ").not())"
	default:
		for _, a := range attributes {
			for _, v := range values {
				terms = append(terms, "("+a+" contains '"+escape(v)+"')")
			}
		}
		if len(terms) == 0 {
			return "where(false)"
		}
		return "where(" + strings.Join(terms, " or ") + ")"
	}
}

func escape(v string) string {
	return strings.ReplaceAll(strings.ReplaceAll(v, `\`, `\\`), `'`, `\'`)
}

// InsertCondition inserts clause (a where() call) into expr directly after
// the segment targetRoot names. Both expressions are expected in amended
// form. exact is false when targetRoot is not a literal prefix of expr; the
// clause is then placed after the longest run of leading member names the
// two expressions share, or appended when they share none.
func InsertCondition(expr, targetRoot, clause string) (out string, exact bool) {
	switch {
	case targetRoot == "" || expr == targetRoot:
		return expr + "." + clause, true
	case strings.HasPrefix(expr, targetRoot+"."):
		return targetRoot + "." + clause + expr[len(targetRoot):], true
	}

	exprSegs := SplitTopLevel(expr, '.')
	rootSegs := SplitTopLevel(targetRoot, '.')
	shared := 0
	j := 0
	for i := 0; i < len(exprSegs) && j < len(rootSegs); i++ {
		if isCallToken(exprSegs[i]) {
			if i > 0 && j > 0 {
				shared = i + 1
			}
			continue
		}
		if exprSegs[i] != rootSegs[j] {
			break
		}
		j++
		shared = i + 1
	}
	if shared == 0 || shared >= len(exprSegs) {
		return expr + "." + clause, false
	}
	head := strings.Join(exprSegs[:shared], ".")
	tail := strings.Join(exprSegs[shared:], ".")
	return head + "." + clause + "." + tail, false
}

func isCallToken(tok string) bool {
	_, _, ok := splitCall(strings.TrimSpace(tok))
	return ok
}
