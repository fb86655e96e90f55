package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCriteria(t *testing.T) {
	assert.Equal(t, []string{"draft", "active"}, ParseCriteria("[draft,active]"))
	assert.Equal(t, []string{"8480-6"}, ParseCriteria("[$loinc.8480-6]"))
	assert.Equal(t, []string{"a", "b"}, ParseCriteria(" [ 'a' , \"b\" ] "))
	assert.Nil(t, ParseCriteria("[]"))
	assert.Nil(t, ParseCriteria(""))
}

func TestCriteriaSystem(t *testing.T) {
	assert.Equal(t, "http://loinc.org", CriteriaSystem("[$loinc.29463-7]"))
	assert.Equal(t, "http://snomed.info/sct", CriteriaSystem("$snomed.27113001"))
	assert.Empty(t, CriteriaSystem("[final]"))
}

func TestWhereClause(t *testing.T) {
	assert.Equal(t, "where((code.coding.code contains '8480-6'))",
		WhereClause(OpOneOf, []string{"code.coding.code"}, []string{"8480-6"}))
	assert.Equal(t, "where((status contains 'a') or (status contains 'b'))",
		WhereClause("One Of", []string{"status"}, []string{"a", "b"}))
	assert.Equal(t, "where(effective.empty())",
		WhereClause(OpEmpty, []string{"effective"}, nil))
	assert.Equal(t, "where(((status contains 'x')).not())",
		WhereClause(OpNotOf, []string{"status"}, []string{"x"}))
	assert.Equal(t, "where(false)", WhereClause(OpOneOf, []string{"status"}, nil))
	assert.Equal(t, `where((text contains 'it\'s'))`, WhereClause(OpOneOf, []string{"text"}, []string{"it's"}))
}

func TestInsertCondition_LiteralPrefix(t *testing.T) {
	clause := "where((code.coding.code contains '8480-6'))"
	out, exact := InsertCondition("Observation.component.value", "Observation.component", clause)
	assert.True(t, exact)
	assert.Equal(t, "Observation.component.where((code.coding.code contains '8480-6')).value", out)

	out, exact = InsertCondition("Observation.component", "Observation.component", clause)
	assert.True(t, exact)
	assert.Equal(t, "Observation.component."+clause, out)

	out, exact = InsertCondition("Observation.value", "Observation", "where(x)")
	assert.True(t, exact)
	assert.Equal(t, "Observation.where(x).value", out)
}

func TestInsertCondition_Fallback(t *testing.T) {
	out, exact := InsertCondition("Observation.component.where(a).value", "Observation.component.code", "where(b)")
	assert.False(t, exact)
	assert.Equal(t, "Observation.component.where(a).where(b).value", out)

	out, exact = InsertCondition("Observation.value", "Patient.name", "where(b)")
	assert.False(t, exact)
	assert.Equal(t, "Observation.value.where(b)", out)
}
