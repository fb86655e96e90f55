package openfhir

import (
	"fmt"
	"strings"
)

// IssueSeverity ranks an issue.
type IssueSeverity string

const (
	// SeverityFatal indicates the translation could not be performed.
	SeverityFatal IssueSeverity = "fatal"
	// SeverityError indicates part of the output was dropped.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a mapping was skipped or applied by a fallback rule.
	SeverityWarning IssueSeverity = "warning"
	// SeverityInformation indicates informational feedback.
	SeverityInformation IssueSeverity = "information"
)

// IssueCode names the kind of an issue.
type IssueCode string

const (
	// CodeUnresolvedPath indicates an openEHR path that does not exist in the template.
	CodeUnresolvedPath IssueCode = "unresolved-path"
	// CodeUnmatchedAppend indicates an APPEND extension whose appendTo target was not found.
	CodeUnmatchedAppend IssueCode = "unmatched-append"
	// CodeUnknownBase indicates an extension naming a base model that is not loaded.
	CodeUnknownBase IssueCode = "unknown-base"
	// CodeConditionFallback indicates a condition whose targetRoot was not a prefix of the expression.
	CodeConditionFallback IssueCode = "condition-fallback"
	// CodeNoMapper indicates that no model mapping applied to a resource.
	CodeNoMapper IssueCode = "no-mapper"
	// CodeMultipleMappers indicates that several model mappings applied to one resource.
	CodeMultipleMappers IssueCode = "multiple-mappers"
	// CodeExpression indicates a FHIRPath expression that failed to evaluate.
	CodeExpression IssueCode = "expression"
	// CodeInstantiation indicates a FHIR element that could not be created.
	CodeInstantiation IssueCode = "instantiation"
	// CodeValue indicates a value that could not be converted to the target type.
	CodeValue IssueCode = "value"
	// CodeReference indicates a reference that could not be resolved.
	CodeReference IssueCode = "reference"
	// CodeInvalidMapping indicates a mapping that is structurally incomplete.
	CodeInvalidMapping IssueCode = "invalid-mapping"
	// CodeProcessing indicates any other processing problem.
	CodeProcessing IssueCode = "processing"
)

// Issue is one problem met while translating.
type Issue struct {
	Severity IssueSeverity `json:"severity"`
	Code     IssueCode     `json:"code"`

	Diagnostics string `json:"diagnostics,omitempty"`

	// Mapping is the dotted name path of the mapping that raised the issue.
	Mapping string `json:"mapping,omitempty"`

	Archetype string `json:"archetype,omitempty"`

	// Path is an openEHR or FHIR path, whichever side the issue concerns.
	Path string `json:"path,omitempty"`
}

// IsError reports whether the issue is an error or fatal.
func (i Issue) IsError() bool {
	switch i.Severity {
	case SeverityError, SeverityFatal:
		return true
	}
	return false
}

// IsWarning reports whether the issue is a warning.
func (i Issue) IsWarning() bool { return i.Severity == SeverityWarning }

// String formats the issue as "severity: diagnostics (mapping m) at path".
func (i Issue) String() string {
	var b strings.Builder
	b.WriteString(string(i.Severity))
	b.WriteString(": ")
	b.WriteString(i.Diagnostics)
	if i.Mapping != "" {
		fmt.Fprintf(&b, " (mapping %s)", i.Mapping)
	}
	if i.Path != "" {
		b.WriteString(" at ")
		b.WriteString(i.Path)
	}
	return b.String()
}

// IssueBuilder assembles an Issue field by field:
//
//	openfhir.Warning(openfhir.CodeValue).Diagnostics(msg).Mapping(name).At(path).Build()
type IssueBuilder struct {
	issue Issue
}

// NewIssue starts an issue of the given severity and code.
func NewIssue(severity IssueSeverity, code IssueCode) *IssueBuilder {
	return &IssueBuilder{issue: Issue{Severity: severity, Code: code}}
}

// Error starts an error issue.
func Error(code IssueCode) *IssueBuilder { return NewIssue(SeverityError, code) }

// Warning starts a warning issue.
func Warning(code IssueCode) *IssueBuilder { return NewIssue(SeverityWarning, code) }

// Info starts an informational issue.
func Info(code IssueCode) *IssueBuilder { return NewIssue(SeverityInformation, code) }

func (b *IssueBuilder) Diagnostics(msg string) *IssueBuilder {
	b.issue.Diagnostics = msg
	return b
}

func (b *IssueBuilder) Mapping(name string) *IssueBuilder {
	b.issue.Mapping = name
	return b
}

func (b *IssueBuilder) Archetype(id string) *IssueBuilder {
	b.issue.Archetype = id
	return b
}

// At sets the path.
func (b *IssueBuilder) At(path string) *IssueBuilder {
	b.issue.Path = path
	return b
}

func (b *IssueBuilder) Build() Issue {
	return b.issue
}
