package openfhir

import (
	"slices"
	"sync"
)

// Result collects the issues of one translation. It is safe for concurrent
// use. Pooled results obtained from AcquireResult go back with Release.
type Result struct {
	// OK is false once an error or fatal issue was recorded.
	OK bool `json:"ok"`

	Issues []Issue `json:"issues,omitempty"`

	// JobID correlates the result with a batch job.
	JobID string `json:"jobId,omitempty"`

	// TemplateID is the normalized id of the template translated against.
	TemplateID string `json:"templateId,omitempty"`

	// Archetypes lists the archetypes whose model mappings produced data,
	// in first-use order.
	Archetypes []string `json:"archetypes,omitempty"`

	mu sync.Mutex
}

// NewResult returns an empty, unpooled result.
func NewResult() *Result {
	return &Result{OK: true, Issues: make([]Issue, 0, 8)}
}

// maxPooledIssues bounds the issue capacity a pooled result may keep.
const maxPooledIssues = 1024

var results = sync.Pool{
	New: func() any { return &Result{Issues: make([]Issue, 0, 16)} },
}

// AcquireResult returns an empty result from the pool.
func AcquireResult() *Result {
	r := results.Get().(*Result)
	r.Reset()
	return r
}

// Release hands r back to the pool. r must not be used afterwards.
func (r *Result) Release() {
	if r != nil && cap(r.Issues) <= maxPooledIssues {
		results.Put(r)
	}
}

// Reset empties r.
func (r *Result) Reset() {
	r.OK = true
	r.JobID, r.TemplateID = "", ""
	r.Issues = r.Issues[:0]
	r.Archetypes = r.Archetypes[:0]
}

// AddIssue records issue.
func (r *Result) AddIssue(issue Issue) {
	r.AddIssues([]Issue{issue})
}

// AddIssues records issues in order.
func (r *Result) AddIssues(issues []Issue) {
	if len(issues) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Issues = append(r.Issues, issues...)
	if slices.ContainsFunc(issues, Issue.IsError) {
		r.OK = false
	}
}

// AddWarning records a warning about the element at path.
func (r *Result) AddWarning(code IssueCode, diagnostics, path string) {
	r.AddIssue(Issue{Severity: SeverityWarning, Code: code, Diagnostics: diagnostics, Path: path})
}

// AddError records an error about the element at path.
func (r *Result) AddError(code IssueCode, diagnostics, path string) {
	r.AddIssue(Issue{Severity: SeverityError, Code: code, Diagnostics: diagnostics, Path: path})
}

// AddArchetype notes that a model mapping of archetype produced data.
func (r *Result) AddArchetype(archetype string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.Archetypes, archetype) {
		r.Archetypes = append(r.Archetypes, archetype)
	}
}

// filter returns the issues keep accepts.
func (r *Result) filter(keep func(Issue) bool) []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Issue
	for _, issue := range r.Issues {
		if keep(issue) {
			out = append(out, issue)
		}
	}
	return out
}

// HasErrors reports whether an error or fatal issue was recorded.
func (r *Result) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.ContainsFunc(r.Issues, Issue.IsError)
}

// ErrorCount returns the number of error and fatal issues.
func (r *Result) ErrorCount() int {
	return len(r.filter(Issue.IsError))
}

// Warnings returns the warning issues.
func (r *Result) Warnings() []Issue {
	return r.filter(Issue.IsWarning)
}

// ByCode returns the issues carrying code.
func (r *Result) ByCode(code IssueCode) []Issue {
	return r.filter(func(i Issue) bool { return i.Code == code })
}

// Merge appends the issues of other to r.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	other.mu.Lock()
	issues := slices.Clone(other.Issues)
	other.mu.Unlock()
	r.AddIssues(issues)
}
