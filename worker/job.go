package worker

import openfhir "github.com/vitagroupag/openFHIR-sub001"

// Job is one payload to translate.
type Job struct {
	// ID identifies the job in its result.
	ID string

	// Direction selects the engine.
	Direction openfhir.Direction

	// Payload is a FHIR resource or Bundle for ToOpenEHR, a flat or
	// canonical composition for ToFHIR.
	Payload []byte

	// TemplateID is optional; it is sniffed from the payload or selected
	// by context when empty.
	TemplateID string

	// Flat requests flat instead of canonical openEHR output.
	Flat bool
}

// JobResult is the outcome of one Job.
type JobResult struct {
	// ID matches the Job.ID that produced this result.
	ID string

	// Output is the translated payload, nil on error.
	Output []byte

	// Result holds the issues raised while translating.
	Result *openfhir.Result

	// Error is set when the translation failed.
	Error error

	// Duration is the time taken in nanoseconds.
	Duration int64
}

// BatchResult aggregates the results of a batch.
type BatchResult struct {
	Results []*JobResult

	TotalJobs     int
	CompletedJobs int
	FailedJobs    int

	// TotalDuration is the sum of job durations in nanoseconds.
	TotalDuration int64
}

// HasErrors reports whether any job failed or raised an error issue.
func (br *BatchResult) HasErrors() bool {
	for _, r := range br.Results {
		if r == nil {
			continue
		}
		if r.Error != nil {
			return true
		}
		if r.Result != nil && r.Result.HasErrors() {
			return true
		}
	}
	return false
}

// ErrorCount returns the number of error issues across all results.
func (br *BatchResult) ErrorCount() int {
	count := 0
	for _, r := range br.Results {
		if r != nil && r.Result != nil {
			count += r.Result.ErrorCount()
		}
	}
	return count
}
