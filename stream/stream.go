// Package stream translates large inputs resource by resource: the entries
// of a FHIR Bundle read as a token stream, or the lines of an NDJSON bulk
// export. Every resource is translated on its own and results are emitted
// in input order as soon as they are ready.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/buger/jsonparser"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/worker"
)

// maxLine bounds a single NDJSON line.
const maxLine = 16 << 20

// EntryResult represents the translation of a single resource.
type EntryResult struct {
	// Index is the position of the resource in the input, -1 for errors
	// that concern the input as a whole
	Index int

	// FullURL is the fullUrl of the bundle entry (if present)
	FullURL string

	// ResourceType is the type of the translated resource
	ResourceType string

	// ResourceID is the id of the resource (if present)
	ResourceID string

	// Output is the translated payload
	Output []byte

	// Result contains the issues raised for this resource
	Result *openfhir.Result

	// Error is set if the resource could not be read or translated
	Error error
}

// Translator translates resources read from a stream.
type Translator struct {
	translator  worker.Translator
	proto       worker.Job
	bufferSize  int
	workerCount int
}

// NewTranslator creates a stream translator. Every resource is translated
// as a copy of proto with its ID and Payload set.
func NewTranslator(t worker.Translator, proto worker.Job) *Translator {
	return &Translator{
		translator:  t,
		proto:       proto,
		bufferSize:  100,
		workerCount: 4,
	}
}

// WithBufferSize sets the channel buffer size.
func (t *Translator) WithBufferSize(size int) *Translator {
	if size > 0 {
		t.bufferSize = size
	}
	return t
}

// WithWorkerCount sets the number of parallel workers.
func (t *Translator) WithWorkerCount(count int) *Translator {
	if count > 0 {
		t.workerCount = count
	}
	return t
}

// item is one resource read from the input.
type item struct {
	index    int
	fullURL  string
	resource []byte
	err      error
}

// TranslateBundle translates the entries of a Bundle read from r.
func (t *Translator) TranslateBundle(ctx context.Context, r io.Reader) <-chan *EntryResult {
	items := make(chan item, t.bufferSize)
	go func() {
		defer close(items)
		readBundle(ctx, r, items)
	}()
	return t.run(ctx, items)
}

// TranslateNDJSON translates one resource per line of r. Blank lines are
// skipped.
func (t *Translator) TranslateNDJSON(ctx context.Context, r io.Reader) <-chan *EntryResult {
	items := make(chan item, t.bufferSize)
	go func() {
		defer close(items)
		readNDJSON(ctx, r, items)
	}()
	return t.run(ctx, items)
}

// send delivers it unless ctx is done.
func send(ctx context.Context, items chan<- item, it item) bool {
	select {
	case items <- it:
		return true
	case <-ctx.Done():
		return false
	}
}

func readBundle(ctx context.Context, r io.Reader, items chan<- item) {
	decoder := json.NewDecoder(r)

	token, err := decoder.Token()
	if err != nil {
		send(ctx, items, item{index: -1, err: fmt.Errorf("failed to read bundle: %w", err)})
		return
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		send(ctx, items, item{index: -1, err: fmt.Errorf("expected object start, got %v", token)})
		return
	}

	for decoder.More() {
		if ctx.Err() != nil {
			return
		}
		token, err := decoder.Token()
		if err != nil {
			send(ctx, items, item{index: -1, err: fmt.Errorf("failed to read field: %w", err)})
			return
		}
		field, _ := token.(string)

		switch field {
		case "entry":
			readEntries(ctx, decoder, items)
			return
		case "resourceType":
			var rt string
			if err := decoder.Decode(&rt); err != nil || rt != "Bundle" {
				send(ctx, items, item{index: -1, err: fmt.Errorf("%w: expected a Bundle, got %q", openfhir.ErrInvalidPayload, rt)})
				return
			}
		default:
			var skip json.RawMessage
			if err := decoder.Decode(&skip); err != nil {
				send(ctx, items, item{index: -1, err: fmt.Errorf("failed to skip field %s: %w", field, err)})
				return
			}
		}
	}
}

func readEntries(ctx context.Context, decoder *json.Decoder, items chan<- item) {
	token, err := decoder.Token()
	if err != nil {
		send(ctx, items, item{index: -1, err: fmt.Errorf("failed to read entry array: %w", err)})
		return
	}
	if delim, ok := token.(json.Delim); !ok || delim != '[' {
		send(ctx, items, item{index: -1, err: fmt.Errorf("expected array start, got %v", token)})
		return
	}

	for index := 0; decoder.More(); index++ {
		var entry json.RawMessage
		if err := decoder.Decode(&entry); err != nil {
			send(ctx, items, item{index: index, err: fmt.Errorf("failed to decode entry %d: %w", index, err)})
			return
		}
		it := item{index: index}
		it.fullURL, _ = jsonparser.GetString(entry, "fullUrl")
		if resource, dt, _, err := jsonparser.Get(entry, "resource"); err == nil && dt == jsonparser.Object {
			it.resource = resource
		}
		if !send(ctx, items, it) {
			return
		}
	}
}

func readNDJSON(ctx context.Context, r io.Reader, items chan<- item) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLine)

	index := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		resource := make([]byte, len(line))
		copy(resource, line)
		if !send(ctx, items, item{index: index, resource: resource}) {
			return
		}
		index++
	}
	if err := scanner.Err(); err != nil {
		send(ctx, items, item{index: -1, err: fmt.Errorf("failed to read line %d: %w", index+1, err)})
	}
}

// run translates items in parallel and emits the results in input order.
func (t *Translator) run(ctx context.Context, items <-chan item) <-chan *EntryResult {
	results := make(chan *EntryResult, t.bufferSize)

	go func() {
		defer close(results)

		resultChan := make(chan *EntryResult, t.bufferSize)
		var wg sync.WaitGroup
		for i := 0; i < t.workerCount; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for it := range items {
					if ctx.Err() != nil {
						continue
					}
					resultChan <- t.translate(ctx, it)
				}
			}()
		}
		go func() {
			wg.Wait()
			close(resultChan)
		}()

		// Collect results and reorder
		pending := make(map[int]*EntryResult)
		next := 0
		for result := range resultChan {
			if result.Index < 0 {
				results <- result
				continue
			}
			pending[result.Index] = result
			for {
				r, ok := pending[next]
				if !ok {
					break
				}
				results <- r
				delete(pending, next)
				next++
			}
		}

		// Emit any remaining results in order
		rest := make([]int, 0, len(pending))
		for i := range pending {
			rest = append(rest, i)
		}
		sort.Ints(rest)
		for _, i := range rest {
			results <- pending[i]
		}
		if err := ctx.Err(); err != nil {
			results <- &EntryResult{Index: -1, Error: err}
		}
	}()

	return results
}

// translate translates a single resource.
func (t *Translator) translate(ctx context.Context, it item) *EntryResult {
	result := &EntryResult{Index: it.index, FullURL: it.fullURL, Error: it.err}
	if it.err != nil {
		return result
	}
	if it.resource == nil {
		result.Result = openfhir.NewResult()
		result.Result.AddIssue(openfhir.Info(openfhir.CodeProcessing).Diagnostics("entry has no resource").Build())
		return result
	}

	result.ResourceType, _ = jsonparser.GetString(it.resource, "resourceType")
	result.ResourceID, _ = jsonparser.GetString(it.resource, "id")

	job := t.proto
	job.ID = it.fullURL
	if job.ID == "" {
		job.ID = strconv.Itoa(it.index)
	}
	job.Payload = it.resource
	result.Output, result.Result, result.Error = t.translator.Translate(ctx, job)
	return result
}

// Summary aggregates results from a streaming translation.
type Summary struct {
	// TotalEntries is the number of resources processed
	TotalEntries int

	// Translated is the count of resources that produced output
	Translated int

	// EntriesWithErrors is the count of resources that failed or had errors
	EntriesWithErrors int

	// EntriesWithWarnings is the count of resources that had warnings (but no errors)
	EntriesWithWarnings int

	// TotalIssues is the total number of issues found
	TotalIssues int

	// ProcessingErrors are errors that concern the input as a whole
	ProcessingErrors []error

	// Issues is a slice of all issues, indexed by entry
	Issues map[int][]openfhir.Issue
}

// Aggregate collects all results from a streaming translation. fn, when
// not nil, sees every result before its Result is released.
func Aggregate(results <-chan *EntryResult, fn func(*EntryResult)) *Summary {
	agg := &Summary{Issues: make(map[int][]openfhir.Issue)}

	for result := range results {
		if fn != nil {
			fn(result)
		}
		if result.Index < 0 {
			agg.ProcessingErrors = append(agg.ProcessingErrors, result.Error)
			continue
		}

		agg.TotalEntries++
		if result.Error != nil {
			agg.EntriesWithErrors++
			continue
		}
		if len(result.Output) > 0 {
			agg.Translated++
		}
		if result.Result == nil {
			continue
		}

		issues := result.Result.Issues
		if len(issues) > 0 {
			agg.Issues[result.Index] = append([]openfhir.Issue(nil), issues...)
			agg.TotalIssues += len(issues)

			hasError := false
			hasWarning := false
			for _, issue := range issues {
				if issue.IsError() {
					hasError = true
				} else if issue.IsWarning() {
					hasWarning = true
				}
			}

			if hasError {
				agg.EntriesWithErrors++
			} else if hasWarning {
				agg.EntriesWithWarnings++
			}
		}

		result.Result.Release()
	}

	return agg
}

// HasErrors returns true if any resource failed or the input was unreadable.
func (s *Summary) HasErrors() bool {
	return s.EntriesWithErrors > 0 || len(s.ProcessingErrors) > 0
}
