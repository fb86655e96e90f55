// Package terminology translates between FHIR code system URLs and openEHR
// terminology ids, e.g. "http://snomed.info/sct" and "SNOMED-CT".
package terminology

import (
	"strings"
	"sync"

	"github.com/gofhir/fhir/r4/helpers"
)

// Well-known code systems.
const (
	SNOMEDSystem   = "http://snomed.info/sct"
	ICD10System    = "http://hl7.org/fhir/sid/icd-10"
	LanguageSystem = "urn:ietf:bcp:47"
)

// Registry holds a two-way mapping of code system URLs and terminology ids.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	toOpenEHR map[string]string
	toFHIR    map[string]string
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// NewRegistry creates a registry preloaded with the common terminologies.
func NewRegistry() *Registry {
	r := &Registry{
		toOpenEHR: make(map[string]string),
		toFHIR:    make(map[string]string),
	}
	r.Register(SNOMEDSystem, "SNOMED-CT")
	r.Register(helpers.LOINCSystem, "LOINC")
	r.Register(helpers.UCUMSystem, "UCUM")
	r.Register(ICD10System, "ICD10")
	r.Register(LanguageSystem, "ISO_639-1")
	return r
}

// Register adds a code system URL and its terminology id. Later
// registrations win in both directions.
func (r *Registry) Register(system, terminologyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toOpenEHR[stripVersion(system)] = terminologyID
	r.toFHIR[strings.ToUpper(terminologyID)] = system
}

// OpenEHR returns the terminology id of a code system URL. Unknown systems
// are returned unchanged.
func (r *Registry) OpenEHR(system string) string {
	if system == "" {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.toOpenEHR[stripVersion(system)]; ok {
		return id
	}
	return system
}

// FHIR returns the code system URL of a terminology id. Unknown ids are
// returned unchanged.
func (r *Registry) FHIR(terminologyID string) string {
	if terminologyID == "" {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sys, ok := r.toFHIR[strings.ToUpper(terminologyID)]; ok {
		return sys
	}
	return terminologyID
}

// Len returns the number of registered systems.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.toOpenEHR)
}

// stripVersion removes a "|version" suffix from a canonical URL.
func stripVersion(url string) string {
	if idx := strings.Index(url, "|"); idx != -1 {
		return url[:idx]
	}
	return url
}
