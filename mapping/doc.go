// Package mapping holds the FHIR Connect mapping model: context and model
// mapping documents, their YAML parsing, deep copies, manual shorthand
// expansion and the ADD/APPEND/OVERWRITE extension merge.
//
// Parsed models are never executed directly. Callers clone them (MergeModel
// always does) and treat the clone as read-only.
package mapping
