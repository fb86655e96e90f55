// Package specs provides embedded mapping sets used as fixtures and as
// ready-made examples.
//
// Each set is a directory holding one FHIR Connect context mapping
// (*.context.yml), its model mappings (*.model.yml), the web template of the
// openEHR template (*.wt.json) and sample payloads in both formats.
//
// Usage:
//
//	fsys, err := specs.FS(specs.BloodPressure)
//	if err != nil {
//	    return err
//	}
//	store := loader.NewStore()
//	if _, err := store.LoadFS(fsys); err != nil {
//	    return err
//	}
package specs

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed blood_pressure/*
var bloodPressure embed.FS

//go:embed growth_chart/*
var growthChart embed.FS

// Set names an embedded mapping set.
type Set string

const (
	BloodPressure Set = "blood_pressure"
	GrowthChart   Set = "growth_chart"
)

// Sets returns all embedded sets.
func Sets() []Set {
	return []Set{BloodPressure, GrowthChart}
}

// FS returns the files of set rooted at the set directory.
func FS(set Set) (fs.FS, error) {
	var root embed.FS
	switch set {
	case BloodPressure:
		root = bloodPressure
	case GrowthChart:
		root = growthChart
	default:
		return nil, fmt.Errorf("unknown mapping set: %s", set)
	}
	return fs.Sub(root, string(set))
}

// ListFiles returns the file names of set.
func ListFiles(set Set) ([]string, error) {
	fsys, err := FS(set)
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read set %s: %w", set, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}

	return files, nil
}

// ReadFile reads a file of set.
func ReadFile(set Set, filename string) ([]byte, error) {
	fsys, err := FS(set)
	if err != nil {
		return nil, err
	}

	data, err := fs.ReadFile(fsys, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", set, filename, err)
	}

	return data, nil
}

// MustReadFile is ReadFile for tests and examples; it panics on error.
func MustReadFile(set Set, filename string) []byte {
	data, err := ReadFile(set, filename)
	if err != nil {
		panic(err)
	}
	return data
}

// HasFile checks if set contains filename.
func HasFile(set Set, filename string) bool {
	_, err := ReadFile(set, filename)
	return err == nil
}
