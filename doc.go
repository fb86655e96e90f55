// Package openfhir translates clinical data between FHIR R4 resources and
// openEHR compositions.
//
// Translation is driven by FHIR Connect mapping documents rather than code:
// a context mapping binds an openEHR template to a FHIR resource type, and
// one model mapping per archetype describes how openEHR paths correspond to
// FHIRPath expressions. The same mapping set is used in both directions.
//
// # Quick Start
//
//	import (
//	    openfhir "github.com/vitagroupag/openFHIR-sub001"
//	    "github.com/vitagroupag/openFHIR-sub001/engine"
//	    "github.com/vitagroupag/openFHIR-sub001/pkg/loader"
//	)
//
//	store := loader.NewFS(os.DirFS("./mappings"))
//	eng, err := engine.New(store, store)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	flat, result, err := eng.ToOpenEHR(ctx, observationJSON, "Blood Pressure", true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer result.Release()
//	for _, issue := range result.Warnings() {
//	    fmt.Println(issue)
//	}
//
// # Directions
//
//   - FHIR to openEHR: the mapping tree is expanded into a helper tree whose
//     openEHR paths are resolved against the web template. FHIRPath
//     expressions are evaluated against the resource and each value is
//     written to a flat path. The flat map is returned as is or converted
//     into a canonical composition.
//   - openEHR to FHIR: flat keys drive iteration. Each repeating openEHR
//     element spawns one FHIR fragment and FHIR elements are instantiated
//     segment by segment from the mapping's FHIR expressions.
//
// # Functional Options
//
//	eng, err := engine.New(store, store,
//	    openfhir.WithDefaultLanguage("de"),
//	    openfhir.WithTemplateCacheSize(64),
//	    openfhir.WithStrictAppend(true),
//	)
//
// # Error Model
//
// Configuration problems (unknown template, missing context mapping) are
// returned as errors wrapping one of the sentinel errors in this package.
// Problems confined to a single mapping, such as a path that does not exist
// in the template, never abort a translation: the mapping is skipped and an
// Issue is recorded on the Result.
package openfhir
