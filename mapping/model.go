package mapping

import (
	"strings"
)

// Extension modes of a mapping in an extension model.
const (
	ExtensionAdd       = "ADD"
	ExtensionAppend    = "APPEND"
	ExtensionOverwrite = "OVERWRITE"
)

// Condition operators.
const (
	OperatorOneOf = "one of"
	OperatorEmpty = "empty"
	OperatorNotOf = "not of"
)

// Placeholders used in mapping paths.
const (
	FHIRRoot         = "$fhirRoot"
	FHIRResource     = "$fhirResource"
	Resource         = "$resource"
	OpenEHRArchetype = "$openEhrArchetype"
	OpenEHRContext   = "$openEhrContext"
	OpenEHRRoot      = "$openehrRoot"
	ReferencePath    = "$reference"
	Composition      = "$composition"
)

// Model is a FHIR Connect model mapping: the mappings of one archetype.
type Model struct {
	Grammar  string   `yaml:"grammar,omitempty"`
	Type     string   `yaml:"type,omitempty"`
	Metadata Metadata `yaml:"metadata"`
	Spec     Spec     `yaml:"spec"`

	Mappings []*Mapping `yaml:"mappings,omitempty"`
}

// Metadata holds the descriptive header of a mapping document.
type Metadata struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version,omitempty"`
}

// Spec holds the configuration block of a model mapping.
type Spec struct {
	System      string         `yaml:"system,omitempty"`
	Version     string         `yaml:"version,omitempty"`
	ExtensionOf string         `yaml:"extensionOf,omitempty"`
	Extends     string         `yaml:"extends,omitempty"`
	FHIRConfig  *FHIRConfig    `yaml:"fhirConfig,omitempty"`
	OpenEHR     *OpenEHRConfig `yaml:"openEhrConfig,omitempty"`
}

// FHIRConfig binds a model mapping to a FHIR resource type.
type FHIRConfig struct {
	StructureDefinition string       `yaml:"structureDefinition"`
	Multiple            bool         `yaml:"multiple,omitempty"`
	Conditions          []*Condition `yaml:"condition,omitempty"`
}

// OpenEHRConfig binds a model mapping to an archetype.
type OpenEHRConfig struct {
	Archetype string `yaml:"archetype"`
	Revision  string `yaml:"revision,omitempty"`
}

// Mapping is one node of a mapping tree.
type Mapping struct {
	Name             string      `yaml:"name"`
	Extension        string      `yaml:"extension,omitempty"`
	AppendTo         string      `yaml:"appendTo,omitempty"`
	SlotArchetype    string      `yaml:"slotArchetype,omitempty"`
	With             *With       `yaml:"with,omitempty"`
	FHIRCondition    *Condition  `yaml:"fhirCondition,omitempty"`
	OpenEHRCondition *Condition  `yaml:"openehrCondition,omitempty"`
	FollowedBy       *FollowedBy `yaml:"followedBy,omitempty"`
	Reference        *Reference  `yaml:"reference,omitempty"`
	Manual           []*Manual   `yaml:"manual,omitempty"`
}

// With carries the paths a mapping connects.
type With struct {
	FHIR    string `yaml:"fhir,omitempty"`
	OpenEHR string `yaml:"openehr,omitempty"`
	Value   string `yaml:"value,omitempty"`
	Type    string `yaml:"type,omitempty"`
}

// FollowedBy holds child mappings evaluated relative to their parent.
type FollowedBy struct {
	Mappings []*Mapping `yaml:"mappings"`
}

// Reference maps a FHIR reference onto a separately created resource.
type Reference struct {
	ResourceType string     `yaml:"resourceType"`
	Mappings     []*Mapping `yaml:"mappings,omitempty"`
}

// Manual is shorthand for hard-coded sibling mappings.
type Manual struct {
	Name             string         `yaml:"name"`
	OpenEHR          []*ManualEntry `yaml:"openehr,omitempty"`
	FHIR             []*ManualEntry `yaml:"fhir,omitempty"`
	FHIRCondition    *Condition     `yaml:"fhirCondition,omitempty"`
	OpenEHRCondition *Condition     `yaml:"openehrCondition,omitempty"`
}

// ManualEntry is one hard-coded value at a path relative to the parent mapping.
type ManualEntry struct {
	Path  string `yaml:"path"`
	Value string `yaml:"value"`
}

// Condition restricts a mapping to the data it matches.
type Condition struct {
	TargetRoot       string   `yaml:"targetRoot"`
	TargetAttribute  string   `yaml:"targetAttribute,omitempty"`
	TargetAttributes []string `yaml:"targetAttributes,omitempty"`
	Operator         string   `yaml:"operator"`
	Criteria         string   `yaml:"criteria,omitempty"`
	Identifying      bool     `yaml:"identifying,omitempty"`
}

// Attributes returns the target attributes of c, single and list form combined.
func (c *Condition) Attributes() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, 1+len(c.TargetAttributes))
	if c.TargetAttribute != "" {
		out = append(out, c.TargetAttribute)
	}
	for _, a := range c.TargetAttributes {
		if a != "" && a != c.TargetAttribute {
			out = append(out, a)
		}
	}
	return out
}

// Context is a FHIR Connect context mapping.
type Context struct {
	Grammar  string      `yaml:"grammar,omitempty"`
	Type     string      `yaml:"type,omitempty"`
	Metadata Metadata    `yaml:"metadata"`
	Spec     ContextSpec `yaml:"context"`
}

// ContextSpec is the body of a context mapping.
type ContextSpec struct {
	Profile       *Profile   `yaml:"profile,omitempty"`
	Template      *Template  `yaml:"template,omitempty"`
	Archetypes    []string   `yaml:"archetypes,omitempty"`
	Extensions    []string   `yaml:"extensions,omitempty"`
	Start         string     `yaml:"start,omitempty"`
	FHIRCondition *Condition `yaml:"fhirCondition,omitempty"`
}

// Profile names the FHIR profile a context applies to.
type Profile struct {
	URL string `yaml:"url"`
}

// Template names the openEHR template a context applies to.
type Template struct {
	ID string `yaml:"id"`
}

// TemplateID returns the template id of the context or "".
func (c *Context) TemplateID() string {
	if c == nil || c.Spec.Template == nil {
		return ""
	}
	return c.Spec.Template.ID
}

// ResourceType returns the FHIR resource type of the context profile.
func (c *Context) ResourceType() string {
	if c == nil || c.Spec.Profile == nil {
		return ""
	}
	return ResourceTypeOf(c.Spec.Profile.URL)
}

// Name returns the metadata name of m.
func (m *Model) Name() string {
	if m == nil {
		return ""
	}
	return m.Metadata.Name
}

// Base returns the name of the model m extends, or "".
func (m *Model) Base() string {
	if m == nil {
		return ""
	}
	if m.Spec.ExtensionOf != "" {
		return m.Spec.ExtensionOf
	}
	return m.Spec.Extends
}

// Archetype returns the archetype id of m.
func (m *Model) Archetype() string {
	if m == nil || m.Spec.OpenEHR == nil {
		return ""
	}
	return m.Spec.OpenEHR.Archetype
}

// ResourceType returns the FHIR resource type of m.
func (m *Model) ResourceType() string {
	if m == nil || m.Spec.FHIRConfig == nil {
		return ""
	}
	return ResourceTypeOf(m.Spec.FHIRConfig.StructureDefinition)
}

// Multiple reports whether every matching resource maps to its own
// occurrence of the archetype.
func (m *Model) Multiple() bool {
	return m != nil && m.Spec.FHIRConfig != nil && m.Spec.FHIRConfig.Multiple
}

// Conditions returns the fhirConfig conditions of m.
func (m *Model) Conditions() []*Condition {
	if m == nil || m.Spec.FHIRConfig == nil {
		return nil
	}
	return m.Spec.FHIRConfig.Conditions
}

// Children returns the followedBy mappings of m.
func (m *Mapping) Children() []*Mapping {
	if m == nil || m.FollowedBy == nil {
		return nil
	}
	return m.FollowedBy.Mappings
}

// FHIR returns with.fhir or "".
func (m *Mapping) FHIR() string {
	if m == nil || m.With == nil {
		return ""
	}
	return m.With.FHIR
}

// OpenEHR returns with.openehr or "".
func (m *Mapping) OpenEHR() string {
	if m == nil || m.With == nil {
		return ""
	}
	return m.With.OpenEHR
}

// Value returns the hard-coded with.value or "".
func (m *Mapping) Value() string {
	if m == nil || m.With == nil {
		return ""
	}
	return m.With.Value
}

// TypeHint returns with.type or "".
func (m *Mapping) TypeHint() string {
	if m == nil || m.With == nil {
		return ""
	}
	return m.With.Type
}

// ResourceTypeOf strips a StructureDefinition canonical URL down to the
// resource type it profiles.
func ResourceTypeOf(url string) string {
	url = strings.TrimSpace(url)
	if i := strings.Index(url, "|"); i >= 0 {
		url = url[:i]
	}
	if i := strings.LastIndex(url, "/"); i >= 0 {
		url = url[i+1:]
	}
	return url
}
