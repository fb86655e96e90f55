package mapping

// Clone returns a deep copy of c.
func (c *Condition) Clone() *Condition {
	if c == nil {
		return nil
	}
	out := *c
	if c.TargetAttributes != nil {
		out.TargetAttributes = append([]string(nil), c.TargetAttributes...)
	}
	return &out
}

// Clone returns a deep copy of m.
func (m *Mapping) Clone() *Mapping {
	if m == nil {
		return nil
	}
	out := *m
	if m.With != nil {
		w := *m.With
		out.With = &w
	}
	out.FHIRCondition = m.FHIRCondition.Clone()
	out.OpenEHRCondition = m.OpenEHRCondition.Clone()
	if m.FollowedBy != nil {
		out.FollowedBy = &FollowedBy{Mappings: CloneAll(m.FollowedBy.Mappings)}
	}
	if m.Reference != nil {
		out.Reference = &Reference{
			ResourceType: m.Reference.ResourceType,
			Mappings:     CloneAll(m.Reference.Mappings),
		}
	}
	if m.Manual != nil {
		out.Manual = make([]*Manual, len(m.Manual))
		for i, man := range m.Manual {
			out.Manual[i] = man.clone()
		}
	}
	return &out
}

func (m *Manual) clone() *Manual {
	if m == nil {
		return nil
	}
	out := *m
	out.OpenEHR = cloneEntries(m.OpenEHR)
	out.FHIR = cloneEntries(m.FHIR)
	out.FHIRCondition = m.FHIRCondition.Clone()
	out.OpenEHRCondition = m.OpenEHRCondition.Clone()
	return &out
}

func cloneEntries(in []*ManualEntry) []*ManualEntry {
	if in == nil {
		return nil
	}
	out := make([]*ManualEntry, len(in))
	for i, e := range in {
		if e != nil {
			c := *e
			out[i] = &c
		}
	}
	return out
}

// CloneAll deep-copies a mapping list.
func CloneAll(in []*Mapping) []*Mapping {
	if in == nil {
		return nil
	}
	out := make([]*Mapping, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

// Clone returns a deep copy of m.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	out := *m
	if m.Spec.FHIRConfig != nil {
		fc := *m.Spec.FHIRConfig
		if fc.Conditions != nil {
			fc.Conditions = make([]*Condition, len(m.Spec.FHIRConfig.Conditions))
			for i, c := range m.Spec.FHIRConfig.Conditions {
				fc.Conditions[i] = c.Clone()
			}
		}
		out.Spec.FHIRConfig = &fc
	}
	if m.Spec.OpenEHR != nil {
		oc := *m.Spec.OpenEHR
		out.Spec.OpenEHR = &oc
	}
	out.Mappings = CloneAll(m.Mappings)
	return &out
}
