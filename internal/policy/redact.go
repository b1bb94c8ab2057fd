package policy

import id "lifetag/pkg/domain"

// RedactedField is one disclosed field as shown to the viewer.
type RedactedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Tier  Tier   `json:"tier"`
}

// RedactedProfile is the viewer-facing subset of a profile.
type RedactedProfile struct {
	ProfileID id.ProfileID    `json:"-"`
	Elevated  bool            `json:"elevated"`
	Fields    []RedactedField `json:"fields"`
}

// Redact copies only the fields in fields out of profile. A field that
// disappears between evaluation and redaction is skipped.
func Redact(profile Profile, fields FieldSet, elevated bool) RedactedProfile {
	out := RedactedProfile{
		ProfileID: profile.ProfileID(),
		Elevated:  elevated,
		Fields:    make([]RedactedField, 0, len(fields)),
	}
	for _, name := range fields.Names() {
		value, ok := profile.FieldValue(name)
		if !ok {
			continue
		}
		out.Fields = append(out.Fields, RedactedField{Name: name, Value: value, Tier: fields[name]})
	}
	return out
}

// Get returns the value of a disclosed field.
func (p RedactedProfile) Get(name string) (string, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Names lists disclosed field names in order.
func (p RedactedProfile) Names() []string {
	names := make([]string, len(p.Fields))
	for i, f := range p.Fields {
		names[i] = f.Name
	}
	return names
}
