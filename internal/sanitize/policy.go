package sanitize

import "strings"

// Policy selects the transform a field uses. It is attached to the field
// definition so the same field always sanitizes identically.
type Policy int

const (
	PolicyText Policy = iota
	PolicyEmail
	PolicyHTML
	PolicyNone
)

func (p Policy) String() string {
	switch p {
	case PolicyText:
		return "text"
	case PolicyEmail:
		return "email"
	case PolicyHTML:
		return "html"
	case PolicyNone:
		return "none"
	default:
		return "text"
	}
}

// ParsePolicy maps a policy name to its value. Unknown names fall back to
// PolicyText, the strictest plain-text transform.
func ParsePolicy(name string) Policy {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "email":
		return PolicyEmail
	case "html":
		return PolicyHTML
	case "none":
		return PolicyNone
	default:
		return PolicyText
	}
}

// Apply runs the policy's transform. maxLength only affects PolicyText.
func (p Policy) Apply(s string, maxLength int) string {
	switch p {
	case PolicyEmail:
		return Email(s)
	case PolicyHTML:
		return HTML(s)
	case PolicyNone:
		return s
	default:
		return FormInput(s, maxLength)
	}
}

type Field struct {
	Name      string
	Policy    Policy
	MaxLength int
}

// Form is an ordered set of field definitions.
type Form []Field

// Apply sanitizes every declared field present in values. Undeclared fields
// are dropped.
func (f Form) Apply(values map[string]string) map[string]string {
	out := make(map[string]string, len(f))
	for _, field := range f {
		v, ok := values[field.Name]
		if !ok {
			continue
		}
		out[field.Name] = field.Policy.Apply(v, field.MaxLength)
	}
	return out
}

func (f Form) Field(name string) (Field, bool) {
	for _, field := range f {
		if field.Name == name {
			return field, true
		}
	}
	return Field{}, false
}
